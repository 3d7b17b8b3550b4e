/*
Copyright 2026 AI Red Teaming Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration embedded in this package
// to db. Called once at process startup, before the audit store is used.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return rderrors.Wrap(err, "set goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return rderrors.Wrap(err, "apply audit migrations")
	}
	return nil
}
