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

// Package audit persists a durable record of every conversation that
// reaches a terminal state (SPEC_FULL §D.2). It is a side effect of
// dispatch, never a gate on it: writes happen after the KV-store mutation
// that ends a conversation's life has already committed.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

// Outcome is how a conversation's review ended.
type Outcome string

const (
	OutcomeScored  Outcome = "scored"
	OutcomeExpired Outcome = "expired"
)

// Record is one terminal-outcome row.
type Record struct {
	GUID          string      `db:"guid"`
	ChallengeID   int         `db:"challenge_id"`
	Outcome       Outcome     `db:"outcome"`
	ReviewerSID   string      `db:"reviewer_sid"`
	Passed        sql.NullBool `db:"passed"`
	CustomMessage string      `db:"custom_message"`
	OccurredAt    time.Time   `db:"occurred_at"`
}

// Store is the audit trail's write path. Reads are not part of this
// service's contract (spec.md explicit non-goals exclude reporting UIs);
// Store exists to persist, not to serve.
type Store struct {
	db *sqlx.DB
}

// Open wraps an existing *sql.DB (created with the pgx stdlib driver) in
// a Store.
func Open(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

const insertRecord = `
INSERT INTO conversation_audit
	(guid, challenge_id, outcome, reviewer_sid, passed, custom_message, occurred_at)
VALUES
	(:guid, :challenge_id, :outcome, :reviewer_sid, :passed, :custom_message, :occurred_at)
ON CONFLICT (guid, occurred_at) DO NOTHING
`

// Append writes one terminal-outcome record. Best-effort from the
// dispatcher's point of view: a failure here is logged by the caller and
// never unwinds the dispatch state that already changed.
func (s *Store) Append(ctx context.Context, r Record) error {
	_, err := s.db.NamedExecContext(ctx, insertRecord, r)
	if err != nil {
		return rderrors.Wrap(err, "append audit record")
	}
	return nil
}
