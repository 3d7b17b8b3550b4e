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

// Package openapi embeds the submission surface's OpenAPI 3 document in
// the binary, so the spec the validator enforces can never drift from
// the one shipped (embedded spec, no path parameter needed at runtime).
package openapi

import (
	_ "embed"

	"github.com/getkin/kin-openapi/openapi3"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

//go:embed spec.yaml
var specYAML []byte

// Load parses and validates the embedded spec document.
func Load() (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(specYAML)
	if err != nil {
		return nil, rderrors.Wrap(err, "parse embedded openapi spec")
	}
	if err := doc.Validate(openapi3.NewLoader().Context); err != nil {
		return nil, rderrors.Wrap(err, "validate embedded openapi spec")
	}
	return doc, nil
}
