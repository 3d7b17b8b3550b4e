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

package http

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-logr/logr"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/ingress/http/openapi"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
)

// problemDetail is an RFC 7807 problem+json body, the shape the teacher's
// datastorage validator uses for request validation failures.
type problemDetail struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problemDetail{Title: title, Status: status, Detail: detail})
}

// OpenAPIValidator validates inbound requests against the embedded
// submission spec before the handler chain runs. A request for a path
// the spec doesn't describe (a websocket upgrade hitting the same mux,
// or a future unversioned endpoint) is passed through unchanged.
type OpenAPIValidator struct {
	router  routers.Router
	log     logr.Logger
	metrics *metrics.Metrics
}

// NewOpenAPIValidator loads the embedded spec and builds its router. m
// may be nil, which disables validation-outcome metrics.
func NewOpenAPIValidator(log logr.Logger, m *metrics.Metrics) (*OpenAPIValidator, error) {
	doc, err := openapi.Load()
	if err != nil {
		return nil, err
	}
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, err
	}
	return &OpenAPIValidator{router: router, log: log, metrics: m}, nil
}

// Middleware enforces the embedded spec on every request it recognizes.
// The spec's security requirement is accepted without a check here: the
// scoring key itself is verified by scoringKeyAuth ahead of this
// middleware.
func (v *OpenAPIValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		var bodyBytes []byte
		if r.Body != nil {
			bodyBytes, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		validationReq := r.Clone(r.Context())
		validationReq.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		input := &openapi3filter.RequestValidationInput{
			Request:    validationReq,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			v.log.Info("openapi validation failed", "path", r.URL.Path, "error", err.Error())
			writeProblem(w, http.StatusBadRequest, "request failed schema validation", err.Error())
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		next.ServeHTTP(w, r)
	})
}

// scoringKeyAuth rejects requests lacking the shared x-scoring-key
// header matching key, spec.md §6/§7. Comparison is constant-time to
// avoid leaking the key through response-timing side channels.
func scoringKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("x-scoring-key")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
