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

// Package http is the submission/introspection ingress: POST /api/score
// (spec.md §4.1, §6) and GET /api/queue (a read-only status surface the
// original didn't expose over HTTP, added here alongside the WebSocket
// push channel for polling consumers and operational debugging).
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

// Server holds the dependencies the ingress handlers need.
type Server struct {
	conv          *review.ConversationController
	conversations *review.ConversationModel
	connections   *review.ConnectionModel
	metrics       *metrics.Metrics
	log           logr.Logger
}

// NewServer builds the chi-routed HTTP ingress. scoringKey gates
// /api/score and /api/queue; validator enforces the embedded OpenAPI
// spec on recognized routes. validator and m may both be nil.
func NewServer(conv *review.ConversationController, conversations *review.ConversationModel, connections *review.ConnectionModel, scoringKey string, validator *OpenAPIValidator, m *metrics.Metrics, log logr.Logger) http.Handler {
	s := &Server{conv: conv, conversations: conversations, connections: connections, metrics: m, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "x-scoring-key"},
		AllowCredentials: false,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(scoringKeyAuth(scoringKey))
		if validator != nil {
			api.Use(validator.Middleware)
		}
		api.Post("/api/score", s.scoreHandler)
		api.Get("/api/queue", s.queueHandler)
	})

	return r
}
