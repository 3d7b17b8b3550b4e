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
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/codes"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/telemetry"
)

var bodyValidator = validator.New()

// scoreHandler decodes and validates a submission, rejecting the
// conversation/picture combinations the original forbids (spec.md §4.1,
// §6), then queues it through the conversation controller.
func (s *Server) scoreHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "http.scoreHandler")
	defer span.End()
	r = r.WithContext(ctx)

	var req review.ConversationReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Info("scoring request denied due to malformed body", "error", err.Error())
		span.SetStatus(codes.Error, "malformed body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	telemetry.WithGUID(span, req.ConversationID)

	if err := bodyValidator.Struct(req); err != nil {
		s.log.Info("scoring request denied due to field validation", "error", err.Error())
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hasConversation := len(req.Conversation) > 0
	hasPicture := req.Picture != ""
	if hasConversation == hasPicture {
		s.log.Info("scoring request denied: exactly one of conversation or picture is required")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if hasConversation && req.Document == "" {
		s.log.Info("scoring request denied due to missing field: document")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ok, err := s.conv.NewConversation(r.Context(), req)
	if err != nil {
		s.log.Error(err, "failed to queue conversation", "guid", req.ConversationID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "queue conversation failed")
		if s.metrics != nil {
			s.metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		span.SetStatus(codes.Error, "duplicate conversation_id")
		if s.metrics != nil {
			s.metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		}
		w.WriteHeader(http.StatusConflict)
		return
	}

	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}
	w.Write([]byte("OK"))
}

// queueHandler returns a read-only snapshot of the current queue and
// reviewer session count.
func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	queue, err := s.conversations.GetQueue(r.Context())
	if err != nil {
		s.log.Error(err, "failed to read queue")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	count, err := s.connections.GetCount(r.Context())
	if err != nil {
		s.log.Error(err, "failed to read session count")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	responses := make([]review.ConversationStatusResponse, 0, len(queue))
	for _, c := range queue {
		responses = append(responses, c.ToResponse())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(review.CurrentStatusResponse{
		SessionCount:      count,
		ConversationQueue: responses,
	})
}
