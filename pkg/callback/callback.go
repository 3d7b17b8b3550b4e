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

// Package callback posts the scoring result to a submitter-supplied
// answer_uri (spec.md §4.5, §6). The POST is best-effort and must never
// roll back dispatcher state on failure, so the outbound call is wrapped
// in a circuit breaker: once a submitter's callback endpoint starts
// failing consistently, further scoring calls stop paying the full HTTP
// timeout and fail fast instead.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/telemetry"
)

type resultBody struct {
	Passed        bool   `json:"passed"`
	CustomMessage string `json:"custom_message"`
}

// Poster posts scoring results to answer_uri, guarded by one circuit
// breaker per distinct host so one submitter's broken endpoint can't trip
// the breaker for everyone else.
type Poster struct {
	client     *http.Client
	scoringKey string
	metrics    *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Poster. scoringKey is sent as the x-scoring-key header on
// every callback, matching the header the submission endpoint requires
// (spec.md §6, same shared secret both ways). m may be nil, which
// disables callback metrics.
func New(scoringKey string, m *metrics.Metrics) *Poster {
	return &Poster{
		client:     &http.Client{Timeout: 10 * time.Second},
		scoringKey: scoringKey,
		metrics:    m,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (p *Poster) breakerFor(answerURI string) *gobreaker.CircuitBreaker {
	host := answerURI
	if u, err := url.Parse(answerURI); err == nil && u.Host != "" {
		host = u.Host
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scoring-callback:" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	p.breakers[host] = b
	return b
}

// PostResult posts {passed, custom_message} to answerURI with the shared
// scoring header. Non-2xx and transport errors both count as circuit
// breaker failures and are returned to the caller to log; the caller
// must not roll back state on error (spec.md §4.5, §7).
func (p *Poster) PostResult(ctx context.Context, answerURI string, passed bool, customMessage string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "callback.PostResult")
	span.SetAttributes(attribute.String("review.answer_uri", answerURI))
	defer span.End()

	start := time.Now()
	body, err := json.Marshal(resultBody{Passed: passed, CustomMessage: customMessage})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal scoring result")
		return rderrors.Wrap(err, "marshal scoring result")
	}

	breaker := p.breakerFor(answerURI)
	_, err = breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, answerURI, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-scoring-key", p.scoringKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, rderrors.Errorf("scoring callback returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if p.metrics != nil {
		p.metrics.CallbackDuration.Observe(time.Since(start).Seconds())
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		p.metrics.CallbackTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		wrapped := rderrors.Wrap(err, "post scoring result")
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, "post scoring result failed")
		return wrapped
	}
	return nil
}
