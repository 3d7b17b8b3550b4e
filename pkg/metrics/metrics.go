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

// Package metrics holds the ambient observability surface for the
// dispatcher: queue depth, session count, assignment expiries, and
// callback outcomes. None of these gate a dispatch decision — spec.md §1
// scopes the scoring callback's business meaning out, and these gauges
// carry none of it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for CallbackTotal and SubmissionsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ExpiryReason label values for AssignmentExpiredTotal.
const (
	ReasonReviewerDead  = "reviewer_dead"
	ReasonReviewerAlive = "reviewer_alive"
)

// Metrics is the full set of collectors the dispatcher exposes. Construct
// one with NewWithRegistry; production wiring uses the default registerer
// via New.
type Metrics struct {
	QueueDepth             prometheus.Gauge
	UnassignedDepth        prometheus.Gauge
	SessionCount           prometheus.Gauge
	SubmissionsTotal       *prometheus.CounterVec
	AssignmentExpiredTotal *prometheus.CounterVec
	CallbackTotal          *prometheus.CounterVec
	CallbackDuration       prometheus.Histogram
	TickDuration           prometheus.Histogram
}

// New registers collectors against prometheus.DefaultRegisterer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors against reg, letting tests use an
// isolated *prometheus.Registry per the teacher's own per-test-registry
// convention (test/unit/gateway/middleware/http_metrics_test.go).
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "review_dispatcher_queue_depth",
			Help: "Total conversations currently in the work queue, assigned or not.",
		}),
		UnassignedDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "review_dispatcher_queue_unassigned_depth",
			Help: "Conversations currently in the work queue with no reviewer assigned.",
		}),
		SessionCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "review_dispatcher_session_count",
			Help: "Reviewer sessions currently known to be alive.",
		}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "review_dispatcher_submissions_total",
			Help: "Submission endpoint outcomes for bodies that passed validation: success (queued) or failure (duplicate or queueing error).",
		}, []string{"status"}),
		AssignmentExpiredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "review_dispatcher_assignment_expired_total",
			Help: "Assignment TTL expiries by whether the reviewer was still alive.",
		}, []string{"reason"}),
		CallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "review_dispatcher_callback_total",
			Help: "Scoring-result callback POST outcomes.",
		}, []string{"outcome"}),
		CallbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "review_dispatcher_callback_duration_seconds",
			Help:    "Latency of the POST to answer_uri.",
			Buckets: prometheus.DefBuckets,
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "review_dispatcher_tick_duration_seconds",
			Help:    "Wall-clock duration of one sweeper tick cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
