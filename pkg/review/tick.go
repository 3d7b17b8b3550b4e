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

package review

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
)

// TickInterval is the sweeper's schedule (spec.md §4.6, "TICK_INTERVAL").
const TickInterval = 5 * time.Second

// StarvationObserver is called once per sweep with the number of
// unassigned queue entries and whether the waiting pool is empty. It is
// the hook pkg/ops uses to alert on reviewer-pool starvation (SPEC_FULL
// §D.3); a nil observer disables the signal.
type StarvationObserver interface {
	ObserveTick(ctx context.Context, unassigned int, poolEmpty bool)
}

// Ticker runs the periodic sweep: dead_reviews, then dead_connections,
// then (if dead reviewers were produced) Conversation.dead_connections —
// spec.md §4.6. Exactly one worker runs this, enforced by the
// distributed lock held for the worker's lifetime (spec.md §5); Ticker
// itself assumes it is already that worker and just runs the loop.
type Ticker struct {
	connectionCtl  *ConnectionController
	conversationCtl *ConversationController
	conversations  *ConversationModel
	connections    *ConnectionModel
	interval       time.Duration
	log            logr.Logger
	observer       StarvationObserver
	metrics        *metrics.Metrics
}

// NewTicker wires the sweeper's dependencies. m may be nil, disabling
// tick-cycle metrics.
func NewTicker(connectionCtl *ConnectionController, conversationCtl *ConversationController, conversations *ConversationModel, connections *ConnectionModel, interval time.Duration, log logr.Logger, observer StarvationObserver, m *metrics.Metrics) *Ticker {
	return &Ticker{
		connectionCtl:   connectionCtl,
		conversationCtl: conversationCtl,
		conversations:   conversations,
		connections:     connections,
		interval:        interval,
		log:             log,
		observer:        observer,
		metrics:         m,
	}
}

// Run executes one sweep cycle every interval until ctx is done.
func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.sweep(ctx); err != nil {
				t.log.Error(err, "tick sweep failed")
			}
		}
	}
}

func (t *Ticker) sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if t.metrics != nil {
			t.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := t.conversationCtl.DeadReviews(ctx); err != nil {
		return err
	}

	deadSIDs, err := t.connectionCtl.DeadConnections(ctx)
	if err != nil {
		return err
	}
	if len(deadSIDs) > 0 {
		if err := t.conversationCtl.DeadConnections(ctx, deadSIDs); err != nil {
			return err
		}
	}

	if t.observer == nil && t.metrics == nil {
		return nil
	}

	queue, err := t.conversations.GetQueue(ctx)
	if err != nil {
		return err
	}
	count, err := t.connections.GetCount(ctx)
	if err != nil {
		return err
	}
	unassigned := 0
	for _, c := range queue {
		if c.AssignedTo == "" {
			unassigned++
		}
	}

	if t.metrics != nil {
		t.metrics.QueueDepth.Set(float64(len(queue)))
		t.metrics.UnassignedDepth.Set(float64(unassigned))
		t.metrics.SessionCount.Set(float64(count))
	}
	if t.observer != nil {
		poolLen, err := t.connections.PoolLen(ctx)
		if err != nil {
			return err
		}
		t.observer.ObserveTick(ctx, unassigned, poolLen == 0)
	}
	return nil
}
