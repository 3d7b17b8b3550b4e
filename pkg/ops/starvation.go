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

// Package ops posts operational alerts to Slack. It is not part of the
// dispatch path: it only watches tick outcomes for reviewer-pool
// starvation (SPEC_FULL §D.3) and never influences any dispatch
// decision.
package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
)

// StarvationNotifier implements review.StarvationObserver. It posts at
// most one Slack message per cooldown window, and only once the pool has
// come up empty with unassigned work on two consecutive ticks.
type StarvationNotifier struct {
	client   *slack.Client
	channel  string
	cooldown time.Duration
	log      logr.Logger

	mu            sync.Mutex
	consecutive   int
	lastAlertedAt time.Time
}

// NewStarvationNotifier builds a notifier posting to channel via a
// Slack bot token. An empty token disables posting (ObserveTick
// becomes a no-op besides logging), which is the default when no ops
// webhook is configured.
func NewStarvationNotifier(token, channel string, cooldown time.Duration, log logr.Logger) *StarvationNotifier {
	var client *slack.Client
	if token != "" {
		client = slack.New(token)
	}
	return &StarvationNotifier{client: client, channel: channel, cooldown: cooldown, log: log}
}

// ObserveTick is called once per sweep with the count of unassigned queue
// entries and whether the waiting pool was empty.
func (n *StarvationNotifier) ObserveTick(ctx context.Context, unassigned int, poolEmpty bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if unassigned == 0 || !poolEmpty {
		n.consecutive = 0
		return
	}
	n.consecutive++
	if n.consecutive < 2 {
		return
	}
	if time.Since(n.lastAlertedAt) < n.cooldown {
		return
	}
	n.lastAlertedAt = time.Now()

	msg := fmt.Sprintf("reviewer pool has been empty for two consecutive ticks with %d unassigned conversation(s) queued", unassigned)
	if n.client == nil {
		n.log.Info("ops alert suppressed: no slack token configured", "message", msg)
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(msg, false)); err != nil {
		n.log.Error(err, "failed to post starvation alert to slack")
	}
}
