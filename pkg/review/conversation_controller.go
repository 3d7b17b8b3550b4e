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
	"database/sql"
	"time"

	"github.com/go-logr/logr"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/audit"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
)

// ScoringCallback posts the scoring result to a submitter-supplied
// answer_uri. Implemented by pkg/callback over a circuit-breaker-wrapped
// HTTP client; best-effort, never rolls back state (spec.md §4.5, §7).
type ScoringCallback interface {
	PostResult(ctx context.Context, answerURI string, passed bool, customMessage string) error
}

// AuditSink persists a durable record of a conversation reaching a
// terminal state (SPEC_FULL §D.2). It is a side effect, never a gate: a
// failure here is logged and otherwise ignored.
type AuditSink interface {
	Append(ctx context.Context, r audit.Record) error
}

// ConversationController implements the new/assign/score/expire flows
// and their broadcasts — spec.md §4.5. Grounded on
// original_source/.../server/controller/conversation.py.
type ConversationController struct {
	conversations *ConversationModel
	connections   *ConnectionModel
	notifier      Notifier
	callback      ScoringCallback
	audit         AuditSink
	metrics       *metrics.Metrics
	log           logr.Logger
}

// NewConversationController wires the conversation controller's
// dependencies. audit and m may be nil, which disables the
// terminal-outcome audit trail and/or assignment-expiry metrics
// respectively.
func NewConversationController(conversations *ConversationModel, connections *ConnectionModel, notifier Notifier, callback ScoringCallback, audit AuditSink, m *metrics.Metrics, log logr.Logger) *ConversationController {
	return &ConversationController{conversations: conversations, connections: connections, notifier: notifier, callback: callback, audit: audit, metrics: m, log: log}
}

func (c *ConversationController) recordAudit(ctx context.Context, r audit.Record) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Append(ctx, r); err != nil {
		c.log.Error(err, "failed to append audit record", "guid", r.GUID, "outcome", r.Outcome)
	}
}

// Pick is invited whenever a reviewer might be available to take work:
// after connect, after a score, after a dead-connection sweep, after an
// expired-review sweep. It pops one waiting reviewer and tries to assign
// them the earliest unassigned item. If assignment succeeds, the
// reviewer is sent the full item details. If the pool had a reviewer but
// no unassigned item remained, the reviewer is pushed back to the head
// of the pool (priority preserved, spec.md §9). Always ends with a
// status broadcast.
func (c *ConversationController) Pick(ctx context.Context) error {
	sid, err := c.connections.PopFromPool(ctx)
	if err != nil {
		return err
	}
	if sid == "" {
		c.log.V(1).Info("no connections available to assign the conversation to")
		return c.sendUpdate(ctx)
	}

	guid, err := c.conversations.AssignFree(ctx, sid)
	if err != nil {
		return err
	}
	if guid == "" {
		if err := c.connections.AddToPoolFront(ctx, sid); err != nil {
			return err
		}
		return c.sendUpdate(ctx)
	}

	c.log.Info("assigned conversation to connection", "guid", guid, "sid", sid)
	conversation, ok, err := c.conversations.GetConversation(ctx, guid)
	if err != nil {
		return err
	}
	if ok {
		c.notifier.EmitTo(ctx, sid, EventClientReviewUpdate, conversation.ToResponse())
	}
	return c.sendUpdate(ctx)
}

// NewConversation handles a submission: refuses (returns ok=false) if
// the guid is already known, guaranteeing submission idempotence;
// otherwise pushes the queue entry, stores the details, and invites a
// pick.
func (c *ConversationController) NewConversation(ctx context.Context, req ConversationReviewRequest) (bool, error) {
	_, exists, err := c.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return false, err
	}
	if exists {
		c.log.Error(nil, "conversation already exists", "guid", req.ConversationID)
		return false, nil
	}

	status := req.ToStatus()
	id, err := c.conversations.Push(ctx, &status)
	if err != nil {
		return false, err
	}
	req.ID = id
	if err := c.conversations.Add(ctx, req); err != nil {
		return false, err
	}
	return true, c.Pick(ctx)
}

// Score handles score_conversation: verifies the guid exists and is
// assigned to sid (otherwise logs and ignores, leaving state unchanged),
// then removes the work item, tells sid it's done, re-pools sid, invites
// the next pick, and only after all of that POSTs the result to
// answer_uri. The callback is fire-and-forget best-effort: its failure
// does not roll back the removal (spec.md §4.5, §5, §7).
func (c *ConversationController) Score(ctx context.Context, req ScoreConversationRequest, sid string) error {
	conversation, ok, err := c.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Error(nil, "conversation not found", "guid", req.ConversationID)
		return nil
	}

	assignment, err := c.conversations.GetAssignment(ctx, sid)
	if err != nil {
		return err
	}
	if assignment != req.ConversationID {
		c.log.Error(nil, "conversation is not assigned to sid", "guid", req.ConversationID, "sid", sid)
		return nil
	}

	if err := c.conversations.Remove(ctx, req.ConversationID, sid); err != nil {
		return err
	}
	c.notifier.EmitTo(ctx, sid, EventClientReviewDone, ReviewDoneResponse{Status: ReviewDone})
	if err := c.connections.AddToPool(ctx, sid); err != nil {
		return err
	}
	if err := c.Pick(ctx); err != nil {
		return err
	}

	c.log.Info("scored conversation", "guid", req.ConversationID, "passed", req.Passed)
	passed := req.Passed
	c.recordAudit(ctx, audit.Record{
		GUID:          req.ConversationID,
		ChallengeID:   conversation.ChallengeID,
		Outcome:       audit.OutcomeScored,
		ReviewerSID:   sid,
		Passed:        sql.NullBool{Bool: passed, Valid: true},
		CustomMessage: req.CustomMessage,
		OccurredAt:    time.Now(),
	})

	if err := c.callback.PostResult(ctx, conversation.AnswerURI, req.Passed, req.CustomMessage); err != nil {
		c.log.Error(err, "scoring callback failed", "guid", req.ConversationID, "answer_uri", conversation.AnswerURI)
		c.notifier.EmitTo(ctx, sid, EventClientServerError, ServerErrorResponse{ErrorMsg: "scoring callback failed"})
		return nil
	}
	c.log.Info("scoring callback completed", "answer_uri", conversation.AnswerURI)
	return nil
}

// DeadConnections unassigns the given dead reviewer sids' work items,
// broadcasts the resulting state, and invites a pick to reassign the
// freed items.
func (c *ConversationController) DeadConnections(ctx context.Context, deadSIDs []string) error {
	if err := c.conversations.UnassignReview(ctx, deadSIDs); err != nil {
		return err
	}
	if err := c.sendUpdate(ctx); err != nil {
		return err
	}
	return c.Pick(ctx)
}

// DeadReviews unassigns every expired assignment, tells each reviewer
// their review expired, re-pools any that are still alive, and invites
// a pick for each. Broadcasts once at the end if anything expired. An
// assignment that expires on a reviewer who is no longer alive — nobody
// left to reclaim it until the next pick finds it in the queue again —
// is recorded to the audit trail (SPEC_FULL §D.2); one that expires on a
// still-alive reviewer is a routine reassignment, not audited.
func (c *ConversationController) DeadReviews(ctx context.Context) error {
	expired, err := c.conversations.UnassignExpired(ctx)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	for _, ea := range expired {
		c.notifier.EmitTo(ctx, ea.SID, EventClientReviewDone, ReviewDoneResponse{Status: ReviewExpired})
		alive, err := c.connections.IsAlive(ctx, ea.SID)
		if err != nil {
			return err
		}
		if alive {
			if c.metrics != nil {
				c.metrics.AssignmentExpiredTotal.WithLabelValues(metrics.ReasonReviewerAlive).Inc()
			}
			if err := c.connections.AddToPool(ctx, ea.SID); err != nil {
				return err
			}
		} else {
			if c.metrics != nil {
				c.metrics.AssignmentExpiredTotal.WithLabelValues(metrics.ReasonReviewerDead).Inc()
			}
			challengeID := 0
			if conversation, ok, err := c.conversations.GetConversation(ctx, ea.GUID); err == nil && ok {
				challengeID = conversation.ChallengeID
			}
			c.recordAudit(ctx, audit.Record{
				GUID:        ea.GUID,
				ChallengeID: challengeID,
				Outcome:     audit.OutcomeExpired,
				ReviewerSID: ea.SID,
				OccurredAt:  time.Now(),
			})
		}
		if err := c.Pick(ctx); err != nil {
			return err
		}
	}
	return c.sendUpdate(ctx)
}

func (c *ConversationController) sendUpdate(ctx context.Context) error {
	count, err := c.connections.GetCount(ctx)
	if err != nil {
		return err
	}
	queue, err := c.conversations.GetQueue(ctx)
	if err != nil {
		return err
	}
	responses := make([]ConversationStatusResponse, 0, len(queue))
	for _, q := range queue {
		responses = append(responses, q.ToResponse())
	}
	status := CurrentStatusResponse{SessionCount: count, ConversationQueue: responses}
	c.log.Info("sending status update to all clients")
	c.notifier.Broadcast(ctx, EventClientStatusUpdate, status)
	return nil
}
