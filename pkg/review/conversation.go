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

	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kvlock"
	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

// AssignTTL is the per-assignment review window (spec.md §3,
// "ASSIGN_TTL").
const AssignTTL = 60 * time.Second

// ActivityBonus is the extension an activity signal grants, capped at
// AssignTTL (spec.md §3, "ACTIVITY_BONUS").
const ActivityBonus = 6 * time.Second

// ConversationModel is the work queue, per-assignment TTL, and details
// store — spec.md §4.3. Grounded line-for-line on
// original_source/.../server/models/conversation.py. Every mutating
// operation here acquires the distributed lock for the duration of its
// read-modify-write on the list-shaped queue (spec.md §5).
type ConversationModel struct {
	kv            *kv.Client
	lock          *kvlock.Lock
	assignTTL     time.Duration
	activityBonus time.Duration
}

// NewConversationModel constructs a ConversationModel over kvc, guarded
// by lock, using assignTTL/activityBonus (AssignTTL/ActivityBonus in
// production, overridden in tests).
func NewConversationModel(kvc *kv.Client, lock *kvlock.Lock, assignTTL, activityBonus time.Duration) *ConversationModel {
	return &ConversationModel{kv: kvc, lock: lock, assignTTL: assignTTL, activityBonus: activityBonus}
}

func (m *ConversationModel) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.lock.Acquire(ctx); err != nil {
		return rderrors.Wrap(err, "acquire conversation lock")
	}
	defer m.lock.Release(ctx)
	return fn(ctx)
}

// Push allocates the next monotonic id, sets it on item, and appends the
// serialized entry to the tail of the queue. Returns the new id.
func (m *ConversationModel) Push(ctx context.Context, item *ConversationStatus) (int64, error) {
	var id int64
	err := m.withLock(ctx, func(ctx context.Context) error {
		var err error
		id, err = m.kv.IncrConversationCount(ctx)
		if err != nil {
			return err
		}
		item.ID = id
		payload, err := item.MarshalToJSON()
		if err != nil {
			return rderrors.Wrap(err, "marshal conversation status")
		}
		return m.kv.RPushQueue(ctx, payload)
	})
	return id, err
}

// Add stores the conversation details blob keyed by guid.
func (m *ConversationModel) Add(ctx context.Context, details ConversationReviewRequest) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		payload, err := details.MarshalToJSON()
		if err != nil {
			return rderrors.Wrap(err, "marshal conversation details")
		}
		return m.kv.SetDetails(ctx, details.ConversationID, payload)
	})
}

func (m *ConversationModel) getQueueLocked(ctx context.Context) ([]ConversationStatus, error) {
	raw, err := m.kv.LRangeQueue(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationStatus, 0, len(raw))
	for _, s := range raw {
		c, err := ConversationStatusFromJSON(s)
		if err != nil {
			return nil, rderrors.Wrap(err, "unmarshal conversation status")
		}
		out = append(out, c)
	}
	return out, nil
}

// AssignFree finds the first unassigned queue entry (FIFO), sets its
// assigned_to to sid, and records the assignment map entry and TTL key
// atomically with the queue rewrite. Returns the guid it assigned, or ""
// if every entry was already assigned.
func (m *ConversationModel) AssignFree(ctx context.Context, sid string) (string, error) {
	var guid string
	err := m.withLock(ctx, func(ctx context.Context) error {
		queue, err := m.getQueueLocked(ctx)
		if err != nil {
			return err
		}
		for i, c := range queue {
			if c.AssignedTo != "" {
				continue
			}
			c.AssignedTo = sid
			payload, err := c.MarshalToJSON()
			if err != nil {
				return rderrors.Wrap(err, "marshal conversation status")
			}
			if err := m.kv.ApplyQueueMutation(ctx, kv.QueueMutation{
				Index:         int64(i),
				Payload:       payload,
				SetAssignment: kv.NewAssignmentWrite(sid, c.GUID, m.assignTTL),
			}); err != nil {
				return err
			}
			guid = c.GUID
			return nil
		}
		return nil
	})
	return guid, err
}

// GetAssignment returns the guid currently assigned to sid, "" if none.
func (m *ConversationModel) GetAssignment(ctx context.Context, sid string) (string, error) {
	return m.kv.GetAssignment(ctx, sid)
}

// GetTime returns the remaining seconds on sid's assignment TTL key, 0 if
// absent or expired.
func (m *ConversationModel) GetTime(ctx context.Context, sid string) (time.Duration, error) {
	return m.kv.AssignmentTTLRemaining(ctx, sid)
}

// EarnBonus extends sid's assignment TTL by activityBonus, clamped to
// assignTTL. Returns the new TTL, or 0 if sid has no assignment TTL key.
func (m *ConversationModel) EarnBonus(ctx context.Context, sid string) (time.Duration, error) {
	var newTTL time.Duration
	err := m.withLock(ctx, func(ctx context.Context) error {
		ttl, err := m.kv.AssignmentTTLRemaining(ctx, sid)
		if err != nil {
			return err
		}
		if ttl <= 0 {
			return nil
		}
		newTTL = ttl + m.activityBonus
		if newTTL > m.assignTTL {
			newTTL = m.assignTTL
		}
		return m.kv.ExpireAssignmentTTL(ctx, sid, newTTL)
	})
	return newTTL, err
}

// UnassignReview clears assigned_to for every queue entry whose
// assigned_to is in sids, deleting the corresponding assignment map and
// TTL entries. Used for dead reviewers.
func (m *ConversationModel) UnassignReview(ctx context.Context, sids []string) error {
	if len(sids) == 0 {
		return nil
	}
	dead := make(map[string]bool, len(sids))
	for _, s := range sids {
		dead[s] = true
	}
	return m.withLock(ctx, func(ctx context.Context) error {
		queue, err := m.getQueueLocked(ctx)
		if err != nil {
			return err
		}
		for i, c := range queue {
			if !dead[c.AssignedTo] {
				continue
			}
			sid := c.AssignedTo
			c.AssignedTo = ""
			payload, err := c.MarshalToJSON()
			if err != nil {
				return rderrors.Wrap(err, "marshal conversation status")
			}
			if err := m.kv.ApplyQueueMutation(ctx, kv.QueueMutation{
				Index:           int64(i),
				Payload:         payload,
				ClearAssignment: sid,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExpiredAssignment names one assignment that UnassignExpired reclaimed:
// the reviewer sid that lost it and the guid it was holding.
type ExpiredAssignment struct {
	SID  string
	GUID string
}

// UnassignExpired clears assigned_to for every queue entry whose
// assignment TTL key has expired, deleting the assignment map and TTL
// entries. Returns the reviewer sid/guid pairs that were reclaimed.
func (m *ConversationModel) UnassignExpired(ctx context.Context) ([]ExpiredAssignment, error) {
	var expired []ExpiredAssignment
	err := m.withLock(ctx, func(ctx context.Context) error {
		queue, err := m.getQueueLocked(ctx)
		if err != nil {
			return err
		}
		for i, c := range queue {
			if c.AssignedTo == "" {
				continue
			}
			ttl, err := m.kv.AssignmentTTLRemaining(ctx, c.AssignedTo)
			if err != nil {
				return err
			}
			if ttl > 0 {
				continue
			}
			sid := c.AssignedTo
			guid := c.GUID
			c.AssignedTo = ""
			payload, err := c.MarshalToJSON()
			if err != nil {
				return rderrors.Wrap(err, "marshal conversation status")
			}
			if err := m.kv.ApplyQueueMutation(ctx, kv.QueueMutation{
				Index:           int64(i),
				Payload:         payload,
				ClearAssignment: sid,
			}); err != nil {
				return err
			}
			expired = append(expired, ExpiredAssignment{SID: sid, GUID: guid})
		}
		return nil
	})
	return expired, err
}

// Remove deletes the queue entry matching guid, its details blob, and
// sid's assignment map and TTL entries. Used on scoring completion.
func (m *ConversationModel) Remove(ctx context.Context, guid, sid string) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		queue, err := m.getQueueLocked(ctx)
		if err != nil {
			return err
		}
		for _, c := range queue {
			if c.GUID != guid {
				continue
			}
			payload, err := c.MarshalToJSON()
			if err != nil {
				return rderrors.Wrap(err, "marshal conversation status")
			}
			return m.kv.RemoveQueueEntry(ctx, payload, guid, sid)
		}
		return nil
	})
}

// GetConversation returns the details blob for guid, ok=false if absent.
func (m *ConversationModel) GetConversation(ctx context.Context, guid string) (ConversationReviewRequest, bool, error) {
	raw, err := m.kv.GetDetails(ctx, guid)
	if err != nil {
		return ConversationReviewRequest{}, false, err
	}
	if raw == "" {
		return ConversationReviewRequest{}, false, nil
	}
	r, err := ConversationReviewRequestFromJSON(raw)
	if err != nil {
		return ConversationReviewRequest{}, false, rderrors.Wrap(err, "unmarshal conversation details")
	}
	return r, true, nil
}

// GetQueue returns the full queue snapshot.
func (m *ConversationModel) GetQueue(ctx context.Context) ([]ConversationStatus, error) {
	var queue []ConversationStatus
	err := m.withLock(ctx, func(ctx context.Context) error {
		var err error
		queue, err = m.getQueueLocked(ctx)
		return err
	})
	return queue, err
}
