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
)

// HeartbeatTTL is how long a reviewer's liveness key survives without a
// heartbeat (spec.md §3, "HEARTBEAT_TTL").
const HeartbeatTTL = 7 * time.Second

// ConnectionModel is the reviewer liveness, session pool, and integrity
// sweep — spec.md §4.2. Grounded line-for-line on
// original_source/.../server/models/connection.py.
type ConnectionModel struct {
	kv  *kv.Client
	ttl time.Duration
}

// NewConnectionModel constructs a ConnectionModel with the given liveness
// TTL (HeartbeatTTL in production, overridden in tests).
func NewConnectionModel(kvc *kv.Client, ttl time.Duration) *ConnectionModel {
	return &ConnectionModel{kv: kvc, ttl: ttl}
}

// Increment registers sid as alive, atomically: bump the global counter,
// set the liveness key, join the session set, and push to the pool
// front. Returns the new counter value.
func (m *ConnectionModel) Increment(ctx context.Context, sid string) (int64, error) {
	return m.kv.IncrementConnection(ctx, sid, m.ttl)
}

// Extend refreshes sid's liveness TTL on heartbeat. Does not touch the
// pool.
func (m *ConnectionModel) Extend(ctx context.Context, sid string) error {
	return m.kv.ExtendConnection(ctx, sid, m.ttl)
}

// IsAlive reports whether sid's liveness key exists.
func (m *ConnectionModel) IsAlive(ctx context.Context, sid string) (bool, error) {
	return m.kv.IsAlive(ctx, sid)
}

// GetCount reads the global reviewer counter (0 if absent).
func (m *ConnectionModel) GetCount(ctx context.Context) (int64, error) {
	return m.kv.ConnectionCountValue(ctx)
}

// PoolLen returns the number of reviewers currently waiting in the pool.
func (m *ConnectionModel) PoolLen(ctx context.Context) (int64, error) {
	return m.kv.PoolLen(ctx)
}

// PopFromPool removes and returns the tail of the pool, "" when empty.
func (m *ConnectionModel) PopFromPool(ctx context.Context) (string, error) {
	return m.kv.PopFromPool(ctx)
}

// AddToPool pushes sid to the front of the pool: normal reentry after a
// finished review or a voluntary release. The most-recently-freed
// reviewer ends up picked last, since PopFromPool pops from the tail.
func (m *ConnectionModel) AddToPool(ctx context.Context, sid string) error {
	return m.kv.AddToPool(ctx, sid)
}

// AddToPoolFront pushes sid to the tail of the pool: the rollback path
// taken when pick() popped a reviewer but found no unassigned work. The
// name mirrors the original's; despite it, this is a tail push, which
// puts the reviewer next in line for the following pop. This inversion
// is an explicit, preserved asymmetry (spec.md §9).
func (m *ConnectionModel) AddToPoolFront(ctx context.Context, sid string) error {
	return m.kv.AddToPoolFront(ctx, sid)
}

// IntegrityResult is the return of Integrity.
type IntegrityResult struct {
	Changed     bool
	Count       int64
	RemovedSIDs []string
}

// Integrity scans the session set, removes entries whose liveness key
// expired (and their pool membership), and recomputes the counter. Safe
// to run concurrently with connects: removal is conditional per entry.
func (m *ConnectionModel) Integrity(ctx context.Context) (IntegrityResult, error) {
	data, err := m.kv.SessionSet(ctx)
	if err != nil {
		return IntegrityResult{}, err
	}
	if len(data) == 0 {
		if err := m.kv.SetConnectionCount(ctx, 0); err != nil {
			return IntegrityResult{}, err
		}
		return IntegrityResult{}, nil
	}

	count := int64(len(data))
	changed := false
	var removed []string

	for sid := range data {
		alive, err := m.kv.IsAlive(ctx, sid)
		if err != nil {
			return IntegrityResult{}, err
		}
		if alive {
			continue
		}
		if err := m.kv.RemoveFromSessionSet(ctx, sid); err != nil {
			return IntegrityResult{}, err
		}
		removed = append(removed, sid)
		count--
		changed = true
	}

	if err := m.kv.SetConnectionCount(ctx, count); err != nil {
		return IntegrityResult{}, err
	}
	return IntegrityResult{Changed: changed, Count: count, RemovedSIDs: removed}, nil
}
