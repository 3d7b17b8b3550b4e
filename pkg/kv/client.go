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

// Package kv wraps go-redis with the small, typed vocabulary the review
// models are built from: atomic pipelines, TTL-backed keys, hash-set
// membership, and list-shaped queues/pools. It carries no business logic.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/telemetry"
)

// startSpan opens a span named "kv.<op>" under the package tracer and
// returns it alongside the span-scoped context; callers defer span.End()
// and record the operation's error, if any, before returning.
func startSpan(ctx context.Context, op string) (context.Context, func(err error)) {
	ctx, span := telemetry.Tracer().Start(ctx, "kv."+op)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Client is a thin typed wrapper over *redis.Client.
type Client struct {
	rdb *redis.Client
}

// New dials a KV store at the given URL (a redis:// connection string).
func New(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, rderrors.Wrap(err, "parse kv store url")
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-constructed *redis.Client. Used by tests
// to plug in a miniredis-backed client.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Raw exposes the underlying go-redis client for packages (the distributed
// lock, in particular) that need primitives this wrapper doesn't cover.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Ping verifies connectivity at startup.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// IncrementConnection runs connection.go's `increment` pipeline: bump the
// global counter, set the liveness key with TTL, add to the session set,
// and push the sid to the front of the pool. Returns the new counter.
func (c *Client) IncrementConnection(ctx context.Context, sid string, livenessTTL time.Duration) (count int64, err error) {
	ctx, end := startSpan(ctx, "IncrementConnection")
	telemetry.WithSID(trace.SpanFromContext(ctx), sid)
	defer func() { end(err) }()

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, ConnectionCount)
	pipe.Set(ctx, ConnectionLivenessKey(sid), 1, livenessTTL)
	pipe.HSet(ctx, ConnectionSet, sid, 1)
	pipe.LPush(ctx, ConnectionPool, sid)
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		err = rderrors.Wrap(execErr, "increment connection")
		return 0, err
	}
	return incr.Val(), nil
}

// ExtendConnection refreshes the liveness TTL and re-asserts set
// membership. Does not touch the pool.
func (c *Client) ExtendConnection(ctx context.Context, sid string, livenessTTL time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, ConnectionLivenessKey(sid), 1, livenessTTL)
	pipe.HSet(ctx, ConnectionSet, sid, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return rderrors.Wrap(err, "extend connection")
	}
	return nil
}

// IsAlive reports whether sid's liveness key exists.
func (c *Client) IsAlive(ctx context.Context, sid string) (bool, error) {
	err := c.rdb.Get(ctx, ConnectionLivenessKey(sid)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, rderrors.Wrap(err, "check connection liveness")
	}
	return true, nil
}

// ConnectionCountValue reads the global counter, 0 if absent.
func (c *Client) ConnectionCountValue(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, ConnectionCount).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, rderrors.Wrap(err, "read connection count")
	}
	return v, nil
}

// SetConnectionCount overwrites the global counter (used by integrity).
func (c *Client) SetConnectionCount(ctx context.Context, n int64) error {
	return rderrors.Wrap(c.rdb.Set(ctx, ConnectionCount, n, 0).Err(), "set connection count")
}

// PopFromPool removes and returns the tail of the pool (RPOP), or "" when
// empty.
func (c *Client) PopFromPool(ctx context.Context) (string, error) {
	v, err := c.rdb.RPop(ctx, ConnectionPool).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", rderrors.Wrap(err, "pop from pool")
	}
	return v, nil
}

// AddToPool pushes sid to the front of the pool (LPUSH) — normal reentry,
// most-recently-available gets picked last (see spec §4.2/§9 asymmetry).
func (c *Client) AddToPool(ctx context.Context, sid string) error {
	return rderrors.Wrap(c.rdb.LPush(ctx, ConnectionPool, sid).Err(), "add to pool")
}

// AddToPoolFront pushes sid to the tail of the pool (RPUSH) despite its
// name — this is the rollback path, and since PopFromPool pops from the
// tail, a tail push is what puts a reviewer next in line. This inversion
// is intentional; see spec §9 and DESIGN.md.
func (c *Client) AddToPoolFront(ctx context.Context, sid string) error {
	return rderrors.Wrap(c.rdb.RPush(ctx, ConnectionPool, sid).Err(), "add to pool front")
}

// PoolLen returns the number of reviewers currently waiting in the pool.
func (c *Client) PoolLen(ctx context.Context) (int64, error) {
	v, err := c.rdb.LLen(ctx, ConnectionPool).Result()
	if err != nil {
		return 0, rderrors.Wrap(err, "read pool length")
	}
	return v, nil
}

// SessionSet returns the full connection.set hash, sid -> marker value.
func (c *Client) SessionSet(ctx context.Context) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, ConnectionSet).Result()
	if err != nil {
		return nil, rderrors.Wrap(err, "read session set")
	}
	return m, nil
}

// RemoveFromSessionSet deletes sid from the session set and from the pool.
func (c *Client) RemoveFromSessionSet(ctx context.Context, sid string) error {
	if err := c.rdb.HDel(ctx, ConnectionSet, sid).Err(); err != nil {
		return rderrors.Wrap(err, "remove from session set")
	}
	if err := c.rdb.LRem(ctx, ConnectionPool, 0, sid).Err(); err != nil {
		return rderrors.Wrap(err, "remove from pool")
	}
	return nil
}

// IncrConversationCount allocates the next monotonic conversation id.
func (c *Client) IncrConversationCount(ctx context.Context) (int64, error) {
	v, err := c.rdb.Incr(ctx, ConversationCount).Result()
	if err != nil {
		return 0, rderrors.Wrap(err, "increment conversation count")
	}
	return v, nil
}

// RPushQueue appends a serialized queue entry to the tail of the queue.
func (c *Client) RPushQueue(ctx context.Context, payload string) error {
	return rderrors.Wrap(c.rdb.RPush(ctx, ConversationQueue, payload).Err(), "push conversation queue")
}

// LRangeQueue returns the full queue snapshot, oldest first.
func (c *Client) LRangeQueue(ctx context.Context) ([]string, error) {
	v, err := c.rdb.LRange(ctx, ConversationQueue, 0, -1).Result()
	if err != nil {
		return nil, rderrors.Wrap(err, "read conversation queue")
	}
	return v, nil
}

// LSetQueue rewrites the queue entry at index i in place.
func (c *Client) LSetQueue(ctx context.Context, i int64, payload string) error {
	return rderrors.Wrap(c.rdb.LSet(ctx, ConversationQueue, i, payload).Err(), "rewrite conversation queue entry")
}

// LRemQueue removes the first queue entry matching payload exactly.
func (c *Client) LRemQueue(ctx context.Context, payload string) error {
	return rderrors.Wrap(c.rdb.LRem(ctx, ConversationQueue, 1, payload).Err(), "remove conversation queue entry")
}

// SetDetails stores the conversation details blob keyed by guid.
func (c *Client) SetDetails(ctx context.Context, guid, payload string) error {
	return rderrors.Wrap(c.rdb.Set(ctx, ConversationDetailsKey(guid), payload, 0).Err(), "set conversation details")
}

// GetDetails returns the details blob for guid, "" if absent.
func (c *Client) GetDetails(ctx context.Context, guid string) (string, error) {
	v, err := c.rdb.Get(ctx, ConversationDetailsKey(guid)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", rderrors.Wrap(err, "read conversation details")
	}
	return v, nil
}

// DeleteDetails removes the details blob for guid.
func (c *Client) DeleteDetails(ctx context.Context, guid string) error {
	return rderrors.Wrap(c.rdb.Del(ctx, ConversationDetailsKey(guid)).Err(), "delete conversation details")
}

// SetAssignment records sid -> guid in the assignment map.
func (c *Client) SetAssignment(ctx context.Context, sid, guid string) error {
	return rderrors.Wrap(c.rdb.HSet(ctx, ConversationAssignment, sid, guid).Err(), "set assignment")
}

// GetAssignment returns the guid assigned to sid, "" if none.
func (c *Client) GetAssignment(ctx context.Context, sid string) (string, error) {
	v, err := c.rdb.HGet(ctx, ConversationAssignment, sid).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", rderrors.Wrap(err, "read assignment")
	}
	return v, nil
}

// DeleteAssignment removes sid's assignment map entry.
func (c *Client) DeleteAssignment(ctx context.Context, sid string) error {
	return rderrors.Wrap(c.rdb.HDel(ctx, ConversationAssignment, sid).Err(), "delete assignment")
}

// SetAssignmentTTL sets the per-reviewer TTL key to guid with the given
// expiry.
func (c *Client) SetAssignmentTTL(ctx context.Context, sid, guid string, ttl time.Duration) error {
	return rderrors.Wrap(c.rdb.Set(ctx, ConversationTTLKey(sid), guid, ttl).Err(), "set assignment ttl")
}

// DeleteAssignmentTTL removes sid's TTL key.
func (c *Client) DeleteAssignmentTTL(ctx context.Context, sid string) error {
	return rderrors.Wrap(c.rdb.Del(ctx, ConversationTTLKey(sid)).Err(), "delete assignment ttl")
}

// AssignmentTTLRemaining returns the remaining seconds on sid's TTL key, 0
// if absent or already expired.
func (c *Client) AssignmentTTLRemaining(ctx context.Context, sid string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, ConversationTTLKey(sid)).Result()
	if err != nil {
		return 0, rderrors.Wrap(err, "read assignment ttl")
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// ExpireAssignmentTTL rewrites sid's TTL key expiry (used by earn_bonus).
func (c *Client) ExpireAssignmentTTL(ctx context.Context, sid string, ttl time.Duration) error {
	return rderrors.Wrap(c.rdb.Expire(ctx, ConversationTTLKey(sid), ttl).Err(), "extend assignment ttl")
}

// QueueMutation describes the lset + assignment-map + ttl writes of
// assign_free/unassign_review/unassign_expired, which ApplyQueueMutation
// runs as one pipeline.
type QueueMutation struct {
	Index          int64
	Payload        string
	SetAssignment  *assignmentWrite
	ClearAssignment string // sid to delete from the assignment map / ttl key, if non-empty
}

type assignmentWrite struct {
	SID string
	GUID string
	TTL time.Duration
}

// NewAssignmentWrite builds the SetAssignment half of a QueueMutation.
func NewAssignmentWrite(sid, guid string, ttl time.Duration) *assignmentWrite {
	return &assignmentWrite{SID: sid, GUID: guid, TTL: ttl}
}

// ApplyQueueMutation rewrites the queue entry at m.Index and, in the same
// pipeline, either sets a fresh assignment+TTL or clears an existing one.
func (c *Client) ApplyQueueMutation(ctx context.Context, m QueueMutation) (err error) {
	ctx, end := startSpan(ctx, "ApplyQueueMutation")
	span := trace.SpanFromContext(ctx)
	if m.SetAssignment != nil {
		telemetry.WithSID(span, m.SetAssignment.SID)
		telemetry.WithGUID(span, m.SetAssignment.GUID)
	} else if m.ClearAssignment != "" {
		telemetry.WithSID(span, m.ClearAssignment)
	}
	defer func() { end(err) }()

	pipe := c.rdb.TxPipeline()
	pipe.LSet(ctx, ConversationQueue, m.Index, m.Payload)
	if m.SetAssignment != nil {
		pipe.HSet(ctx, ConversationAssignment, m.SetAssignment.SID, m.SetAssignment.GUID)
		pipe.Set(ctx, ConversationTTLKey(m.SetAssignment.SID), m.SetAssignment.GUID, m.SetAssignment.TTL)
	}
	if m.ClearAssignment != "" {
		pipe.HDel(ctx, ConversationAssignment, m.ClearAssignment)
		pipe.Del(ctx, ConversationTTLKey(m.ClearAssignment))
	}
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		err = rderrors.Wrap(execErr, "apply queue mutation")
		return err
	}
	return nil
}

// RemoveQueueEntry runs remove()'s pipeline: drop the queue entry, the
// details blob, and sid's assignment/TTL keys.
func (c *Client) RemoveQueueEntry(ctx context.Context, payload, guid, sid string) (err error) {
	ctx, end := startSpan(ctx, "RemoveQueueEntry")
	span := trace.SpanFromContext(ctx)
	telemetry.WithGUID(span, guid)
	telemetry.WithSID(span, sid)
	defer func() { end(err) }()

	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, ConversationQueue, 1, payload)
	pipe.Del(ctx, ConversationDetailsKey(guid))
	pipe.HDel(ctx, ConversationAssignment, sid)
	pipe.Del(ctx, ConversationTTLKey(sid))
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		err = rderrors.Wrap(execErr, "remove queue entry")
		return err
	}
	return nil
}
