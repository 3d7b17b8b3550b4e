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

// Package kvlock implements the single named distributed lock the
// conversation model uses to serialize its read-modify-write on the
// queue (spec.md §4.1). There is no surviving reference implementation
// for this piece in original_source/ (server/models/lock.py was not
// retrieved); this is a fresh design over go-redis's documented
// SETNX/Lua idiom, grounded on the teacher's own acquire-with-TTL
// pattern for Redis-backed dedup keys.
package kvlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

const lockKeyPrefix = "lock:"

// releaseScript deletes the lock key only if it still holds our token,
// so a holder whose TTL already expired (and was reacquired by someone
// else) can never delete a lock it no longer owns.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript re-extends the TTL only if we still hold the lock.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a single named mutual-exclusion resource over the KV store.
type Lock struct {
	rdb  *redis.Client
	name string
	ttl  time.Duration

	retryDelay time.Duration

	mu      sync.Mutex
	token   string
	held    bool
	cancel  context.CancelFunc
	renewWG sync.WaitGroup
}

// New constructs a Lock named name with the given hold TTL. ttl should be
// comfortably larger than the expected critical section and is kept fresh
// by a background renewal loop while held.
func New(rdb *redis.Client, name string, ttl time.Duration) *Lock {
	return &Lock{
		rdb:        rdb,
		name:       lockKeyPrefix + name,
		ttl:        ttl,
		retryDelay: 20 * time.Millisecond,
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Acquire blocks until the lock is owned or ctx is done. While held, a
// goroutine renews the TTL every ttl/3 until Release is called; this is
// the cooperative-cancellation background task spec.md §9 calls for.
func (l *Lock) Acquire(ctx context.Context) error {
	token, err := randomToken()
	if err != nil {
		return rderrors.Wrap(err, "generate lock token")
	}

	for {
		ok, err := l.rdb.SetNX(ctx, l.name, token, l.ttl).Result()
		if err != nil {
			return rderrors.Wrap(err, "acquire lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return rderrors.Wrap(ctx.Err(), "acquire lock: context done")
		case <-time.After(l.retryDelay):
		}
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.token = token
	l.held = true
	l.cancel = cancel
	l.mu.Unlock()

	l.renewWG.Add(1)
	go l.renewLoop(renewCtx, token)
	return nil
}

func (l *Lock) renewLoop(ctx context.Context, token string) {
	defer l.renewWG.Done()
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendScript.Run(ctx, l.rdb, []string{l.name}, token, l.ttl.Milliseconds())
		}
	}
}

// Release gives up the lock (no-op if not held) and stops the renewal
// goroutine.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	token := l.token
	cancel := l.cancel
	l.held = false
	l.token = ""
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	l.renewWG.Wait()

	if err := releaseScript.Run(ctx, l.rdb, []string{l.name}, token).Err(); err != nil {
		return rderrors.Wrap(err, "release lock")
	}
	return nil
}

// Worker is the lifecycle handle returned by Start: exactly one Worker
// across all processes will ever be running at a time for a given lock
// name, since Start blocks until the lock is acquired.
type Worker struct {
	lock *Lock
}

// Start registers this process as the single worker entitled to run the
// periodic tick logic (spec.md §4.1, §4.6). concurrency is accepted for
// interface parity with the original but is unused: this lock's job is
// exclusivity, not admission control.
func Start(ctx context.Context, rdb *redis.Client, name string, ttl time.Duration, concurrency int) (*Worker, error) {
	l := New(rdb, name, ttl)
	if err := l.Acquire(ctx); err != nil {
		return nil, err
	}
	return &Worker{lock: l}, nil
}

// Stop relinquishes the worker's lock.
func (w *Worker) Stop(ctx context.Context) error {
	return w.lock.Release(ctx)
}
