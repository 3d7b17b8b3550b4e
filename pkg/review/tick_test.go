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

package review_test

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kvlock"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

type fakeStarvationObserver struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStarvationObserver) ObserveTick(ctx context.Context, queueLen int, poolEmpty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeStarvationObserver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ = Describe("Ticker", func() {
	It("runs dead_reviews and dead_connections each cycle and reports starvation", func() {
		ctx := context.Background()
		kvc, mr := kv.NewTestClient(GinkgoT())
		lock := kvlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-tick", 5*time.Second)
		conv := review.NewConversationModel(kvc, lock, 60*time.Second, 6*time.Second)
		conn := review.NewConnectionModel(kvc, time.Second)
		notifier := &fakeNotifier{}
		connCtl := review.NewConnectionController(conn, conv, notifier, logr.Discard())

		reg := prometheus.NewRegistry()
		m := metrics.NewWithRegistry(reg)
		convCtl := review.NewConversationController(conv, conn, notifier, &fakeCallback{}, nil, m, logr.Discard())

		observer := &fakeStarvationObserver{}
		ticker := review.NewTicker(connCtl, convCtl, conv, conn, 20*time.Millisecond, logr.Discard(), observer, m)

		runCtx, cancel := context.WithTimeout(ctx, 90*time.Millisecond)
		defer cancel()
		Expect(ticker.Run(runCtx)).To(Succeed())

		Expect(observer.count()).To(BeNumerically(">=", 2))
		Expect(testutil.ToFloat64(m.SessionCount)).To(Equal(float64(0)))
	})

	It("unassigns a dead reviewer's work during the sweep", func() {
		ctx := context.Background()
		kvc, mr := kv.NewTestClient(GinkgoT())
		lock := kvlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-tick-2", 5*time.Second)
		conv := review.NewConversationModel(kvc, lock, 60*time.Second, 6*time.Second)
		conn := review.NewConnectionModel(kvc, time.Second)
		notifier := &fakeNotifier{}
		connCtl := review.NewConnectionController(conn, conv, notifier, logr.Discard())
		convCtl := review.NewConversationController(conv, conn, notifier, &fakeCallback{}, nil, nil, logr.Discard())
		ticker := review.NewTicker(connCtl, convCtl, conv, conn, 20*time.Millisecond, logr.Discard(), nil, nil)

		_, err := conv.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
		Expect(err).ToNot(HaveOccurred())
		_, err = conn.Increment(ctx, "sid-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(convCtl.Pick(ctx)).To(Succeed())

		mr.FastForward(2 * time.Second)

		runCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		Expect(ticker.Run(runCtx)).To(Succeed())

		queue, err := conv.GetQueue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(queue[0].AssignedTo).To(BeEmpty())
	})
})
