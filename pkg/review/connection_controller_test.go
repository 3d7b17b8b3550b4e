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
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kvlock"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

var _ = Describe("ConnectionController", func() {
	var (
		ctx      context.Context
		mr       *miniredis.Miniredis
		kvc      *kv.Client
		conn     *review.ConnectionModel
		conv     *review.ConversationModel
		notifier *fakeNotifier
		ctl      *review.ConnectionController
	)

	BeforeEach(func() {
		ctx = context.Background()
		kvc, mr = kv.NewTestClient(GinkgoT())
		conn = review.NewConnectionModel(kvc, time.Second)
		lock := kvlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-conv-ctl", 5*time.Second)
		conv = review.NewConversationModel(kvc, lock, 60*time.Second, 6*time.Second)
		notifier = &fakeNotifier{}
		ctl = review.NewConnectionController(conn, conv, notifier, logr.Discard())
	})

	It("joins the room and broadcasts a status update on connect", func() {
		Expect(ctl.Connect(ctx, "sid-1")).To(Succeed())

		Expect(notifier.joined).To(ConsistOf("sid-1"))
		Expect(notifier.broadcast).To(HaveLen(1))
		Expect(notifier.broadcast[0].event).To(Equal(review.EventClientStatusUpdate))

		status, ok := notifier.broadcast[0].payload.(review.CurrentStatusResponse)
		Expect(ok).To(BeTrue())
		Expect(status.SessionCount).To(Equal(int64(1)))
	})

	It("emits the remaining assignment time back on heartbeat", func() {
		_, err := conv.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
		Expect(err).ToNot(HaveOccurred())
		_, err = conv.AssignFree(ctx, "sid-1")
		Expect(err).ToNot(HaveOccurred())

		Expect(ctl.Heartbeat(ctx, "sid-1")).To(Succeed())

		events := notifier.eventsFor("sid-1")
		Expect(events).To(HaveLen(1))
		Expect(events[0].event).To(Equal(review.EventClientTimeUpdate))
	})

	It("grants an activity bonus and emits the refreshed time", func() {
		conv2 := review.NewConversationModel(kvc, kvlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-conv-ctl2", 5*time.Second), 10*time.Second, 6*time.Second)
		ctl2 := review.NewConnectionController(conn, conv2, notifier, logr.Discard())

		_, err := conv2.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
		Expect(err).ToNot(HaveOccurred())
		_, err = conv2.AssignFree(ctx, "sid-1")
		Expect(err).ToNot(HaveOccurred())

		Expect(ctl2.ActivitySignal(ctx, "sid-1")).To(Succeed())

		events := notifier.eventsFor("sid-1")
		Expect(events).To(HaveLen(1))
		Expect(events[0].event).To(Equal(review.EventClientTimeUpdate))
	})

	Describe("DeadConnections", func() {
		It("leaves the room and disconnects every sid the integrity sweep removes", func() {
			_, err := conn.Increment(ctx, "sid-dead")
			Expect(err).ToNot(HaveOccurred())
			_, err = conn.Increment(ctx, "sid-alive")
			Expect(err).ToNot(HaveOccurred())

			mr.FastForward(2 * time.Second)
			Expect(conn.Extend(ctx, "sid-alive")).To(Succeed())

			removed, err := ctl.DeadConnections(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(removed).To(ConsistOf("sid-dead"))
			Expect(notifier.left).To(ConsistOf("sid-dead"))
		})

		It("returns nothing and emits nothing when everyone is alive", func() {
			_, err := conn.Increment(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			removed, err := ctl.DeadConnections(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(removed).To(BeEmpty())
			Expect(notifier.left).To(BeEmpty())
		})
	})
})
