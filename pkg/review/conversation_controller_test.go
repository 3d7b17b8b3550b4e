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

	"github.com/ai-redteam-labs/review-dispatcher/pkg/audit"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kvlock"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

func newConversationController(assignTTL time.Duration, notifier *fakeNotifier, callback *fakeCallback, auditSink *fakeAudit) (*review.ConversationController, *review.ConversationModel, *review.ConnectionModel, *miniredis.Miniredis) {
	kvc, mr := kv.NewTestClient(GinkgoT())
	lock := kvlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-conv-ctrl", 5*time.Second)
	conv := review.NewConversationModel(kvc, lock, assignTTL, 6*time.Second)
	conn := review.NewConnectionModel(kvc, time.Second)
	ctl := review.NewConversationController(conv, conn, notifier, callback, auditSink, nil, logr.Discard())
	return ctl, conv, conn, mr
}

var sampleReq = review.ConversationReviewRequest{
	ConversationID: "g1",
	ChallengeID:    7,
	ChallengeGoal:  "goal",
	ChallengeTitle: "title",
	Timestamp:      "2026-07-29T00:00:00Z",
	AnswerURI:      "https://example.test/answer",
}

var _ = Describe("ConversationController", func() {
	var (
		ctx      context.Context
		notifier *fakeNotifier
		callback *fakeCallback
		auditSink *fakeAudit
		ctl      *review.ConversationController
		conv     *review.ConversationModel
		conn     *review.ConnectionModel
	)

	BeforeEach(func() {
		ctx = context.Background()
		notifier = &fakeNotifier{}
		callback = &fakeCallback{}
		auditSink = &fakeAudit{}
		ctl, conv, conn, _ = newConversationController(60*time.Second, notifier, callback, auditSink)
	})

	Describe("NewConversation", func() {
		It("queues a new submission and rejects a duplicate conversation_id", func() {
			ok, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			queue, err := conv.GetQueue(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(queue).To(HaveLen(1))
		})

		It("immediately assigns a waiting reviewer", func() {
			Expect(conn.AddToPool(ctx, "sid-1")).To(Succeed())

			ok, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			events := notifier.eventsFor("sid-1")
			Expect(events).To(ContainElement(HaveField("event", review.EventClientReviewUpdate)))
		})
	})

	Describe("Pick", func() {
		It("pushes a reviewer back to the front of the pool when nothing is unassigned", func() {
			Expect(conn.AddToPool(ctx, "sid-1")).To(Succeed())

			Expect(ctl.Pick(ctx)).To(Succeed())

			popped, err := conn.PopFromPool(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(popped).To(Equal("sid-1"))
		})
	})

	Describe("Score", func() {
		It("completes the full scoring sequence: remove, notify, re-pool, pick, then callback", func() {
			_, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			Expect(conn.AddToPool(ctx, "sid-1")).To(Succeed())
			Expect(ctl.Pick(ctx)).To(Succeed())

			req := review.ScoreConversationRequest{ConversationID: "g1", Passed: true, CustomMessage: "nice"}
			Expect(ctl.Score(ctx, req, "sid-1")).To(Succeed())

			_, ok, err := conv.GetConversation(ctx, "g1")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			doneEvents := notifier.eventsFor("sid-1")
			Expect(doneEvents).To(ContainElement(HaveField("event", review.EventClientReviewDone)))

			Expect(callback.calls).To(ConsistOf("https://example.test/answer"))
			Expect(auditSink.snapshot()).To(ConsistOf(string(audit.OutcomeScored) + ":g1"))
		})

		It("ignores a score for a sid the item isn't assigned to", func() {
			_, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())

			req := review.ScoreConversationRequest{ConversationID: "g1", Passed: true}
			Expect(ctl.Score(ctx, req, "some-other-sid")).To(Succeed())

			_, ok, err := conv.GetConversation(ctx, "g1")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(callback.calls).To(BeEmpty())
		})

		It("surfaces a callback failure to the reviewer without rolling back state", func() {
			callback.err = context.DeadlineExceeded
			_, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			Expect(conn.AddToPool(ctx, "sid-1")).To(Succeed())
			Expect(ctl.Pick(ctx)).To(Succeed())

			req := review.ScoreConversationRequest{ConversationID: "g1", Passed: false}
			Expect(ctl.Score(ctx, req, "sid-1")).To(Succeed())

			_, ok, err := conv.GetConversation(ctx, "g1")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			events := notifier.eventsFor("sid-1")
			Expect(events).To(ContainElement(HaveField("event", review.EventClientServerError)))
		})
	})

	Describe("DeadReviews", func() {
		It("audits only the expirations whose reviewer is no longer alive", func() {
			ctl, conv, conn, mr := newConversationController(time.Second, notifier, callback, auditSink)

			_, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			req2 := sampleReq
			req2.ConversationID = "g2"
			_, err = ctl.NewConversation(ctx, req2)
			Expect(err).ToNot(HaveOccurred())

			Expect(conn.AddToPool(ctx, "sid-alive")).To(Succeed())
			Expect(ctl.Pick(ctx)).To(Succeed())
			Expect(conn.AddToPool(ctx, "sid-dead")).To(Succeed())
			Expect(ctl.Pick(ctx)).To(Succeed())

			mr.FastForward(2 * time.Second)
			Expect(conn.Extend(ctx, "sid-alive")).To(Succeed())

			Expect(ctl.DeadReviews(ctx)).To(Succeed())

			Expect(auditSink.snapshot()).To(HaveLen(1))
			Expect(auditSink.snapshot()[0]).To(HavePrefix(string(audit.OutcomeExpired) + ":"))

			_ = conv
		})

		It("is a no-op when nothing has expired", func() {
			_, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())

			Expect(ctl.DeadReviews(ctx)).To(Succeed())
			Expect(auditSink.snapshot()).To(BeEmpty())
		})
	})

	Describe("DeadConnections", func() {
		It("unassigns the dead sid's work and reinvites a pick", func() {
			_, err := ctl.NewConversation(ctx, sampleReq)
			Expect(err).ToNot(HaveOccurred())
			Expect(conn.AddToPool(ctx, "sid-1")).To(Succeed())
			Expect(ctl.Pick(ctx)).To(Succeed())

			Expect(ctl.DeadConnections(ctx, []string{"sid-1"})).To(Succeed())

			queue, err := conv.GetQueue(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(queue[0].AssignedTo).To(Equal(""))
		})
	})
})
