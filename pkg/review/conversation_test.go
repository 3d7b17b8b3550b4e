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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kvlock"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

func newConversationModel(assignTTL, activityBonus time.Duration) (*review.ConversationModel, *miniredis.Miniredis) {
	kvc, mr := kv.NewTestClient(GinkgoT())
	lock := kvlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test-conv", 5*time.Second)
	return review.NewConversationModel(kvc, lock, assignTTL, activityBonus), mr
}

var _ = Describe("ConversationModel", func() {
	var (
		ctx   context.Context
		mr    *miniredis.Miniredis
		model *review.ConversationModel
	)

	BeforeEach(func() {
		ctx = context.Background()
		model, mr = newConversationModel(60*time.Second, 6*time.Second)
	})

	It("assigns monotonic ids on push and preserves queue order", func() {
		id1, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
		Expect(err).ToNot(HaveOccurred())
		id2, err := model.Push(ctx, &review.ConversationStatus{GUID: "g2", ChallengeID: 1})
		Expect(err).ToNot(HaveOccurred())
		Expect(id2).To(Equal(id1 + 1))

		queue, err := model.GetQueue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(queue).To(HaveLen(2))
		Expect(queue[0].GUID).To(Equal("g1"))
		Expect(queue[1].GUID).To(Equal("g2"))
	})

	It("stores and retrieves the details blob by guid", func() {
		req := review.ConversationReviewRequest{ConversationID: "g1", ChallengeID: 1, ChallengeTitle: "t"}
		Expect(model.Add(ctx, req)).To(Succeed())

		got, ok, err := model.GetConversation(ctx, "g1")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.ChallengeTitle).To(Equal("t"))

		_, ok, err = model.GetConversation(ctx, "missing")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	Describe("AssignFree", func() {
		It("assigns the earliest unassigned entry and sets an assignment TTL", func() {
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())

			guid, err := model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(guid).To(Equal("g1"))

			assigned, err := model.GetAssignment(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(assigned).To(Equal("g1"))

			remaining, err := model.GetTime(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(remaining).To(BeNumerically(">", 0))
		})

		It("returns empty when every entry is already assigned", func() {
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			guid, err := model.AssignFree(ctx, "sid-2")
			Expect(err).ToNot(HaveOccurred())
			Expect(guid).To(Equal(""))
		})

		It("skips already-assigned entries to reach the next free one (FIFO)", func() {
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.Push(ctx, &review.ConversationStatus{GUID: "g2", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())

			_, err = model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			guid, err := model.AssignFree(ctx, "sid-2")
			Expect(err).ToNot(HaveOccurred())
			Expect(guid).To(Equal("g2"))
		})
	})

	Describe("EarnBonus", func() {
		It("extends the assignment ttl, clamped to assignTTL", func() {
			model, mr = newConversationModel(10*time.Second, 6*time.Second)
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			mr.FastForward(2 * time.Second)

			newTTL, err := model.EarnBonus(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(newTTL).To(Equal(10 * time.Second))
		})

		It("is a no-op for a sid with no active assignment", func() {
			newTTL, err := model.EarnBonus(ctx, "sid-none")
			Expect(err).ToNot(HaveOccurred())
			Expect(newTTL).To(BeZero())
		})
	})

	Describe("UnassignReview", func() {
		It("clears assigned_to for the given dead sids only", func() {
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.Push(ctx, &review.ConversationStatus{GUID: "g2", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())
			_, err = model.AssignFree(ctx, "sid-2")
			Expect(err).ToNot(HaveOccurred())

			Expect(model.UnassignReview(ctx, []string{"sid-1"})).To(Succeed())

			queue, err := model.GetQueue(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(queue[0].AssignedTo).To(Equal(""))
			Expect(queue[1].AssignedTo).To(Equal("sid-2"))
		})

		It("is a no-op given an empty sid list", func() {
			Expect(model.UnassignReview(ctx, nil)).To(Succeed())
		})
	})

	Describe("UnassignExpired", func() {
		It("reclaims only assignments whose ttl has lapsed", func() {
			model, mr = newConversationModel(time.Second, time.Second)
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.Push(ctx, &review.ConversationStatus{GUID: "g2", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			_, err = model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			mr.FastForward(2 * time.Second)

			_, err = model.AssignFree(ctx, "sid-2")
			Expect(err).ToNot(HaveOccurred())

			expired, err := model.UnassignExpired(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(expired).To(ConsistOf(review.ExpiredAssignment{SID: "sid-1", GUID: "g1"}))
		})
	})

	Describe("Remove", func() {
		It("deletes the queue entry, details blob, and assignment bookkeeping", func() {
			req := review.ConversationReviewRequest{ConversationID: "g1", ChallengeID: 1}
			_, err := model.Push(ctx, &review.ConversationStatus{GUID: "g1", ChallengeID: 1})
			Expect(err).ToNot(HaveOccurred())
			Expect(model.Add(ctx, req)).To(Succeed())
			_, err = model.AssignFree(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			Expect(model.Remove(ctx, "g1", "sid-1")).To(Succeed())

			queue, err := model.GetQueue(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(queue).To(BeEmpty())

			_, ok, err := model.GetConversation(ctx, "g1")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			assigned, err := model.GetAssignment(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(assigned).To(Equal(""))
		})
	})
})
