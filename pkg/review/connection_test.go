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

	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

var _ = Describe("ConnectionModel", func() {
	var (
		ctx   context.Context
		kvc   *kv.Client
		mr    *miniredis.Miniredis
		model *review.ConnectionModel
	)

	BeforeEach(func() {
		ctx = context.Background()
		kvc, mr = kv.NewTestClient(GinkgoT())
		model = review.NewConnectionModel(kvc, time.Second)
	})

	It("increments the global count on connect", func() {
		n, err := model.Increment(ctx, "sid-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		alive, err := model.IsAlive(ctx, "sid-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(alive).To(BeTrue())
	})

	It("extends liveness on heartbeat without touching the pool", func() {
		_, err := model.Increment(ctx, "sid-1")
		Expect(err).ToNot(HaveOccurred())
		_, err = model.PopFromPool(ctx)
		Expect(err).ToNot(HaveOccurred())

		Expect(model.Extend(ctx, "sid-1")).To(Succeed())

		popped, err := model.PopFromPool(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(popped).To(Equal(""))
	})

	Describe("pool asymmetry", func() {
		It("puts a normal reentry behind a rollback reentry", func() {
			Expect(model.AddToPool(ctx, "normal")).To(Succeed())
			Expect(model.AddToPoolFront(ctx, "rollback")).To(Succeed())

			first, err := model.PopFromPool(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(first).To(Equal("rollback"))
		})
	})

	Describe("Integrity", func() {
		It("is a no-op when every session is still alive", func() {
			_, err := model.Increment(ctx, "sid-1")
			Expect(err).ToNot(HaveOccurred())

			result, err := model.Integrity(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Changed).To(BeFalse())
		})

		It("removes sessions whose liveness key has expired and recomputes the count", func() {
			_, err := model.Increment(ctx, "sid-dead")
			Expect(err).ToNot(HaveOccurred())
			_, err = model.Increment(ctx, "sid-alive")
			Expect(err).ToNot(HaveOccurred())

			mr.FastForward(2 * time.Second)
			Expect(model.Extend(ctx, "sid-alive")).To(Succeed())

			result, err := model.Integrity(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Changed).To(BeTrue())
			Expect(result.RemovedSIDs).To(ConsistOf("sid-dead"))
			Expect(result.Count).To(Equal(int64(1)))
		})

		It("resets the counter to zero when the session set is empty", func() {
			result, err := model.Integrity(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Changed).To(BeFalse())

			n, err := model.GetCount(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
