package cache_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/streamgate/cache"
)

var _ = Describe("LimiterCache", func() {
	It("admits everything when the rate is zero", func() {
		lc := cache.NewLimiterCache(16, time.Minute, 0)
		defer lc.Stop()

		bucket := lc.Fetch("device-1")
		for i := 0; i < 1000; i++ {
			Expect(bucket.Acquire(context.Background(), 1<<20)).To(Succeed())
		}
		Expect(lc.Count()).To(BeZero())
	})

	It("hands the same bucket back for the same device", func() {
		lc := cache.NewLimiterCache(16, time.Minute, 4)
		defer lc.Stop()

		Expect(lc.Fetch("device-1")).To(BeIdenticalTo(lc.Fetch("device-1")))
		Expect(lc.Fetch("device-2")).NotTo(BeIdenticalTo(lc.Fetch("device-1")))
		Expect(lc.Count()).To(Equal(2))
	})

	It("starts a bucket with one second's worth of budget", func() {
		lc := cache.NewLimiterCache(16, time.Minute, 4) // 4 kB/s
		defer lc.Stop()

		bucket := lc.Fetch("device-1")
		Expect(bucket.Acquire(context.Background(), 4*1024)).To(Succeed())

		// The budget is spent; the next acquire must wait for a refill.
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(bucket.Acquire(ctx, 1)).To(MatchError(context.DeadlineExceeded))
	})

	It("refills the bucket about once per second", func() {
		lc := cache.NewLimiterCache(16, time.Minute, 4)
		defer lc.Stop()

		bucket := lc.Fetch("device-1")
		Expect(bucket.Acquire(context.Background(), 4*1024)).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		start := time.Now()
		Expect(bucket.Acquire(ctx, 4*1024)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically(">", 500*time.Millisecond))
	})

	It("caps the budget at two seconds' worth", func() {
		lc := cache.NewLimiterCache(16, time.Minute, 4)
		defer lc.Stop()

		bucket := lc.Fetch("device-1")
		// Let several refills land, then drain: no more than 2 s of budget
		// may have accumulated.
		time.Sleep(3200 * time.Millisecond)

		Expect(bucket.Acquire(context.Background(), 2*4*1024)).To(Succeed())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(bucket.Acquire(ctx, 4*1024)).To(MatchError(context.DeadlineExceeded))
	})

	It("fails acquisition when the context is already done", func() {
		lc := cache.NewLimiterCache(16, time.Minute, 1)
		defer lc.Stop()

		bucket := lc.Fetch("device-1")
		Expect(bucket.Acquire(context.Background(), 1024)).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(bucket.Acquire(ctx, 1)).To(MatchError(context.Canceled))
	})
})
