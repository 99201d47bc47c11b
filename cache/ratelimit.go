package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Bucket is a byte-budget token bucket. Writers acquire one permit per byte
// before pushing a chunk to the client; a background ticker refills every
// bucket once per second.
type Bucket struct {
	unlimited bool

	mu      sync.Mutex
	permits int64
	max     int64
	// notify is closed and replaced on every refill so blocked acquirers
	// re-check their demand.
	notify chan struct{}
}

func newBucket(initial, max int64) *Bucket {
	return &Bucket{
		permits: initial,
		max:     max,
		notify:  make(chan struct{}),
	}
}

// Unlimited returns a bucket that admits everything. Used when throttling is
// disabled so the write path stays uniform.
func Unlimited() *Bucket {
	return &Bucket{unlimited: true}
}

// Acquire blocks until n permits are available or ctx is done.
func (b *Bucket) Acquire(ctx context.Context, n int64) error {
	if b.unlimited || n <= 0 {
		return nil
	}
	for {
		b.mu.Lock()
		if b.permits >= n {
			b.permits -= n
			b.mu.Unlock()
			return nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// refill adds n permits up to the bucket's cap and wakes blocked acquirers.
func (b *Bucket) refill(n int64) {
	b.mu.Lock()
	b.permits += n
	if b.permits > b.max {
		b.permits = b.max
	}
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// available returns the current permit count.
func (b *Bucket) available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.permits
}

// LimiterCache hands out one Bucket per playback device. Buckets start with
// one second's worth of budget and are capped at two seconds' worth. A
// single ticker refills every bucket still present in the cache; eviction
// removes a bucket from the refill set, so idle devices cost nothing.
type LimiterCache struct {
	rateKBs uint64
	inner   *ttlcache.Cache[string, *Bucket]

	mu     sync.Mutex
	active map[string]*Bucket

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLimiterCache builds the per-device limiter registry. A zero rate
// disables throttling: Fetch returns an unlimited bucket and no ticker runs.
func NewLimiterCache(capacity uint64, ttl time.Duration, rateKBs uint64) *LimiterCache {
	lc := &LimiterCache{
		rateKBs: rateKBs,
		active:  make(map[string]*Bucket),
		stop:    make(chan struct{}),
	}
	if rateKBs == 0 {
		return lc
	}

	lc.inner = ttlcache.New[string, *Bucket](
		ttlcache.WithTTL[string, *Bucket](ttl),
		ttlcache.WithCapacity[string, *Bucket](capacity),
	)
	lc.inner.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *Bucket]) {
		lc.mu.Lock()
		delete(lc.active, item.Key())
		lc.mu.Unlock()
	})
	go lc.inner.Start()
	go lc.refillLoop()
	return lc
}

// Fetch returns the bucket for a device, creating it on first sight.
func (lc *LimiterCache) Fetch(deviceID string) *Bucket {
	if lc.rateKBs == 0 {
		return Unlimited()
	}

	perSecond := int64(lc.rateKBs) * 1024
	fresh := newBucket(perSecond, 2*perSecond)
	item, existed := lc.inner.GetOrSet(deviceID, fresh)
	bucket := item.Value()
	if !existed {
		lc.mu.Lock()
		lc.active[deviceID] = bucket
		lc.mu.Unlock()
	}
	return bucket
}

func (lc *LimiterCache) refillLoop() {
	perSecond := int64(lc.rateKBs) * 1024
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-lc.stop:
			return
		case <-ticker.C:
			lc.mu.Lock()
			for _, bucket := range lc.active {
				bucket.refill(perSecond)
			}
			lc.mu.Unlock()
		}
	}
}

// Count returns the number of live limiters.
func (lc *LimiterCache) Count() int {
	if lc.inner == nil {
		return 0
	}
	return lc.inner.Len()
}

// Stop terminates the refill ticker and the cache's expiration loop.
func (lc *LimiterCache) Stop() {
	lc.stopOnce.Do(func() {
		close(lc.stop)
		if lc.inner != nil {
			lc.inner.Stop()
		}
	})
}
