package handler

import (
	"github.com/ddevcap/streamgate/cache"
	"github.com/ddevcap/streamgate/config"
	"github.com/ddevcap/streamgate/token"
)

// Stores bundles the caches both listeners share. In dual mode one instance
// backs the frontend and backend routers so HLS sessions minted by the
// resolver are servable by the streamer.
type Stores struct {
	// Paths caches catalog lookups: md5(itemId:mediaSourceId) → source path.
	Paths *cache.Store[string]
	// Minted caches signed tokens under the same fingerprint.
	Minted *cache.Store[token.Token]
	// Opened caches decrypted tokens: md5(lowercased sign) → token.
	Opened *cache.Store[token.Token]
	// Strm caches .strm contents: md5(lowercased path) → target.
	Strm *cache.Store[string]
	// HLSSources maps item IDs to the source path behind their HLS session.
	HLSSources *cache.Store[string]
	// Limiters hands out the per-device byte buckets.
	Limiters *cache.LimiterCache
}

// NewStores builds every cache from one config.
func NewStores(cfg config.Config) *Stores {
	return &Stores{
		Paths:      cache.NewStore[string](cfg.CacheCapacity, cfg.CacheTTL),
		Minted:     cache.NewStore[token.Token](cfg.CacheCapacity, cfg.CacheTTL),
		Opened:     cache.NewStore[token.Token](cfg.CacheCapacity, cfg.CacheTTL),
		Strm:       cache.NewStore[string](cfg.CacheCapacity, cfg.CacheTTL),
		HLSSources: cache.NewStore[string](cfg.CacheCapacity, cfg.CacheTTL),
		Limiters:   cache.NewLimiterCache(cfg.CacheCapacity, cfg.CacheTTL, cfg.RateKBs),
	}
}

// Stop releases every cache's background goroutine.
func (s *Stores) Stop() {
	s.Paths.Stop()
	s.Minted.Stop()
	s.Opened.Stop()
	s.Strm.Stop()
	s.HLSSources.Stop()
	s.Limiters.Stop()
}
