package config

import (
	"time"

	"github.com/Keksclan/spawncache/l1"
	"github.com/Keksclan/spawncache/l2"
	"github.com/Keksclan/spawncache/sweep"
	"github.com/Keksclan/spawncache/vector"
)

// Default returns a configuration for a single process with an in-memory
// store and the hash embedder.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			L1Enabled:    true,
			L1MaxEntries: l1.DefaultMaxEntries,
			L1TTL:        l1.DefaultTTL,
			L2Enabled:    true,
			L2Timeout:    l2.DefaultTimeout,
			Dimension:    vector.DefaultDimension,
			Thresholds:   ThresholdsConfig{Exact: 0.98, High: 0.92, Good: 0.85},
			TTLTiers: []TTLTierConfig{
				{MinAccesses: 100, TTL: 7 * 24 * time.Hour},
				{MinAccesses: 10, TTL: 3 * 24 * time.Hour},
				{MinAccesses: 0, TTL: 24 * time.Hour},
			},
			Coalescing:      true,
			PersistFallback: true,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			Timeout:   30 * time.Second,
			Burst:     1,
			CacheSize: 10_000,
			CacheTTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:    "memory",
			Collection: "spawncache",
			Qdrant:     QdrantConfig{URL: "http://localhost:6333", Timeout: 10 * time.Second},
		},
		Sweep: SweepConfig{Enabled: true, Schedule: sweep.DefaultSpec},
		Log:   LogConfig{Enabled: true, Level: "info", Format: "json"},
	}
}
