package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
)

var collectionPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	t := c.Cache.Thresholds
	if !(t.Good > 0 && t.Good <= t.High && t.High <= t.Exact && t.Exact <= 1) {
		add("thresholds must satisfy 0 < good <= high <= exact <= 1, got %+v", t)
	}
	if c.Cache.Dimension <= 0 {
		add("cache.dimension must be positive")
	}
	if c.Cache.L1Enabled && c.Cache.L1MaxEntries <= 0 {
		add("cache.l1_max_entries must be positive")
	}
	hasTTL := false
	for _, tier := range c.Cache.TTLTiers {
		if tier.MinAccesses < 0 || tier.TTL < 0 {
			add("ttl tier %+v has a negative field", tier)
		}
		hasTTL = hasTTL || tier.TTL > 0
	}
	if !hasTTL {
		add("cache.ttl_tiers needs at least one positive ttl")
	}

	for i, p := range c.Cache.Policies {
		if p.Name == "" {
			add("cache.policies[%d] needs a name", i)
		}
		if len(p.Exact)+len(p.Prefix)+len(p.Regex) == 0 {
			add("policy %q has no rules", p.Name)
		}
		for _, re := range p.Regex {
			if _, err := regexp.Compile(re); err != nil {
				add("policy %q: %v", p.Name, err)
			}
		}
		if p.MinSimilarity < 0 || p.MinSimilarity > 1 {
			add("policy %q: min_similarity must be within [0, 1]", p.Name)
		}
	}

	switch c.Embedding.Provider {
	case "hash":
	case "openai":
		if c.Embedding.BaseURL == "" || c.Embedding.Model == "" {
			add("embedding.base_url and embedding.model are required for openai")
		}
	default:
		add("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Embedding.CacheSize <= 0 {
		add("embedding.cache_size must be positive")
	}

	switch c.Store.Backend {
	case "memory", "qdrant":
	case "pgvector":
		if c.Store.Postgres.DSN == "" {
			add("store.postgres.dsn is required for pgvector")
		}
		if !collectionPattern.MatchString(c.Store.Collection) {
			add("store.collection %q is not a valid table name", c.Store.Collection)
		}
	default:
		add("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.Collection == "" {
		add("store.collection is required")
	}

	if c.Sweep.Enabled {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			add("sweep.schedule: %v", err)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format must be json or console, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}
