package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache"
	"github.com/Keksclan/spawncache/embed"
	"github.com/Keksclan/spawncache/embedcache"
	"github.com/Keksclan/spawncache/invalidation"
	"github.com/Keksclan/spawncache/policy"
	"github.com/Keksclan/spawncache/ratelimit"
	"github.com/Keksclan/spawncache/ttltier"
	"github.com/Keksclan/spawncache/vectorstore"
	"github.com/Keksclan/spawncache/vectorstore/memstore"
	"github.com/Keksclan/spawncache/vectorstore/pgvector"
	"github.com/Keksclan/spawncache/vectorstore/qdrant"
)

// Logger builds the configured zap logger.
func (c *Config) Logger() (*zap.Logger, error) {
	if !c.Log.Enabled {
		return zap.NewNop(), nil
	}
	zc := zap.NewProductionConfig()
	if c.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

// TTLTable converts the configured TTL tiers.
func (c *Config) TTLTable() ttltier.Table {
	tiers := make([]ttltier.Tier, 0, len(c.Cache.TTLTiers))
	for _, t := range c.Cache.TTLTiers {
		tiers = append(tiers, ttltier.Tier{MinAccesses: t.MinAccesses, TTL: t.TTL})
	}
	return ttltier.New(tiers...)
}

// PolicyResolver builds the per-kind policies, or nil when none are set.
// Validate must have accepted c.
func (c *Config) PolicyResolver() *policy.Resolver {
	if len(c.Cache.Policies) == 0 {
		return nil
	}
	groups := make([]*policy.GroupBuilder, 0, len(c.Cache.Policies))
	for _, p := range c.Cache.Policies {
		g := policy.Group(p.Name)
		for _, k := range p.Exact {
			g.Exact(k)
		}
		for _, k := range p.Prefix {
			g.Prefix(k)
		}
		for _, k := range p.Regex {
			g.Regex(k)
		}
		groups = append(groups, g.Policy(policy.Policy{
			MinSimilarity:  p.MinSimilarity,
			FactoryTimeout: p.FactoryTimeout,
			Bypass:         p.Bypass,
			LocalOnly:      p.LocalOnly,
		}))
	}
	return policy.NewResolver(groups...)
}

// Options translates the cache section into spawncache options. reg, tp and
// bus may be nil.
func (c *Config) Options(logger *zap.Logger, reg prometheus.Registerer, tp trace.TracerProvider, bus invalidation.Bus) []spawncache.Option {
	cc := c.Cache
	opts := []spawncache.Option{
		spawncache.WithLogger(logger),
		spawncache.WithL1(spawncache.L1Config{
			Enabled:    cc.L1Enabled,
			MaxEntries: cc.L1MaxEntries,
			TTL:        cc.L1TTL,
		}),
		spawncache.WithL2(spawncache.L2Config{Enabled: cc.L2Enabled}),
		spawncache.WithL2Timeout(cc.L2Timeout),
		spawncache.WithDimension(cc.Dimension),
		spawncache.WithThresholds(spawncache.Thresholds{
			Exact: cc.Thresholds.Exact,
			High:  cc.Thresholds.High,
			Good:  cc.Thresholds.Good,
		}),
		spawncache.WithTTLTiers(c.TTLTable()),
		spawncache.WithRequestCoalescing(cc.Coalescing),
		spawncache.WithPersistFallbackVectors(cc.PersistFallback),
	}
	if r := c.PolicyResolver(); r != nil {
		opts = append(opts, spawncache.WithPolicies(r))
	}
	if reg != nil {
		opts = append(opts, spawncache.WithMetrics(reg))
	}
	if tp != nil {
		opts = append(opts, spawncache.WithTracerProvider(tp))
	}
	if bus != nil {
		opts = append(opts, spawncache.WithInvalidationBus(bus))
	}
	return opts
}

// NewEmbedder builds the configured embedder. Remote embedders are wrapped in
// a ristretto cache, backed by Redis when embedding.redis_addr is set. The
// returned close function releases those caches.
func (c *Config) NewEmbedder() (embed.Embedder, func() error, error) {
	e := c.Embedding
	dim := c.Cache.Dimension
	if e.Provider == "hash" {
		return embed.NewHash(dim), func() error { return nil }, nil
	}

	remote, err := embed.NewOpenAI(embed.OpenAIConfig{
		BaseURL:   e.BaseURL,
		Model:     e.Model,
		APIKey:    e.APIKey,
		Dimension: dim,
		Timeout:   e.Timeout,
		Limiter:   ratelimit.NewLimiter(e.RateLimit, e.Burst),
	})
	if err != nil {
		return nil, nil, err
	}

	local, err := embedcache.NewL1(e.CacheSize, dim)
	if err != nil {
		return nil, nil, fmt.Errorf("config: embedding cache: %w", err)
	}
	var shared *embedcache.L2
	if e.RedisAddr != "" {
		shared = embedcache.NewL2(e.RedisAddr, e.RedisPassword, e.RedisDB)
	}
	closeFn := func() error {
		local.Close()
		if shared != nil {
			return shared.Close()
		}
		return nil
	}
	return embed.NewCached(remote, embedcache.NewTiered(local, shared), remote.Model(), e.CacheTTL), closeFn, nil
}

// NewStore opens the configured vector store, creating its collection or
// schema if needed. The returned close function releases connections.
func (c *Config) NewStore(ctx context.Context, logger *zap.Logger) (vectorstore.Store, func() error, error) {
	s := c.Store
	dim := c.Cache.Dimension
	noop := func() error { return nil }

	switch s.Backend {
	case "memory":
		return memstore.New(s.Collection, dim), noop, nil
	case "qdrant":
		st, err := qdrant.New(qdrant.Config{
			BaseURL:              s.Qdrant.URL,
			APIKey:               s.Qdrant.APIKey,
			Collection:           s.Collection,
			Timeout:              s.Qdrant.Timeout,
			Dimension:            dim,
			AutoCreateCollection: true,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	case "pgvector":
		st, err := pgvector.Open(s.Postgres.DSN, s.Collection, dim)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, nil, errors.Join(err, st.Close())
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("config: unknown store backend %q", s.Backend)
}

// NewBus connects the invalidation bus, or returns nil when no NATS URL is
// configured.
func (c *Config) NewBus(logger *zap.Logger) (invalidation.Bus, error) {
	if c.Invalidation.NATSURL == "" {
		return nil, nil
	}
	bus, err := invalidation.DialNATS(c.Invalidation.NATSURL, c.Invalidation.Subject, logger)
	if err != nil {
		return nil, err
	}
	return bus, nil
}
