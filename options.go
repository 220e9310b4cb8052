package spawncache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache/invalidation"
	"github.com/Keksclan/spawncache/policy"
	"github.com/Keksclan/spawncache/ttltier"
)

// Option configures a Cache.
type Option func(*config)

// WithL1 replaces the in-process tier settings. Zero sizes fall back to the
// l1 package defaults.
func WithL1(cfg L1Config) Option {
	return func(c *config) {
		c.l1 = cfg
	}
}

// WithL2 replaces the persistent tier settings.
func WithL2(cfg L2Config) Option {
	return func(c *config) {
		c.l2 = cfg
	}
}

// WithL2Timeout bounds every vector store call.
func WithL2Timeout(d time.Duration) Option {
	return func(c *config) {
		c.l2.Timeout = d
	}
}

// WithThresholds sets the similarity thresholds.
func WithThresholds(t Thresholds) Option {
	return func(c *config) {
		c.thresholds = t
	}
}

// WithDimension sets the system embedding dimension.
func WithDimension(n int) Option {
	return func(c *config) {
		c.dimension = n
	}
}

// WithTTLTiers sets the access-count to TTL table.
func WithTTLTiers(t ttltier.Table) Option {
	return func(c *config) {
		c.ttlTiers = t
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// WithMetrics registers the cache's Prometheus metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithTracerProvider sets the provider used for resolve spans. Without it
// the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// WithRequestCoalescing toggles sharing one factory call between concurrent
// misses for the same descriptor.
func WithRequestCoalescing(enabled bool) Option {
	return func(c *config) {
		c.coalesce = enabled
	}
}

// WithInvalidationBus makes the cache publish its invalidations on b and
// drop L1 entries that peers invalidate.
func WithInvalidationBus(b invalidation.Bus) Option {
	return func(c *config) {
		c.bus = b
	}
}

// WithClock overrides time.Now for record timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPersistFallbackVectors controls whether records embedded with the
// fallback embedder are written to L2.
func WithPersistFallbackVectors(enabled bool) Option {
	return func(c *config) {
		c.persistFallback = enabled
	}
}

// WithPolicies sets per-kind overrides: a stricter or looser similarity
// threshold, a factory timeout, cache bypass, or keeping a kind out of L2.
func WithPolicies(r *policy.Resolver) Option {
	return func(c *config) {
		c.policies = r
	}
}
