package spawncache

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache/breaker"
	"github.com/Keksclan/spawncache/invalidation"
	"github.com/Keksclan/spawncache/l1"
	"github.com/Keksclan/spawncache/l2"
	"github.com/Keksclan/spawncache/policy"
	"github.com/Keksclan/spawncache/retry"
	"github.com/Keksclan/spawncache/ttltier"
	"github.com/Keksclan/spawncache/vector"
)

// Thresholds are cosine-similarity cut-offs. Only Good gates whether a
// candidate is served; Exact and High label hits for telemetry.
type Thresholds struct {
	Exact float64
	High  float64
	Good  float64
}

// DefaultThresholds returns {0.98, 0.92, 0.85}.
func DefaultThresholds() Thresholds {
	return Thresholds{Exact: 0.98, High: 0.92, Good: 0.85}
}

// Validate requires 0 < Good <= High <= Exact <= 1.
func (t Thresholds) Validate() error {
	if !(t.Good > 0 && t.Good <= t.High && t.High <= t.Exact && t.Exact <= 1) {
		return fmt.Errorf("spawncache: invalid thresholds %+v", t)
	}
	return nil
}

// Classify labels a similarity score.
func (t Thresholds) Classify(score float64) Quality {
	switch {
	case score >= t.Exact:
		return QualityExact
	case score >= t.High:
		return QualityHigh
	case score >= t.Good:
		return QualityGood
	}
	return QualityNone
}

// L1Config controls the in-process tier.
type L1Config struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

// L2Config controls the persistent tier. It is only used when a store is
// passed to New.
type L2Config struct {
	Enabled     bool
	SearchLimit int
	Timeout     time.Duration
	Breaker     breaker.Config
	Retry       retry.Config
}

// config holds the internal configuration assembled via functional options.
type config struct {
	l1         L1Config
	l2         L2Config
	thresholds Thresholds
	dimension  int
	ttlTiers   ttltier.Table

	logger         *zap.Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	bus            invalidation.Bus

	policies *policy.Resolver

	coalesce        bool
	persistFallback bool
	now             func() time.Time
}

func baseConfig() config {
	return config{
		l1: L1Config{Enabled: true, MaxEntries: l1.DefaultMaxEntries, TTL: l1.DefaultTTL},
		l2: L2Config{
			Enabled:     true,
			SearchLimit: l2.DefaultSearchLimit,
			Timeout:     l2.DefaultTimeout,
			Retry:       retry.Default(),
		},
		thresholds: DefaultThresholds(),
		dimension:  vector.DefaultDimension,
		ttlTiers:   ttltier.Default(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
}

func (c config) validate() error {
	if err := c.thresholds.Validate(); err != nil {
		return err
	}
	if c.dimension <= 0 {
		return fmt.Errorf("spawncache: dimension must be positive, got %d", c.dimension)
	}
	if c.ttlTiers.Empty() {
		return fmt.Errorf("spawncache: TTL tier table has no positive TTL")
	}
	return nil
}
