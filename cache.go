// Package spawncache is a multi-level semantic cache for expensive factory
// calls.
//
// A request descriptor is embedded into a vector space. Resolve serves the
// nearest previously produced artifact when it is similar enough and
// compatible, looking first in an in-process tier (L1) and then in a
// persistent vector store (L2), and only calls the factory on a double miss.
// Cache failures never reach the caller: they degrade to a factory call.
package spawncache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/embed"
	"github.com/Keksclan/spawncache/invalidation"
	"github.com/Keksclan/spawncache/l1"
	"github.com/Keksclan/spawncache/l2"
	"github.com/Keksclan/spawncache/metrics"
	"github.com/Keksclan/spawncache/record"
	"github.com/Keksclan/spawncache/tracing"
	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore"
)

// Tier identifies which level served a result.
type Tier = record.Tier

const (
	TierNone = record.TierNone
	TierL1   = record.TierL1
	TierL2   = record.TierL2
)

// Factory produces an artifact for a descriptor. It is the only expensive
// call and is never retried by the cache.
type Factory[A any] func(ctx context.Context, d descriptor.Descriptor) (A, error)

// Cache resolves descriptors to artifacts through L1, L2 and a factory.
// All methods are safe for concurrent use.
type Cache[A any] struct {
	cfg    config
	origin string

	embedder embed.Embedder
	fallback *embed.Hash

	l1 *l1.Tier[A]
	l2 *l2.Tier[A]

	stats   *stats
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *zap.Logger

	group     singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight

	closed      atomic.Bool
	unsubscribe func() error
}

// New creates a Cache. store may be nil to run without L2; embedder may be
// nil to embed with the local hash embedder only. An embedder that declares
// a dimension other than the configured one is rejected with a
// *vector.DimensionMismatchError.
func New[A any](store vectorstore.Store, embedder embed.Embedder, opts ...Option) (*Cache[A], error) {
	cfg := baseConfig()
	for _, o := range DefaultOptions() {
		o(&cfg)
	}
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	fallback := embed.NewHash(cfg.dimension)
	if embedder == nil {
		embedder = fallback
	}
	if dm, ok := embedder.(embed.Dimensioner); ok {
		if got := dm.Dimension(); got != 0 && got != cfg.dimension {
			return nil, &vector.DimensionMismatchError{Want: cfg.dimension, Got: got}
		}
	}

	c := &Cache[A]{
		cfg:      cfg,
		origin:   uuid.NewString(),
		embedder: embedder,
		fallback: fallback,
		stats:    newStats(cfg.now),
		flights:  make(map[string]*flight),
		tracer:   tracing.New(cfg.tracerProvider),
		logger:   cfg.logger.Named("spawncache"),
	}
	if cfg.registerer != nil {
		c.metrics = metrics.New(cfg.registerer)
	}

	if cfg.l1.Enabled {
		c.l1 = l1.New[A](l1.Config{
			MaxEntries: cfg.l1.MaxEntries,
			TTL:        cfg.l1.TTL,
			Now:        cfg.now,
		})
	}
	if store != nil && cfg.l2.Enabled {
		c.l2 = l2.New(l2.Config[A]{
			Store:       store,
			Dimension:   cfg.dimension,
			SearchLimit: cfg.l2.SearchLimit,
			Timeout:     cfg.l2.Timeout,
			Breaker:     cfg.l2.Breaker,
			Retry:       cfg.l2.Retry,
			Logger:      cfg.logger,
		})
	}

	if cfg.bus != nil {
		unsub, err := cfg.bus.Subscribe(context.Background(), c.onInvalidation)
		if err != nil {
			return nil, fmt.Errorf("spawncache: subscribe to invalidations: %w", err)
		}
		c.unsubscribe = unsub
	}

	c.logger.Info("cache ready",
		zap.Bool("l1", c.l1 != nil),
		zap.Bool("l2", c.l2 != nil),
		zap.Int("dimension", cfg.dimension),
		zap.Float64("good_threshold", cfg.thresholds.Good),
		zap.Bool("coalescing", cfg.coalesce),
	)
	return c, nil
}

// Warm stores artifact for d without calling a factory and returns the new
// record id. Unlike Resolve, an L2 write failure is returned.
func (c *Cache[A]) Warm(ctx context.Context, d descriptor.Descriptor, artifact A) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	if err := d.Validate(); err != nil {
		return "", err
	}
	v, fallback := c.embed(ctx, d.Text(), c.logger)
	rec := record.New(d, v, artifact, 0, c.cfg.now(), c.cfg.ttlTiers)
	rec.Fallback = fallback

	if c.l1 != nil {
		c.l1.Insert(rec)
		c.metrics.SetL1Entries(c.l1.Len())
	}
	if c.l2 != nil && !c.cfg.policies.For(d.Kind).LocalOnly && (!fallback || c.cfg.persistFallback) {
		if err := c.l2.Store(ctx, rec); err != nil {
			return rec.ID, err
		}
	}
	return rec.ID, nil
}

// Invalidate removes records by id from both tiers and tells peers on the
// invalidation bus to drop them from their L1. L2 failures are returned.
func (c *Cache[A]) Invalidate(ctx context.Context, ids ...string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, ids...); err != nil {
			return err
		}
	}
	c.dropL1(ids, nil)
	c.metrics.Invalidated(len(ids))
	return c.publish(ctx, invalidation.Message{Origin: c.origin, IDs: ids})
}

// InvalidateMatching removes every record whose payload matches f and
// reports how many L2 records were deleted. Use l2.FilterFor to target
// records compatible with a descriptor.
func (c *Cache[A]) InvalidateMatching(ctx context.Context, f vectorstore.Filter) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if len(f.Must) == 0 {
		return 0, errors.New("spawncache: refusing to invalidate with an empty filter")
	}

	var n int64
	if c.l2 != nil {
		var err error
		if n, err = c.l2.DeleteMatching(ctx, f); err != nil {
			return 0, err
		}
	}
	removed := c.dropL1(nil, &f)
	if c.l2 == nil {
		n = int64(removed)
	}
	c.metrics.Invalidated(int(n))
	return n, c.publish(ctx, invalidation.Message{Origin: c.origin, Filter: &f})
}

// SweepExpired deletes L2 records whose TTL elapsed before now.
func (c *Cache[A]) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if c.l2 == nil {
		return 0, ErrL2Disabled
	}
	ctx, span := c.tracer.StartStage(ctx, tracing.StageSweep)
	n, err := c.l2.SweepExpired(ctx, now)
	tracing.End(span, err)
	return n, err
}

// L2Status is the backing collection's info plus the state of the L2
// search breaker.
type L2Status struct {
	vectorstore.CollectionInfo
	Breaker string `json:"breaker"`
}

// L2Info describes the backing vector store collection.
func (c *Cache[A]) L2Info(ctx context.Context) (L2Status, error) {
	if c.l2 == nil {
		return L2Status{}, ErrL2Disabled
	}
	info, err := c.l2.Info(ctx)
	if err != nil {
		return L2Status{}, err
	}
	return L2Status{CollectionInfo: info, Breaker: c.l2.BreakerState().String()}, nil
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache[A]) Stats() Statistics {
	return c.stats.snapshot(c.l1Len())
}

// Metrics returns the collector registered through WithMetrics, or nil.
func (c *Cache[A]) Metrics() *metrics.Collector {
	return c.metrics
}

// ResetStats zeroes counters and uptime. Cached entries are kept.
func (c *Cache[A]) ResetStats() {
	c.stats.reset()
}

// Close stops bus delivery and waits for background L2 writes or ctx. After
// Close, Resolve calls the factory directly and maintenance calls return
// ErrClosed.
func (c *Cache[A]) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c.unsubscribe != nil {
		errs = append(errs, c.unsubscribe())
	}
	if c.l2 != nil {
		errs = append(errs, c.l2.Close(ctx))
	}
	if c.l1 != nil {
		c.l1.Purge()
		c.metrics.SetL1Entries(0)
	}
	return errors.Join(errs...)
}

func (c *Cache[A]) l1Len() int {
	if c.l1 == nil {
		return 0
	}
	return c.l1.Len()
}

// dropL1 removes ids and, when f is set, every L1 record matching f.
func (c *Cache[A]) dropL1(ids []string, f *vectorstore.Filter) int {
	if c.l1 == nil {
		return 0
	}
	n := 0
	for _, id := range ids {
		if c.l1.Remove(id) {
			n++
		}
	}
	if f != nil {
		n += c.l1.RemoveFunc(func(r record.Record[A]) bool {
			return f.Matches(l2.Metadata(r))
		})
	}
	c.metrics.SetL1Entries(c.l1.Len())
	return n
}

func (c *Cache[A]) publish(ctx context.Context, msg invalidation.Message) error {
	if c.cfg.bus == nil {
		return nil
	}
	if err := c.cfg.bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("spawncache: publish invalidation: %w", err)
	}
	return nil
}

func (c *Cache[A]) onInvalidation(_ context.Context, msg invalidation.Message) {
	if msg.Origin == c.origin {
		return
	}
	n := c.dropL1(msg.IDs, msg.Filter)
	c.logger.Debug("peer invalidation applied",
		zap.String("origin", msg.Origin), zap.Int("removed", n))
}
