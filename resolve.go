package spawncache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache/contextx"
	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/l2"
	"github.com/Keksclan/spawncache/metrics"
	"github.com/Keksclan/spawncache/policy"
	"github.com/Keksclan/spawncache/record"
	"github.com/Keksclan/spawncache/tracing"
	"github.com/Keksclan/spawncache/vector"
)

// Quality labels how close a hit was.
type Quality string

const (
	QualityNone  Quality = "none"
	QualityGood  Quality = "good"
	QualityHigh  Quality = "high"
	QualityExact Quality = "exact"
)

// HitInfo describes how a Resolve call was served.
type HitInfo struct {
	Cached     bool
	Tier       Tier
	Similarity float64
	Quality    Quality
	RecordID   string
	// Coalesced is set when the artifact came from another caller's
	// concurrent factory call.
	Coalesced bool
	// Fallback is set when the request was embedded with the hash embedder.
	Fallback bool
	Latency  time.Duration
}

// produced is the shared result of one factory call.
type produced[A any] struct {
	rec      record.Record[A]
	panicked any
}

// Resolve returns an artifact for d: a compatible cached one when the
// embedded request is similar enough to a stored record, otherwise the
// result of factory, which is then cached. Only descriptor validation errors
// and the factory's own error are returned.
func (c *Cache[A]) Resolve(ctx context.Context, d descriptor.Descriptor, factory Factory[A]) (A, HitInfo, error) {
	var zero A
	if err := d.Validate(); err != nil {
		return zero, HitInfo{Quality: QualityNone}, err
	}
	start := time.Now()

	pol := c.cfg.policies.For(d.Kind)
	if c.closed.Load() || pol.Bypass {
		a, err := callFactory(ctx, d, factory, pol.FactoryTimeout)
		latency := time.Since(start)
		c.metrics.ObserveResolve(metrics.ResultBypass, latency)
		return a, HitInfo{Quality: QualityNone, Latency: latency}, err
	}

	hash := d.ContentHash()
	ctx, span := c.tracer.StartResolve(ctx, d.Kind, hash)
	defer span.End()
	logger := contextx.Logger(ctx, c.logger).With(zap.String("kind", d.Kind), zap.String("content_hash", hash))

	v, fallback := c.embed(ctx, d.Text(), logger)

	good := c.cfg.thresholds.Good
	if pol.MinSimilarity > 0 {
		good = pol.MinSimilarity
	}
	if m, ok := c.lookup(ctx, d, hash, v, good, !pol.LocalOnly, logger); ok {
		info := HitInfo{
			Cached:     true,
			Tier:       m.Tier,
			Similarity: m.Score,
			Quality:    c.cfg.thresholds.Classify(m.Score),
			RecordID:   m.Record.ID,
			Fallback:   fallback,
			Latency:    time.Since(start),
		}
		c.stats.hit(m.Tier, info.Latency)
		c.metrics.ObserveResolve(string(m.Tier)+"_hit", info.Latency)
		c.metrics.ObserveSimilarity(m.Score)
		annotate(span, info)
		logger.Debug("cache hit", zap.String("tier", string(m.Tier)),
			zap.String("record_id", m.Record.ID), zap.Float64("similarity", m.Score))
		return m.Record.Artifact, info, nil
	}

	rec, coalesced, err := c.miss(ctx, d, hash, v, fallback, factory, pol, logger)
	info := HitInfo{
		Tier:      TierNone,
		Quality:   QualityNone,
		Coalesced: coalesced,
		Fallback:  fallback,
		Latency:   time.Since(start),
	}
	if err != nil {
		c.stats.factoryError()
		c.metrics.ObserveResolve(metrics.ResultError, info.Latency)
		tracing.RecordStatus(span, err)
		return zero, info, err
	}
	info.RecordID = rec.ID
	c.stats.miss(info.Latency, coalesced)
	c.metrics.ObserveResolve(metrics.ResultMiss, info.Latency)
	if coalesced {
		c.metrics.Coalesced()
	}
	annotate(span, info)
	return rec.Artifact, info, nil
}

func annotate(span trace.Span, info HitInfo) {
	span.SetAttributes(
		tracing.AttrCached.Bool(info.Cached),
		tracing.AttrTier.String(string(info.Tier)),
		tracing.AttrQuality.String(string(info.Quality)),
		tracing.AttrSimilarity.Float64(info.Similarity),
		tracing.AttrRecordID.String(info.RecordID),
		tracing.AttrFallback.Bool(info.Fallback),
		tracing.AttrCoalesced.Bool(info.Coalesced),
	)
}

// embed returns the model vector for text, or the hash embedder's vector if
// the model fails, panics or returns the wrong dimension.
func (c *Cache[A]) embed(ctx context.Context, text string, logger *zap.Logger) (v vector.Vector, fallback bool) {
	ctx, span := c.tracer.StartStage(ctx, tracing.StageEmbed)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("embedder panicked; using fallback vector", zap.Any("panic", r), zap.Stack("stack"))
			c.stats.degraded(degradedEmbed)
			c.metrics.Degraded(metrics.StagePanic)
			v, fallback = c.fallback.Vector(text), true
		}
	}()

	v, err := c.embedder.Embed(ctx, text)
	if err == nil {
		err = vector.Check(v, c.cfg.dimension)
	}
	if err != nil {
		tracing.RecordStatus(span, err)
		c.stats.degraded(degradedEmbed)
		var dm *vector.DimensionMismatchError
		if errors.As(err, &dm) {
			logger.Error("embedding has wrong dimension; using fallback vector", zap.Error(err))
			c.metrics.Degraded(metrics.StageDimension)
		} else {
			logger.Warn("embedding failed; using fallback vector", zap.Error(err))
			c.metrics.Degraded(metrics.StageEmbed)
		}
		return c.fallback.Vector(text), true
	}
	return v, false
}

// lookup runs the L1 then, if useL2, the L2 search. A panic anywhere in it
// is a miss.
func (c *Cache[A]) lookup(ctx context.Context, d descriptor.Descriptor, hash string, v vector.Vector, good float64, useL2 bool, logger *zap.Logger) (m record.Match[A], ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cache lookup panicked; treating as miss", zap.Any("panic", r), zap.Stack("stack"))
			c.stats.degraded(degradedPanic)
			c.metrics.Degraded(metrics.StagePanic)
			m, ok = record.Match[A]{}, false
		}
	}()

	if c.l1 != nil {
		if m, ok = c.lookupL1(ctx, d, hash, v, good); ok {
			return m, true
		}
	}
	if c.l2 != nil && useL2 {
		return c.lookupL2(ctx, d, v, good, logger)
	}
	return record.Match[A]{}, false
}

func (c *Cache[A]) lookupL1(ctx context.Context, d descriptor.Descriptor, hash string, v vector.Vector, good float64) (record.Match[A], bool) {
	_, span := c.tracer.StartStage(ctx, tracing.StageL1)
	defer span.End()

	m, ok := record.Match[A]{}, false
	if rec, found := c.l1.FindByHash(hash); found && l2.Compatible(d, rec.Descriptor) {
		m, ok = record.Match[A]{Record: rec, Score: 1, Tier: TierL1}, true
	} else if m, ok = c.l1.FindBestMatch(v, good); ok && !l2.Compatible(d, m.Record.Descriptor) {
		ok = false
	}
	if !ok {
		return record.Match[A]{}, false
	}

	m.Record = m.Record.Touch(c.cfg.now(), c.cfg.ttlTiers)
	c.l1.Touch(m.Record)
	return m, true
}

func (c *Cache[A]) lookupL2(ctx context.Context, d descriptor.Descriptor, v vector.Vector, good float64, logger *zap.Logger) (record.Match[A], bool) {
	ctx, span := c.tracer.StartStage(ctx, tracing.StageL2)
	m, ok, err := c.l2.Lookup(ctx, d, v, good)
	tracing.End(span, err)
	if err != nil {
		logger.Warn("l2 search failed; treating as miss", zap.Error(err))
		c.stats.degraded(degradedL2Search)
		c.metrics.Degraded(metrics.StageL2Search)
		return record.Match[A]{}, false
	}
	if !ok {
		return record.Match[A]{}, false
	}

	m.Record = m.Record.Touch(c.cfg.now(), c.cfg.ttlTiers)
	if c.l1 != nil {
		c.l1.Insert(m.Record)
		c.metrics.SetL1Entries(c.l1.Len())
	}
	c.l2.UpdateAccess(ctx, m.Record, func(error) {
		c.stats.degraded(degradedL2Update)
		c.metrics.Degraded(metrics.StageL2Update)
	})
	return m, true
}

// miss runs the factory, coalescing concurrent callers for the same content
// hash when enabled. The shared call runs detached from any single caller's
// cancellation; each waiter leaves on its own ctx, and the call is cancelled
// once nobody waits for it.
func (c *Cache[A]) miss(ctx context.Context, d descriptor.Descriptor, hash string, v vector.Vector, fallback bool, factory Factory[A], pol policy.Policy, logger *zap.Logger) (record.Record[A], bool, error) {
	if !c.cfg.coalesce {
		p, err := c.produce(ctx, d, v, fallback, factory, pol, logger)
		return p.rec, false, err
	}

	for {
		fctx, leave := c.join(ctx, hash)
		var leader atomic.Bool
		ch := c.group.DoChan(hash, func() (any, error) {
			leader.Store(true)
			p, err := c.produce(fctx, d, v, fallback, factory, pol, logger)
			if err != nil && fctx.Err() != nil {
				err = errAbandoned
			}
			return p, err
		})

		select {
		case res := <-ch:
			leave()
			if errors.Is(res.Err, errAbandoned) {
				// The call was started for callers that have all gone.
				if err := ctx.Err(); err != nil {
					return record.Record[A]{}, !leader.Load(), err
				}
				continue
			}
			p := res.Val.(produced[A])
			if p.panicked != nil {
				panic(p.panicked)
			}
			return p.rec, !leader.Load(), res.Err
		case <-ctx.Done():
			leave()
			return record.Record[A]{}, !leader.Load(), ctx.Err()
		}
	}
}

// produce calls the factory and caches its result. A factory panic is
// captured so that coalesced callers re-raise it in their own goroutine.
func (c *Cache[A]) produce(ctx context.Context, d descriptor.Descriptor, v vector.Vector, fallback bool, factory Factory[A], pol policy.Policy, logger *zap.Logger) (p produced[A], err error) {
	fctx, span := c.tracer.StartStage(ctx, tracing.StageFactory)
	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.panicked = r
			}
		}()
		var a A
		a, err = callFactory(fctx, d, factory, pol.FactoryTimeout)
		p.rec.Artifact = a
	}()
	latency := time.Since(start)
	tracing.End(span, err)
	c.metrics.ObserveFactory(latency)

	if p.panicked != nil {
		if !c.cfg.coalesce {
			panic(p.panicked)
		}
		return p, nil
	}
	if err != nil {
		logger.Debug("factory failed", zap.Error(err), zap.Duration("latency", latency))
		return p, err
	}

	p.rec = record.New(d, v, p.rec.Artifact, latency, c.cfg.now(), c.cfg.ttlTiers)
	p.rec.Fallback = fallback
	c.insert(ctx, p.rec, !pol.LocalOnly, logger)
	return p, nil
}

// callFactory runs factory, bounded by timeout when positive.
func callFactory[A any](ctx context.Context, d descriptor.Descriptor, factory Factory[A], timeout time.Duration) (A, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return factory(ctx, d)
}

func (c *Cache[A]) insert(ctx context.Context, rec record.Record[A], persist bool, logger *zap.Logger) {
	if c.l1 != nil {
		c.l1.Insert(rec)
		c.metrics.SetL1Entries(c.l1.Len())
	}
	if c.l2 == nil || !persist || (rec.Fallback && !c.cfg.persistFallback) {
		return
	}
	ctx, span := c.tracer.StartStage(ctx, tracing.StageStore)
	err := c.l2.Store(ctx, rec)
	tracing.End(span, err)
	if err != nil {
		logger.Warn("l2 write failed; artifact returned uncached in l2", zap.String("record_id", rec.ID), zap.Error(err))
		c.stats.degraded(degradedL2Write)
		c.metrics.Degraded(metrics.StageL2Store)
	}
}
