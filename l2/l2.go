// Package l2 adapts a vectorstore.Store into the persistent cache tier.
//
// Reads fail open: a failing or tripped store yields "no match" so resolve
// falls through to the factory. Writes are retried a bounded number of times
// and surface as *StoreWriteError. Maintenance calls (Delete,
// DeleteMatching, SweepExpired) return errors to their caller.
package l2

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Keksclan/spawncache/breaker"
	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/record"
	"github.com/Keksclan/spawncache/retry"
	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore"
)

// DefaultSearchLimit is the number of neighbours requested per lookup. Only
// the best one is validated.
const DefaultSearchLimit = 5

// DefaultTimeout bounds every store call.
const DefaultTimeout = 2 * time.Second

// StoreWriteError reports a record that could not be persisted.
type StoreWriteError struct {
	RecordID string
	Err      error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("l2: store record %s: %v", e.RecordID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Config configures a Tier.
type Config[A any] struct {
	Store vectorstore.Store

	// Codec encodes artifacts. Defaults to JSONCodec.
	Codec Codec[A]

	// Dimension is the system vector dimension; stored vectors of another
	// length are dropped from search results.
	Dimension int

	// SearchLimit is k for top-k lookups. Defaults to DefaultSearchLimit.
	SearchLimit int

	// Timeout bounds each store call. Defaults to DefaultTimeout.
	Timeout time.Duration

	Breaker breaker.Config
	Retry   retry.Config

	Logger *zap.Logger
}

// Tier is the persistent cache tier.
type Tier[A any] struct {
	store   vectorstore.Store
	codec   Codec[A]
	dim     int
	limit   int
	timeout time.Duration
	breaker *breaker.Breaker
	retry   retry.Config
	logger  *zap.Logger

	mu      sync.Mutex // guards closing and wg.Add
	closing bool
	wg      sync.WaitGroup
}

// New creates a Tier.
func New[A any](cfg Config[A]) *Tier[A] {
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec[A]{}
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = vector.DefaultDimension
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	logger := cfg.Logger.Named("l2")
	bcfg := cfg.Breaker
	if bcfg.OnStateChange == nil {
		bcfg.OnStateChange = func(from, to breaker.State) {
			logger.Warn("vector store breaker state changed",
				zap.Stringer("from", from), zap.Stringer("to", to))
		}
	}

	return &Tier[A]{
		store:   cfg.Store,
		codec:   cfg.Codec,
		dim:     cfg.Dimension,
		limit:   cfg.SearchLimit,
		timeout: cfg.Timeout,
		breaker: breaker.New(bcfg),
		retry:   cfg.Retry,
		logger:  logger,
	}
}

// Search returns up to k decoded records scoring at or above threshold, best
// first. On any failure it returns no matches and the error, which callers
// log and count but do not propagate.
func (t *Tier[A]) Search(ctx context.Context, v vector.Vector, threshold float64) ([]record.Match[A], error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var points []vectorstore.ScoredPoint
	err := t.breaker.Do(func() error {
		var err error
		points, err = t.store.Search(ctx, vectorstore.SearchRequest{
			Vector:         v,
			Limit:          t.limit,
			ScoreThreshold: threshold,
			WithVector:     true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	matches := make([]record.Match[A], 0, len(points))
	for _, p := range points {
		if p.Score < threshold {
			continue
		}
		rec, err := fromPayload(p.ID, p.Payload, t.codec)
		if err != nil {
			t.logger.Warn("dropping undecodable record", zap.String("record_id", p.ID), zap.Error(err))
			continue
		}
		if err := vector.Check(p.Vector, t.dim); err != nil {
			t.logger.Error("dropping record with wrong dimension", zap.String("record_id", p.ID), zap.Error(err))
			continue
		}
		rec.Vector = p.Vector
		matches = append(matches, record.Match[A]{Record: rec, Score: p.Score, Tier: record.TierL2})
	}
	slices.SortStableFunc(matches, func(a, b record.Match[A]) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return matches, nil
}

// Lookup searches for v and validates only the best candidate against d.
// A best candidate that fails validation is a miss; lower-ranked candidates
// are not considered.
func (t *Tier[A]) Lookup(ctx context.Context, d descriptor.Descriptor, v vector.Vector, threshold float64) (record.Match[A], bool, error) {
	matches, err := t.Search(ctx, v, threshold)
	if err != nil || len(matches) == 0 {
		return record.Match[A]{}, false, err
	}
	best := matches[0]
	if !Compatible(d, best.Record.Descriptor) {
		t.logger.Debug("best candidate incompatible",
			zap.String("record_id", best.Record.ID), zap.Float64("similarity", best.Score))
		return record.Match[A]{}, false, nil
	}
	return best, true, nil
}

// Compatible reports whether a record cached for cached may serve requested:
// the kinds are equal, every requested capability is present in the cached
// set, and the specializations match when both are given.
func Compatible(requested, cached descriptor.Descriptor) bool {
	requested, cached = requested.Stable(), cached.Stable()
	if requested.Kind != cached.Kind {
		return false
	}
	for _, c := range requested.Capabilities {
		if _, ok := slices.BinarySearch(cached.Capabilities, c); !ok {
			return false
		}
	}
	if requested.Specialization != "" && cached.Specialization != "" &&
		requested.Specialization != cached.Specialization {
		return false
	}
	return true
}

// Store upserts rec, retrying transient failures.
func (t *Tier[A]) Store(ctx context.Context, rec record.Record[A]) error {
	payload, err := toPayload(rec, t.codec)
	if err != nil {
		return &StoreWriteError{RecordID: rec.ID, Err: err}
	}
	point := vectorstore.Point{ID: rec.ID, Vector: rec.Vector, Payload: payload}

	_, err = retry.Do(ctx, t.retry, func(ctx context.Context) (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		return struct{}{}, t.store.Upsert(ctx, point)
	})
	if err != nil {
		return &StoreWriteError{RecordID: rec.ID, Err: err}
	}
	return nil
}

// UpdateAccess writes rec's access metadata in the background. Failures are
// logged and reported to onErr (if set); they never reach the caller. The
// write outlives ctx's cancellation but not the tier's timeout. After Close
// it does nothing.
func (t *Tier[A]) UpdateAccess(ctx context.Context, rec record.Record[A], onErr func(error)) {
	fields := accessPayload(rec)
	ctx = context.WithoutCancel(ctx)

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		t.logger.Debug("tier closed; access update dropped", zap.String("record_id", rec.ID))
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		if err := t.store.UpdatePayload(ctx, rec.ID, fields); err != nil {
			t.logger.Warn("update access failed", zap.String("record_id", rec.ID), zap.Error(err))
			if onErr != nil {
				onErr(err)
			}
		}
	}()
}

// Close stops accepting access updates and blocks until the ones in flight
// have finished or ctx is done. It may be called more than once.
func (t *Tier[A]) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	return t.wait(ctx)
}

func (t *Tier[A]) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// get loads a single record by id.
func (t *Tier[A]) get(ctx context.Context, id string) (record.Record[A], bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	p, ok, err := t.store.Get(ctx, id)
	if err != nil || !ok {
		return record.Record[A]{}, false, err
	}
	rec, err := fromPayload(p.ID, p.Payload, t.codec)
	if err != nil {
		return record.Record[A]{}, false, err
	}
	rec.Vector = p.Vector
	return rec, true, nil
}

// Delete removes records by id.
func (t *Tier[A]) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.Delete(ctx, ids...)
}

// DeleteMatching removes every record whose payload matches f.
func (t *Tier[A]) DeleteMatching(ctx context.Context, f vectorstore.Filter) (int64, error) {
	if len(f.Must) == 0 {
		return 0, errors.New("l2: refusing to delete with an empty filter")
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.DeleteByFilter(ctx, f)
}

// SweepExpired removes every record whose TTL elapsed before now.
func (t *Tier[A]) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := t.DeleteMatching(ctx, vectorstore.Filter{
		Must: []vectorstore.Condition{vectorstore.Before(FieldTTLExpires, float64(now.UnixMilli()))},
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Info("expired records swept", zap.Int64("deleted", n))
	}
	return n, nil
}

// Info returns the backing collection's info.
func (t *Tier[A]) Info(ctx context.Context) (vectorstore.CollectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.CollectionInfo(ctx)
}

// BreakerState exposes the search breaker state.
func (t *Tier[A]) BreakerState() breaker.State {
	return t.breaker.State()
}
