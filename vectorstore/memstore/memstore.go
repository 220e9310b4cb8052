// Package memstore is an in-process vectorstore.Store with brute-force
// search. It backs tests and single-process deployments.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore"
)

const backend = "memory"

// Store holds points in a map guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	points map[string]vectorstore.Point
	name   string
	dim    int
}

// New creates an empty store. dim is reported by CollectionInfo only.
func New(name string, dim int) *Store {
	return &Store{points: make(map[string]vectorstore.Point), name: name, dim: dim}
}

func (s *Store) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	if err := ctx.Err(); err != nil {
		return vectorstore.Wrap(backend, "upsert", err)
	}
	for _, p := range points {
		if p.ID == "" {
			return vectorstore.Wrap(backend, "upsert", errors.New("empty point id"))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = vectorstore.Point{ID: p.ID, Vector: p.Vector.Clone(), Payload: p.Payload.Clone()}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, vectorstore.Wrap(backend, "search", err)
	}
	if req.Limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	var out []vectorstore.ScoredPoint
	for _, p := range s.points {
		if req.Filter != nil && !req.Filter.Matches(p.Payload) {
			continue
		}
		score := vector.Cosine(req.Vector, p.Vector)
		if score < req.ScoreThreshold {
			continue
		}
		sp := vectorstore.ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload.Clone()}
		if req.WithVector {
			sp.Vector = p.Vector.Clone()
		}
		out = append(out, sp)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b vectorstore.ScoredPoint) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (vectorstore.Point, bool, error) {
	if err := ctx.Err(); err != nil {
		return vectorstore.Point{}, false, vectorstore.Wrap(backend, "get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[id]
	if !ok {
		return vectorstore.Point{}, false, nil
	}
	return vectorstore.Point{ID: p.ID, Vector: p.Vector.Clone(), Payload: p.Payload.Clone()}, true, nil
}

func (s *Store) UpdatePayload(ctx context.Context, id string, fields vectorstore.Payload) error {
	if err := ctx.Err(); err != nil {
		return vectorstore.Wrap(backend, "update_payload", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[id]
	if !ok {
		return nil
	}
	merged := p.Payload.Clone()
	if merged == nil {
		merged = make(vectorstore.Payload, len(fields))
	}
	for k, v := range fields {
		merged[k] = v
	}
	p.Payload = merged
	s.points[id] = p
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return vectorstore.Wrap(backend, "delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, f vectorstore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}
	if err := f.Validate(); err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.points {
		if f.Matches(p.Payload) {
			delete(s.points, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CollectionInfo(ctx context.Context) (vectorstore.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return vectorstore.CollectionInfo{}, vectorstore.Wrap(backend, "info", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return vectorstore.CollectionInfo{
		Name:        s.name,
		Backend:     backend,
		PointsCount: int64(len(s.points)),
		Dimension:   s.dim,
		Status:      "green",
	}, nil
}
