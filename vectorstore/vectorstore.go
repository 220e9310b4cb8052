// Package vectorstore defines the persistent vector index used by the L2
// tier. Backends live in sub-packages: memstore (in-process), qdrant (REST)
// and pgvector (Postgres).
package vectorstore

import (
	"context"
	"fmt"

	"github.com/Keksclan/spawncache/vector"
)

// Payload is the schemaless metadata stored next to a vector. Values are
// strings, bools, numbers or slices of those.
type Payload map[string]any

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Point is a stored vector.
type Point struct {
	ID      string
	Vector  vector.Vector
	Payload Payload
}

// ScoredPoint is a search result. Score is the cosine similarity.
type ScoredPoint struct {
	ID      string
	Score   float64
	Vector  vector.Vector
	Payload Payload
}

// SearchRequest describes a top-k similarity query.
type SearchRequest struct {
	Vector vector.Vector
	Limit  int

	// ScoreThreshold drops results scoring below it.
	ScoreThreshold float64

	// Filter, when set, restricts candidates by payload.
	Filter *Filter

	// WithVector asks the backend to return stored vectors.
	WithVector bool
}

// CollectionInfo describes the backing collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	Backend     string `json:"backend"`
	PointsCount int64  `json:"points_count"`
	Dimension   int    `json:"dimension"`
	Status      string `json:"status"`
}

// Store is a persistent vector index.
type Store interface {
	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, points ...Point) error

	// Search returns up to req.Limit points ordered by descending score.
	Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error)

	// Get returns the point with the given id.
	Get(ctx context.Context, id string) (Point, bool, error)

	// UpdatePayload merges fields into the payload of id.
	UpdatePayload(ctx context.Context, id string, fields Payload) error

	// Delete removes points by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// DeleteByFilter removes every point matching f and reports how many
	// were removed.
	DeleteByFilter(ctx context.Context, f Filter) (int64, error)

	// CollectionInfo returns size and shape of the collection.
	CollectionInfo(ctx context.Context) (CollectionInfo, error)
}

// Error wraps a backend failure with the operation that caused it.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vectorstore: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err wrapped in an *Error, or nil if err is nil.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Err: err}
}
