// Package pgvector implements vectorstore.Store on Postgres with the
// pgvector extension. Payloads live in a JSONB column; similarity is
// 1 - cosine distance (the <=> operator).
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/Keksclan/spawncache/vectorstore"
)

const backend = "pgvector"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store is a pgvector-backed vector store bound to one table.
type Store struct {
	db    *sqlx.DB
	table string
	dim   int
}

// Open connects to dsn with lib/pq.
func Open(dsn, table string, dim int) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, vectorstore.Wrap(backend, "open", err)
	}
	return New(db, table, dim)
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, table string, dim int) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", table)
	}
	if dim <= 0 {
		return nil, errors.New("pgvector: dimension must be > 0")
	}
	return &Store{db: db, table: table, dim: dim}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the extension, table and HNSW index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, s.table, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return vectorstore.Wrap(backend, "ensure_schema", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload
	`, s.table)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return vectorstore.Wrap(backend, "upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range points {
		if p.ID == "" {
			return vectorstore.Wrap(backend, "upsert", errors.New("empty point id"))
		}
		payload, err := marshalPayload(p.Payload)
		if err != nil {
			return vectorstore.Wrap(backend, "upsert", err)
		}
		if _, err := tx.ExecContext(ctx, query, p.ID, pgv.NewVector(p.Vector), payload); err != nil {
			return vectorstore.Wrap(backend, "upsert", err)
		}
	}
	return vectorstore.Wrap(backend, "upsert", tx.Commit())
}

func (s *Store) Search(ctx context.Context, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	args := []any{pgv.NewVector(req.Vector), req.ScoreThreshold, req.Limit}
	where := "1 - (embedding <=> $1) >= $2"
	if req.Filter != nil {
		clause, fargs, err := buildWhere(*req.Filter, len(args)+1)
		if err != nil {
			return nil, vectorstore.Wrap(backend, "search", err)
		}
		if clause != "" {
			where += " AND " + clause
			args = append(args, fargs...)
		}
	}

	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, embedding, payload
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $3
	`, s.table, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vectorstore.Wrap(backend, "search", err)
	}
	defer rows.Close()

	var out []vectorstore.ScoredPoint
	for rows.Next() {
		var (
			sp  vectorstore.ScoredPoint
			emb pgv.Vector
			raw []byte
		)
		if err := rows.Scan(&sp.ID, &sp.Score, &emb, &raw); err != nil {
			return nil, vectorstore.Wrap(backend, "search", err)
		}
		if sp.Payload, err = unmarshalPayload(raw); err != nil {
			return nil, vectorstore.Wrap(backend, "search", err)
		}
		if req.WithVector {
			sp.Vector = emb.Slice()
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorstore.Wrap(backend, "search", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (vectorstore.Point, bool, error) {
	query := fmt.Sprintf(`SELECT embedding, payload FROM %s WHERE id = $1`, s.table)
	var (
		emb pgv.Vector
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&emb, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return vectorstore.Point{}, false, nil
	}
	if err != nil {
		return vectorstore.Point{}, false, vectorstore.Wrap(backend, "get", err)
	}
	payload, err := unmarshalPayload(raw)
	if err != nil {
		return vectorstore.Point{}, false, vectorstore.Wrap(backend, "get", err)
	}
	return vectorstore.Point{ID: id, Vector: emb.Slice(), Payload: payload}, true, nil
}

func (s *Store) UpdatePayload(ctx context.Context, id string, fields vectorstore.Payload) error {
	patch, err := marshalPayload(fields)
	if err != nil {
		return vectorstore.Wrap(backend, "update_payload", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET payload = payload || $2::jsonb WHERE id = $1`, s.table)
	_, err = s.db.ExecContext(ctx, query, id, patch)
	return vectorstore.Wrap(backend, "update_payload", err)
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	_, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	return vectorstore.Wrap(backend, "delete", err)
}

func (s *Store) DeleteByFilter(ctx context.Context, f vectorstore.Filter) (int64, error) {
	clause, args, err := buildWhere(f, 1)
	if err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}
	if clause == "" {
		clause = "TRUE"
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, s.table, clause), args...)
	if err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}
	n, err := res.RowsAffected()
	return n, vectorstore.Wrap(backend, "delete_by_filter", err)
}

func (s *Store) CollectionInfo(ctx context.Context) (vectorstore.CollectionInfo, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)); err != nil {
		return vectorstore.CollectionInfo{}, vectorstore.Wrap(backend, "info", err)
	}
	return vectorstore.CollectionInfo{
		Name:        s.table,
		Backend:     backend,
		PointsCount: count,
		Dimension:   s.dim,
		Status:      "green",
	}, nil
}

// buildWhere renders f as SQL over the payload column. Placeholders start at
// $first. Keys are passed as parameters, never interpolated.
func buildWhere(f vectorstore.Filter, first int) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}
	var (
		parts []string
		args  []any
		n     = first
	)
	next := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", n)
		n++
		return p
	}

	for _, c := range f.Must {
		if c.Range != nil {
			field := fmt.Sprintf("(payload->>%s)::double precision", next(c.Key))
			ops := []struct {
				bound *float64
				op    string
			}{{c.Range.Lt, "<"}, {c.Range.Gt, ">"}, {c.Range.Lte, "<="}, {c.Range.Gte, ">="}}
			for _, o := range ops {
				if o.bound != nil {
					parts = append(parts, fmt.Sprintf("%s %s %s", field, o.op, next(*o.bound)))
				}
			}
			continue
		}

		// A scalar field matches {"k": v}; a list field matches {"k": [v]}.
		scalar, err := json.Marshal(map[string]any{c.Key: c.Match})
		if err != nil {
			return "", nil, err
		}
		list, err := json.Marshal(map[string]any{c.Key: []any{c.Match}})
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, fmt.Sprintf("(payload @> %s::jsonb OR payload @> %s::jsonb)", next(string(scalar)), next(string(list))))
	}
	return strings.Join(parts, " AND "), args, nil
}

func marshalPayload(p vectorstore.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func unmarshalPayload(raw []byte) (vectorstore.Payload, error) {
	if len(raw) == 0 {
		return vectorstore.Payload{}, nil
	}
	var p vectorstore.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
