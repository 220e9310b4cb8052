// Package qdrant implements vectorstore.Store on top of Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore"
)

const backend = "qdrant"

// originalIDField keeps ids that are not UUIDs recoverable after they are
// mapped onto a stable UUID.
const originalIDField = "_id"

// Config configures the Qdrant store.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`

	// Dimension is the vector size used when the collection is created.
	Dimension int `yaml:"dimension"`

	// AutoCreateCollection creates the collection (cosine distance) on first
	// write if it does not exist yet.
	AutoCreateCollection bool `yaml:"auto_create_collection"`
}

// Store talks to one Qdrant collection.
type Store struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// New creates a Qdrant-backed store.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant: collection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = vector.DefaultDimension
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &Store{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}, nil
}

var pointNamespace = uuid.MustParse("6f1c3b7e-2a4d-4c8e-9b1a-0d5e7f9a3c21")

// pointID maps id to a Qdrant-compatible UUID. UUIDs pass through.
func pointID(id string) (string, bool) {
	if u, err := uuid.Parse(id); err == nil {
		return u.String(), true
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String(), false
}

// statusError is a non-2xx response.
type statusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("request failed: method=%s path=%s status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *Store) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *Store) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &statusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// EnsureCollection creates the collection if AutoCreateCollection is set.
// It runs at most once per Store; a 409 means the collection already exists.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     s.cfg.Dimension,
				"distance": "Cosine",
			},
		}
		err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil)
		var se *statusError
		if errors.As(err, &se) && se.Status == http.StatusConflict {
			err = nil
		}
		s.ensureErr = err
		if err == nil {
			s.logger.Info("qdrant collection ready", zap.String("collection", s.cfg.Collection))
		}
	})
	return vectorstore.Wrap(backend, "ensure_collection", s.ensureErr)
}

type wirePoint struct {
	ID      string              `json:"id"`
	Vector  []float32           `json:"vector"`
	Payload vectorstore.Payload `json:"payload,omitempty"`
}

func (s *Store) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}

	wire := make([]wirePoint, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			return vectorstore.Wrap(backend, "upsert", errors.New("empty point id"))
		}
		id, native := pointID(p.ID)
		payload := p.Payload
		if !native {
			payload = payload.Clone()
			if payload == nil {
				payload = vectorstore.Payload{}
			}
			payload[originalIDField] = p.ID
		}
		wire = append(wire, wirePoint{ID: id, Vector: p.Vector, Payload: payload})
	}

	req := struct {
		Points []wirePoint `json:"points"`
	}{Points: wire}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil); err != nil {
		return vectorstore.Wrap(backend, "upsert", err)
	}
	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(points)))
	return nil
}

type wireResult struct {
	ID      any                 `json:"id"`
	Score   float64             `json:"score"`
	Vector  []float32           `json:"vector"`
	Payload vectorstore.Payload `json:"payload"`
}

func (r wireResult) originalID() string {
	if v, ok := r.Payload[originalIDField].(string); ok && v != "" {
		delete(r.Payload, originalIDField)
		return v
	}
	return fmt.Sprint(r.ID)
}

func (s *Store) Search(ctx context.Context, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	if len(req.Vector) == 0 {
		return nil, vectorstore.Wrap(backend, "search", errors.New("query vector is required"))
	}

	body := map[string]any{
		"vector":          req.Vector,
		"limit":           req.Limit,
		"score_threshold": req.ScoreThreshold,
		"with_payload":    true,
		"with_vector":     req.WithVector,
	}
	if req.Filter != nil {
		f, err := encodeFilter(*req.Filter)
		if err != nil {
			return nil, vectorstore.Wrap(backend, "search", err)
		}
		body["filter"] = f
	}

	var resp struct {
		Result []wireResult `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &resp); err != nil {
		return nil, vectorstore.Wrap(backend, "search", err)
	}

	out := make([]vectorstore.ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, vectorstore.ScoredPoint{
			ID:      r.originalID(),
			Score:   r.Score,
			Vector:  r.Vector,
			Payload: r.Payload,
		})
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (vectorstore.Point, bool, error) {
	pid, _ := pointID(id)
	var resp struct {
		Result wireResult `json:"result"`
	}
	err := s.doJSON(ctx, http.MethodGet, s.collectionPath("/points/"+url.PathEscape(pid)), nil, &resp)
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return vectorstore.Point{}, false, nil
	}
	if err != nil {
		return vectorstore.Point{}, false, vectorstore.Wrap(backend, "get", err)
	}
	r := resp.Result
	return vectorstore.Point{ID: r.originalID(), Vector: r.Vector, Payload: r.Payload}, true, nil
}

func (s *Store) UpdatePayload(ctx context.Context, id string, fields vectorstore.Payload) error {
	pid, _ := pointID(id)
	req := map[string]any{
		"payload": fields,
		"points":  []string{pid},
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/payload?wait=true"), req, nil); err != nil {
		return vectorstore.Wrap(backend, "update_payload", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		pid, _ := pointID(id)
		points = append(points, pid)
	}
	req := map[string]any{"points": points}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return vectorstore.Wrap(backend, "delete", err)
	}
	return nil
}

// DeleteByFilter counts matching points first because Qdrant's delete
// endpoint does not report how many points it removed. The count is exact
// only when nothing writes between the two calls.
func (s *Store) DeleteByFilter(ctx context.Context, f vectorstore.Filter) (int64, error) {
	wf, err := encodeFilter(f)
	if err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}

	var count struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	countReq := map[string]any{"filter": wf, "exact": true}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/count"), countReq, &count); err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}
	if count.Result.Count == 0 {
		return 0, nil
	}

	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"filter": wf}, nil); err != nil {
		return 0, vectorstore.Wrap(backend, "delete_by_filter", err)
	}
	return count.Result.Count, nil
}

func (s *Store) CollectionInfo(ctx context.Context) (vectorstore.CollectionInfo, error) {
	var resp struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodGet, s.collectionPath(""), nil, &resp); err != nil {
		return vectorstore.CollectionInfo{}, vectorstore.Wrap(backend, "info", err)
	}
	return vectorstore.CollectionInfo{
		Name:        s.cfg.Collection,
		Backend:     backend,
		PointsCount: resp.Result.PointsCount,
		Dimension:   resp.Result.Config.Params.Vectors.Size,
		Status:      resp.Result.Status,
	}, nil
}

// encodeFilter renders f in Qdrant's filter syntax.
func encodeFilter(f vectorstore.Filter) (map[string]any, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	must := make([]map[string]any, 0, len(f.Must))
	for _, c := range f.Must {
		cond := map[string]any{"key": c.Key}
		if c.Range != nil {
			r := map[string]any{}
			if c.Range.Lt != nil {
				r["lt"] = *c.Range.Lt
			}
			if c.Range.Gt != nil {
				r["gt"] = *c.Range.Gt
			}
			if c.Range.Lte != nil {
				r["lte"] = *c.Range.Lte
			}
			if c.Range.Gte != nil {
				r["gte"] = *c.Range.Gte
			}
			cond["range"] = r
		} else {
			cond["match"] = map[string]any{"value": c.Match}
		}
		must = append(must, cond)
	}
	return map[string]any{"must": must}, nil
}
