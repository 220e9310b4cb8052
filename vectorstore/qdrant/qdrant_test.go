package qdrant

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore"
)

func newStore(t *testing.T, h http.Handler, autoCreate bool) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := New(Config{BaseURL: srv.URL, Collection: "records", Dimension: 2, AutoCreateCollection: autoCreate, APIKey: "secret"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestUpsert_CreatesCollectionOnceAndMapsIDs(t *testing.T) {
	var creates, upserts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("missing api-key header")
		}
		creates.Add(1)
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("/collections/records/points", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "wait=true") {
			t.Errorf("expected wait=true, got %q", r.URL.RawQuery)
		}
		upserts.Add(1)
		var req struct {
			Points []wirePoint `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		for _, p := range req.Points {
			if _, err := uuid.Parse(p.ID); err != nil {
				t.Errorf("point id %q is not a uuid", p.ID)
			}
		}
		if req.Points[1].Payload[originalIDField] != "plain-id" {
			t.Errorf("non-uuid id not preserved: %v", req.Points[1].Payload)
		}
		writeJSON(w, map[string]any{"status": "ok"})
	})

	s := newStore(t, mux, true)
	id := uuid.NewString()
	for range 2 {
		err := s.Upsert(t.Context(),
			vectorstore.Point{ID: id, Vector: vector.Vector{1, 0}},
			vectorstore.Point{ID: "plain-id", Vector: vector.Vector{0, 1}},
		)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if creates.Load() != 1 {
		t.Fatalf("collection created %d times, want 1", creates.Load())
	}
	if upserts.Load() != 2 {
		t.Fatalf("upserts = %d, want 2", upserts.Load())
	}
}

func TestSearch_SendsFilterAndDecodes(t *testing.T) {
	id := uuid.NewString()
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/records/points/search", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["limit"].(float64) != 5 {
			t.Errorf("limit = %v", req["limit"])
		}
		if req["score_threshold"].(float64) != 0.85 {
			t.Errorf("score_threshold = %v", req["score_threshold"])
		}
		f := req["filter"].(map[string]any)["must"].([]any)[0].(map[string]any)
		if f["key"] != "kind" || f["match"].(map[string]any)["value"] != "coder" {
			t.Errorf("unexpected filter %v", f)
		}
		writeJSON(w, map[string]any{"result": []any{
			map[string]any{"id": id, "score": 0.97, "payload": map[string]any{"kind": "coder"}},
			map[string]any{"id": uuid.NewString(), "score": 0.9, "payload": map[string]any{"_id": "plain"}},
		}})
	})

	s := newStore(t, mux, false)
	filter := vectorstore.Filter{Must: []vectorstore.Condition{vectorstore.MatchValue("kind", "coder")}}
	res, err := s.Search(t.Context(), vectorstore.SearchRequest{Vector: vector.Vector{1, 0}, Limit: 5, ScoreThreshold: 0.85, Filter: &filter})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 || res[0].ID != id || res[0].Score != 0.97 {
		t.Fatalf("unexpected results %+v", res)
	}
	if res[1].ID != "plain" {
		t.Fatalf("original id not restored: %+v", res[1])
	}
	if _, ok := res[1].Payload[originalIDField]; ok {
		t.Fatal("internal id field leaked into payload")
	}
}

func TestGet_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/records/points/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	})
	s := newStore(t, mux, false)
	_, ok, err := s.Get(t.Context(), uuid.NewString())
	if err != nil || ok {
		t.Fatalf("Get = ok=%v err=%v, want clean miss", ok, err)
	}
}

func TestDeleteByFilter_CountsThenDeletes(t *testing.T) {
	var deleted atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/records/points/count", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		cond := req["filter"].(map[string]any)["must"].([]any)[0].(map[string]any)
		if cond["range"].(map[string]any)["lt"].(float64) != 100 {
			t.Errorf("unexpected range %v", cond)
		}
		writeJSON(w, map[string]any{"result": map[string]any{"count": 3}})
	})
	mux.HandleFunc("/collections/records/points/delete", func(w http.ResponseWriter, r *http.Request) {
		deleted.Add(1)
		writeJSON(w, map[string]any{"status": "ok"})
	})

	s := newStore(t, mux, false)
	n, err := s.DeleteByFilter(t.Context(), vectorstore.Filter{Must: []vectorstore.Condition{vectorstore.Before("ttl_expires", 100)}})
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if n != 3 || deleted.Load() != 1 {
		t.Fatalf("n=%d deletes=%d", n, deleted.Load())
	}
}

func TestCollectionInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/records", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"result": map[string]any{
			"status":       "green",
			"points_count": 42,
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 384}}},
		}})
	})
	s := newStore(t, mux, false)
	info, err := s.CollectionInfo(t.Context())
	if err != nil {
		t.Fatalf("CollectionInfo: %v", err)
	}
	if info.PointsCount != 42 || info.Dimension != 384 || info.Status != "green" || info.Backend != "qdrant" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestServerErrorIsWrapped(t *testing.T) {
	s := newStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}), false)

	_, err := s.Search(t.Context(), vectorstore.SearchRequest{Vector: vector.Vector{1, 0}, Limit: 1})
	var se *vectorstore.Error
	if !errors.As(err, &se) || se.Op != "search" || se.Backend != "qdrant" {
		t.Fatalf("expected wrapped search error, got %v", err)
	}
}

func TestNew_RequiresCollection(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error")
	}
}
