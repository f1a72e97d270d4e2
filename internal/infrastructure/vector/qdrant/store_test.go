package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

type staticEncoder struct {
	vec domain.SparseVector
	err error
}

func (e staticEncoder) EncodeQuery(context.Context, string) (domain.SparseVector, error) {
	return e.vec, e.err
}

// fakeQdrant records search bodies and answers with canned results keyed by
// the requested vector name.
type fakeQdrant struct {
	t        *testing.T
	searches []map[string]any
	results  map[string][]map[string]any // vector name -> result points
}

func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/points/search") {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"result":{}}`)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Fatalf("decode search body: %v", err)
		}
		f.searches = append(f.searches, body)

		name := ""
		if vec, ok := body["vector"].(map[string]any); ok {
			name, _ = vec["name"].(string)
		}
		resp := map[string]any{"result": f.results[name]}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func point(id, text string, score float64) map[string]any {
	return map[string]any{
		"id":    id,
		"score": score,
		"payload": map[string]any{
			"text":        text,
			"document_id": "doc-" + id,
		},
	}
}

func TestHybridSearchFullDenseWeightMatchesDenseSearch(t *testing.T) {
	fake := &fakeQdrant{t: t, results: map[string][]map[string]any{
		denseVectorName: {point("1", "alpha", 0.9), point("2", "beta", 0.5)},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := New(srv.URL, "kb_test", staticEncoder{vec: domain.SparseVector{Indices: []uint32{1}, Values: []float32{1}}}, Options{})

	vector := []float32{0.1, 0.2}
	dense, err := store.SearchDense(context.Background(), vector, 2, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchDense() error = %v", err)
	}
	hybrid, err := store.SearchHybrid(context.Background(), vector, "alpha", 2, 1.0, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchHybrid() error = %v", err)
	}
	if !reflect.DeepEqual(dense, hybrid) {
		t.Fatalf("alpha=1.0 hybrid differs from dense: %v vs %v", hybrid, dense)
	}
}

func TestHybridSearchZeroDenseWeightMatchesSparseSearch(t *testing.T) {
	fake := &fakeQdrant{t: t, results: map[string][]map[string]any{
		sparseVectorName: {point("3", "gamma", 2.1)},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	encoder := staticEncoder{vec: domain.SparseVector{Indices: []uint32{7}, Values: []float32{0.5}}}
	store := New(srv.URL, "kb_test", encoder, Options{})

	sparse, err := store.SearchSparse(context.Background(), "gamma", 2, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchSparse() error = %v", err)
	}
	hybrid, err := store.SearchHybrid(context.Background(), []float32{0.1}, "gamma", 2, 0.0, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchHybrid() error = %v", err)
	}
	if !reflect.DeepEqual(sparse, hybrid) {
		t.Fatalf("alpha=0.0 hybrid differs from sparse: %v vs %v", hybrid, sparse)
	}
}

func TestHybridSearchFallsBackToDenseWithoutVocabularyMatch(t *testing.T) {
	fake := &fakeQdrant{t: t, results: map[string][]map[string]any{
		denseVectorName: {point("1", "alpha", 0.9)},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	// Empty sparse vector: query shares no vocabulary terms.
	store := New(srv.URL, "kb_test", staticEncoder{}, Options{})
	got, err := store.SearchHybrid(context.Background(), []float32{0.1}, "unseen terms", 1, 0.5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchHybrid() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("expected dense fallback result, got %v", got)
	}
	if len(fake.searches) != 1 {
		t.Fatalf("expected a single dense search, saw %d searches", len(fake.searches))
	}
}

func TestHybridSearchNoEncoderFallsBackToDense(t *testing.T) {
	fake := &fakeQdrant{t: t, results: map[string][]map[string]any{
		denseVectorName: {point("1", "alpha", 0.9)},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := New(srv.URL, "kb_test", nil, Options{})
	got, err := store.SearchHybrid(context.Background(), []float32{0.1}, "alpha", 1, 0.5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchHybrid() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected dense fallback, got %v", got)
	}
}

func TestHybridSearchFusesAndTruncates(t *testing.T) {
	fake := &fakeQdrant{t: t, results: map[string][]map[string]any{
		denseVectorName:  {point("1", "alpha", 0.9), point("2", "beta", 0.8)},
		sparseVectorName: {point("2", "beta", 3.0), point("3", "gamma", 2.0)},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	encoder := staticEncoder{vec: domain.SparseVector{Indices: []uint32{1}, Values: []float32{1}}}
	store := New(srv.URL, "kb_test", encoder, Options{})

	got, err := store.SearchHybrid(context.Background(), []float32{0.1}, "beta", 2, 0.5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchHybrid() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(got))
	}
	if got[0].ID != "2" {
		t.Fatalf("expected point in both rankings first, got %s", got[0].ID)
	}
	// Oversampled candidate fetches: 2 * 3 per sub-index.
	first := fake.searches[0]
	if limit, ok := first["limit"].(float64); !ok || int(limit) != 6 {
		t.Fatalf("expected oversampled limit 6, got %v", first["limit"])
	}
}

func TestSearchDenseAppliesUserFilter(t *testing.T) {
	fake := &fakeQdrant{t: t, results: map[string][]map[string]any{}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := New(srv.URL, "kb_test", nil, Options{})
	if _, err := store.SearchDense(context.Background(), []float32{0.1}, 3, domain.SearchFilter{UserID: "u-1"}); err != nil {
		t.Fatalf("SearchDense() error = %v", err)
	}
	body := fake.searches[0]
	filter, ok := body["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected filter in search body, got %v", body)
	}
	raw, _ := json.Marshal(filter)
	if !strings.Contains(string(raw), `"user_id"`) || !strings.Contains(string(raw), `"u-1"`) {
		t.Fatalf("expected user_id equality filter, got %s", raw)
	}
}
