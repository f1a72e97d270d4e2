// Package qdrant is the HTTP client for the similarity-search engine backing
// local and external knowledge-base collections. Each collection carries a
// named dense vector and, when a vocabulary exists, a named sparse vector.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QueryEncoder turns query text into a sparse vector against the store's
// collection vocabulary. A nil encoder disables sparse and hybrid search.
type QueryEncoder interface {
	EncodeQuery(ctx context.Context, query string) (domain.SparseVector, error)
}

// Options tune hybrid fusion. Zero values select the defaults.
type Options struct {
	RRFK       int           // rank smoothing constant, default 60
	Oversample int           // candidate multiplier per sub-index, default 3
	APIKey     string        // optional api-key header
	Timeout    time.Duration // http client timeout, default 60s
}

type Store struct {
	baseURL    string
	collection string
	httpClient *http.Client
	apiKey     string
	encoder    QueryEncoder

	rrfK       int
	oversample int

	ensureMu   sync.Mutex
	ensured    bool
	ensuredDim int
}

func New(baseURL, collection string, encoder QueryEncoder, opts Options) *Store {
	if opts.RRFK <= 0 {
		opts.RRFK = 60
	}
	if opts.Oversample <= 0 {
		opts.Oversample = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: opts.Timeout},
		apiKey:     opts.APIKey,
		encoder:    encoder,
		rrfK:       opts.RRFK,
		oversample: opts.Oversample,
	}
}

func (s *Store) Collection() string { return s.collection }

// AddPoints upserts pre-encoded points. Sparse vectors are included only
// when present, so a point stays valid if the collection has no sparse index.
func (s *Store) AddPoints(ctx context.Context, points []domain.RetrievalPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(points[0].Dense)); err != nil {
		return err
	}

	type wirePoint struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	wire := make([]wirePoint, 0, len(points))
	for _, p := range points {
		vectors := map[string]any{denseVectorName: p.Dense}
		if !p.Sparse.Empty() {
			vectors[sparseVectorName] = map[string]any{
				"indices": p.Sparse.Indices,
				"values":  p.Sparse.Values,
			}
		}
		wire = append(wire, wirePoint{
			ID:     p.ID,
			Vector: vectors,
			Payload: map[string]any{
				"text":        p.Text,
				"document_id": p.Source.DocumentID,
				"title":       p.Source.Title,
				"url":         p.Source.URL,
				"user_id":     p.UserID,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	return s.do(ctx, http.MethodPut, path, map[string]any{"points": wire}, nil)
}

// SearchDense runs nearest-neighbor search over the dense vector.
func (s *Store) SearchDense(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	body := map[string]any{
		"vector":       map[string]any{"name": denseVectorName, "vector": vector},
		"limit":        limit,
		"with_payload": true,
	}
	applyFilter(body, filter)
	return s.search(ctx, body)
}

// SearchSparse scores by BM25 term overlap against the collection
// vocabulary. Returns no results when the query shares no known terms.
func (s *Store) SearchSparse(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	if s.encoder == nil {
		return nil, fmt.Errorf("sparse search: collection %s has no sparse index", s.collection)
	}
	sparse, err := s.encoder.EncodeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode sparse query: %w", err)
	}
	if sparse.Empty() {
		return nil, nil
	}
	body := map[string]any{
		"vector": map[string]any{
			"name":   sparseVectorName,
			"vector": map[string]any{"indices": sparse.Indices, "values": sparse.Values},
		},
		"limit":        limit,
		"with_payload": true,
	}
	applyFilter(body, filter)
	return s.search(ctx, body)
}

// SearchHybrid fuses dense and sparse rankings with weighted reciprocal rank
// fusion. Degenerate weights short-circuit to the single sub-index, and any
// missing sparse capability falls back to dense search, never an error.
func (s *Store) SearchHybrid(ctx context.Context, vector []float32, query string, limit int, denseWeight float64, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	if denseWeight >= 1.0 || s.encoder == nil {
		return s.SearchDense(ctx, vector, limit, filter)
	}

	sparse, err := s.encoder.EncodeQuery(ctx, query)
	if err != nil || sparse.Empty() {
		return s.SearchDense(ctx, vector, limit, filter)
	}
	if denseWeight <= 0.0 {
		return s.SearchSparse(ctx, query, limit, filter)
	}

	candidates := limit * s.oversample
	denseHits, err := s.SearchDense(ctx, vector, candidates, filter)
	if err != nil {
		return nil, err
	}
	sparseHits, err := s.SearchSparse(ctx, query, candidates, filter)
	if err != nil {
		// The dense ranking alone is still a valid degraded answer.
		sparseHits = nil
	}

	fused := fuseRRF(denseHits, sparseHits, denseWeight, s.rrfK)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

func (s *Store) search(ctx context.Context, body map[string]any) ([]domain.RetrievedChunk, error) {
	var resp struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	if err := s.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, domain.RetrievedChunk{
			ID:    r.ID,
			Text:  payloadString(r.Payload, "text"),
			Score: r.Score,
			Source: domain.SourceRef{
				DocumentID: payloadString(r.Payload, "document_id"),
				Title:      payloadString(r.Payload, "title"),
				URL:        payloadString(r.Payload, "url"),
				Store:      s.collection,
			},
		})
	}
	return out, nil
}

func (s *Store) ensureCollection(ctx context.Context, denseDim int) error {
	s.ensureMu.Lock()
	if s.ensured && s.ensuredDim == denseDim {
		s.ensureMu.Unlock()
		return nil
	}
	s.ensureMu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{"size": denseDim, "distance": "Cosine"},
		},
	}
	if s.encoder != nil {
		body["sparse_vectors"] = map[string]any{
			sparseVectorName: map[string]any{},
		}
	}

	path := fmt.Sprintf("/collections/%s", s.collection)
	err := s.do(ctx, http.MethodPut, path, body, nil)
	if err != nil && !strings.Contains(err.Error(), "409") {
		return fmt.Errorf("ensure collection: %w", err)
	}

	s.ensureMu.Lock()
	s.ensured = true
	s.ensuredDim = denseDim
	s.ensureMu.Unlock()
	return nil
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if m := strings.TrimSpace(string(msg)); m != "" {
			return fmt.Errorf("qdrant status %d: %s", resp.StatusCode, m)
		}
		return fmt.Errorf("qdrant status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func applyFilter(body map[string]any, filter domain.SearchFilter) {
	if filter.UserID == "" {
		return
	}
	body["filter"] = map[string]any{
		"must": []map[string]any{
			{"key": "user_id", "match": map[string]any{"value": filter.UserID}},
		},
	}
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
