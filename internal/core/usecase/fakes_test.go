package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type eventCollector struct {
	events []domain.Event
}

func (c *eventCollector) sink() domain.EventSink {
	return func(ev domain.Event) { c.events = append(c.events, ev) }
}

func (c *eventCollector) sentinels() int {
	n := 0
	for _, ev := range c.events {
		if _, ok := ev.(domain.StreamEnd); ok {
			n++
		}
	}
	return n
}

func (c *eventCollector) contents() string {
	out := ""
	for _, ev := range c.events {
		if content, ok := ev.(domain.ContentEvent); ok {
			out += content.Content
		}
	}
	return out
}

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _ string, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

type fakeStreamer struct {
	deltas []string
	err    error
	prompt string
}

func (f *fakeStreamer) GenerateStream(_ context.Context, _ string, prompt string, onDelta func(string) error) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	full := ""
	for _, delta := range f.deltas {
		full += delta
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full, err
			}
		}
	}
	return full, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

// fakeDenseStore is dense-only; used to observe the capability fallback.
type fakeDenseStore struct {
	chunks []domain.RetrievedChunk
	err    error
	calls  int
	filter domain.SearchFilter
}

func (f *fakeDenseStore) SearchDense(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.calls++
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.chunks) {
		return f.chunks[:limit], nil
	}
	return f.chunks, nil
}

// fakeHybridStore also answers hybrid and sparse queries.
type fakeHybridStore struct {
	fakeDenseStore
	hybridCalls int
	sparseCalls int
}

func (f *fakeHybridStore) SearchSparse(_ context.Context, _ string, limit int, _ domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.sparseCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func (f *fakeHybridStore) SearchHybrid(_ context.Context, _ []float32, _ string, limit int, _ float64, _ domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.hybridCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type fakeRegistry struct {
	linked    map[string]*domain.ExternalService
	defaults  map[string]*domain.ExternalService
	linkedErr error
}

func (f *fakeRegistry) LinkedService(_ context.Context, kbID string) (*domain.ExternalService, error) {
	if f.linkedErr != nil {
		return nil, f.linkedErr
	}
	return f.linked[kbID], nil
}

func (f *fakeRegistry) DefaultVectorService(_ context.Context, userID string) (*domain.ExternalService, error) {
	return f.defaults[userID], nil
}

type fakeDialer struct {
	store ports.DenseSearcher
	err   error
	dials int
}

func (f *fakeDialer) Dial(_ context.Context, _ domain.ExternalService) (ports.DenseSearcher, error) {
	f.dials++
	if f.err != nil {
		return nil, f.err
	}
	return f.store, nil
}

type fakeWebSearcher struct {
	results []domain.RetrievedChunk
	err     error
}

func (f *fakeWebSearcher) Search(_ context.Context, _ string, _ int) ([]domain.RetrievedChunk, error) {
	return f.results, f.err
}

type fakeInvoker struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeInvoker) Invoke(_ context.Context, toolID, _ string) (string, error) {
	f.calls = append(f.calls, toolID)
	if err := f.errs[toolID]; err != nil {
		return "", err
	}
	return f.outputs[toolID], nil
}

type fakeConnRegistry struct {
	conn *domain.DataConnection
	err  error
}

func (f *fakeConnRegistry) Connection(_ context.Context, _, _ string) (*domain.DataConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

type fakeQuerier struct {
	columns []string
	rows    [][]string
	err     error
	query   string
}

func (f *fakeQuerier) Query(_ context.Context, _ domain.DataConnection, query string, _ int) ([]string, [][]string, error) {
	f.query = query
	return f.columns, f.rows, f.err
}

type fakeBackend struct {
	answer string
	err    error
}

func (f *fakeBackend) Run(_ context.Context, _, _ string) (string, error) {
	return f.answer, f.err
}

type fakeQueue struct {
	published []domain.IngestRequest
	err       error
}

func (f *fakeQueue) PublishDocumentAdded(_ context.Context, req domain.IngestRequest) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, req)
	return nil
}

func (f *fakeQueue) SubscribeDocumentAdded(_ context.Context, _ func(context.Context, domain.IngestRequest) error) error {
	return errors.New("not implemented")
}

type fakeChunker struct {
	chunks []string
}

func (f *fakeChunker) Split(_ string) []string { return f.chunks }

type fakeWriter struct {
	points []domain.RetrievalPoint
	err    error
}

func (f *fakeWriter) AddPoints(_ context.Context, points []domain.RetrievalPoint) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

type fakeSparseEncoder struct {
	err error
}

func (f *fakeSparseEncoder) EncodeDocuments(_ context.Context, _ string, texts []string) ([]domain.SparseVector, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.SparseVector, len(texts))
	for i := range texts {
		out[i] = domain.SparseVector{Indices: []uint32{0}, Values: []float32{1}}
	}
	return out, nil
}

type fakeToolCallLog struct {
	runID string
	calls []domain.ToolCallRecord
}

func (f *fakeToolCallLog) SaveRun(_ context.Context, runID, _ string, calls []domain.ToolCallRecord) error {
	f.runID = runID
	f.calls = calls
	return nil
}

func chunk(id, text string) domain.RetrievedChunk {
	return domain.RetrievedChunk{ID: id, Text: text, Score: 1, Source: domain.SourceRef{DocumentID: id}}
}

var errBoom = fmt.Errorf("boom")
