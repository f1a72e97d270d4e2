package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

type staticRetriever struct {
	chunks []domain.RetrievedChunk
	err    error
}

func (r *staticRetriever) Retrieve(context.Context, string, int) ([]domain.RetrievedChunk, error) {
	return r.chunks, r.err
}

func TestFanOutDeduplicatesByContentPrefix(t *testing.T) {
	long := strings.Repeat("a", 250)
	fan := &fanOutRetriever{
		logger: testLogger(),
		sources: []Retriever{
			&staticRetriever{chunks: []domain.RetrievedChunk{
				{ID: "first", Text: long + " tail one"},
			}},
			&staticRetriever{chunks: []domain.RetrievedChunk{
				{ID: "second", Text: long + " different tail"},
				{ID: "third", Text: "unique"},
			}},
		},
	}

	got, err := fan.Retrieve(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want prefix-duplicates collapsed to 2", len(got))
	}
	if got[0].ID != "first" {
		t.Fatalf("first occurrence should win, got %q", got[0].ID)
	}
}

func TestFanOutSurvivesFailingSource(t *testing.T) {
	fan := &fanOutRetriever{
		logger: testLogger(),
		sources: []Retriever{
			&staticRetriever{err: errBoom},
			&staticRetriever{chunks: []domain.RetrievedChunk{chunk("a", "alpha")}},
			&staticRetriever{chunks: []domain.RetrievedChunk{chunk("b", "beta")}},
		},
	}

	got, err := fan.Retrieve(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("one failing source must not fail the call: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want contributions of the healthy sources", len(got))
	}
}

func TestFanOutTruncatesToTopK(t *testing.T) {
	fan := &fanOutRetriever{
		logger: testLogger(),
		sources: []Retriever{
			&staticRetriever{chunks: []domain.RetrievedChunk{
				chunk("a", "alpha"), chunk("b", "beta"), chunk("c", "gamma"),
			}},
		},
	}

	got, err := fan.Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want top_k", len(got))
	}
}

func TestStoreRetrieverFallsBackToDenseWithoutHybrid(t *testing.T) {
	store := &fakeDenseStore{chunks: []domain.RetrievedChunk{chunk("a", "alpha")}}
	r := &storeRetriever{
		store:    store,
		embedder: &fakeEmbedder{},
		mode:     domain.SearchHybrid,
	}

	got, err := r.Retrieve(context.Background(), "question", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("dense calls = %d, want fallback search", store.calls)
	}
	if len(got) != 1 {
		t.Fatalf("results = %d", len(got))
	}
}

func TestStoreRetrieverUsesHybridCapability(t *testing.T) {
	store := &fakeHybridStore{fakeDenseStore: fakeDenseStore{chunks: []domain.RetrievedChunk{chunk("a", "alpha")}}}
	r := &storeRetriever{
		store:    store,
		embedder: &fakeEmbedder{},
		mode:     domain.SearchHybrid,
	}

	if _, err := r.Retrieve(context.Background(), "question", 3); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.hybridCalls != 1 || store.calls != 0 {
		t.Fatalf("hybrid=%d dense=%d, want the hybrid path", store.hybridCalls, store.calls)
	}
}

func TestFactoryLocalSourceCarriesUserFilter(t *testing.T) {
	local := &fakeDenseStore{chunks: []domain.RetrievedChunk{chunk("a", "alpha")}}
	factory := NewRetrieverFactory(
		func(string) ports.DenseSearcher { return local },
		&fakeRegistry{}, nil, &fakeEmbedder{}, testLogger())

	r, err := factory.Build(context.Background(), "user-1", "kb-1", domain.ChatOptions{SearchMode: domain.SearchDense})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := r.Retrieve(context.Background(), "q", 3); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if local.filter.UserID != "user-1" {
		t.Fatalf("filter = %+v, want user scoping on the local source", local.filter)
	}
}

func TestFactoryDegradesWhenExternalDialFails(t *testing.T) {
	local := &fakeDenseStore{chunks: []domain.RetrievedChunk{chunk("a", "alpha")}}
	registry := &fakeRegistry{linked: map[string]*domain.ExternalService{
		"kb-1": {ID: "svc-1", Type: domain.ServiceQdrant},
	}}
	dialer := &fakeDialer{err: errBoom}

	factory := NewRetrieverFactory(
		func(string) ports.DenseSearcher { return local },
		registry,
		map[domain.ServiceType]ports.StoreDialer{domain.ServiceQdrant: dialer},
		&fakeEmbedder{}, testLogger())

	r, err := factory.Build(context.Background(), "user-1", "kb-1", domain.ChatOptions{SearchMode: domain.SearchDense})
	if err != nil {
		t.Fatalf("external dial failure must degrade, not fail: %v", err)
	}
	got, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil || len(got) != 1 {
		t.Fatalf("local fallback results = %v, %v", got, err)
	}
}

func TestFactoryCachesDialedClientsByRevision(t *testing.T) {
	external := &fakeDenseStore{}
	registry := &fakeRegistry{linked: map[string]*domain.ExternalService{
		"kb-1": {ID: "svc-1", Type: domain.ServiceQdrant, Revision: 1},
	}}
	dialer := &fakeDialer{store: external}

	factory := NewRetrieverFactory(
		func(string) ports.DenseSearcher { return &fakeDenseStore{} },
		registry,
		map[domain.ServiceType]ports.StoreDialer{domain.ServiceQdrant: dialer},
		&fakeEmbedder{}, testLogger())

	opts := domain.ChatOptions{SearchMode: domain.SearchDense}
	if _, err := factory.Build(context.Background(), "user-1", "kb-1", opts); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := factory.Build(context.Background(), "user-1", "kb-1", opts); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dialer.dials != 1 {
		t.Fatalf("dials = %d, want cached client reuse", dialer.dials)
	}

	// A credential change bumps the revision and must bypass the cache.
	registry.linked["kb-1"].Revision = 2
	if _, err := factory.Build(context.Background(), "user-1", "kb-1", opts); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dialer.dials != 2 {
		t.Fatalf("dials = %d, want fresh dial after revision bump", dialer.dials)
	}
}

func TestFactorySkipsDuplicateDefaultService(t *testing.T) {
	svc := &domain.ExternalService{ID: "svc-1", Type: domain.ServiceQdrant}
	registry := &fakeRegistry{
		linked:   map[string]*domain.ExternalService{"kb-1": svc},
		defaults: map[string]*domain.ExternalService{"user-1": svc},
	}
	dialer := &fakeDialer{store: &fakeDenseStore{}}

	factory := NewRetrieverFactory(
		func(string) ports.DenseSearcher { return &fakeDenseStore{} },
		registry,
		map[domain.ServiceType]ports.StoreDialer{domain.ServiceQdrant: dialer},
		&fakeEmbedder{}, testLogger())

	r, err := factory.Build(context.Background(), "user-1", "kb-1", domain.ChatOptions{SearchMode: domain.SearchDense})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fan, ok := r.(*fanOutRetriever)
	if !ok {
		t.Fatalf("retriever = %T, want fan-out", r)
	}
	if len(fan.sources) != 2 {
		t.Fatalf("sources = %d, want local + one external (default deduped)", len(fan.sources))
	}
}
