package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// Retriever is what the RAG agent runs a query through, whatever number of
// stores sits behind it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error)
}

// LocalStoreFunc opens the always-present local store for one collection.
type LocalStoreFunc func(collection string) ports.DenseSearcher

const (
	localCollectionPrefix = "kb_"
	dedupePrefixRunes     = 200
	clientCacheTTL        = 5 * time.Minute
)

// RetrieverFactory assembles the ordered source list for a (user, knowledge
// base) pair: the local collection first, then the KB-linked external
// service, then the user's default vector service. Sources after the first
// are optional; resolution failures there degrade to fewer sources.
type RetrieverFactory struct {
	local    LocalStoreFunc
	registry ports.ServiceRegistry
	dialers  map[domain.ServiceType]ports.StoreDialer
	embedder ports.Embedder
	clients  *cache.Cache
	logger   *slog.Logger
}

func NewRetrieverFactory(
	local LocalStoreFunc,
	registry ports.ServiceRegistry,
	dialers map[domain.ServiceType]ports.StoreDialer,
	embedder ports.Embedder,
	logger *slog.Logger,
) *RetrieverFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieverFactory{
		local:    local,
		registry: registry,
		dialers:  dialers,
		embedder: embedder,
		clients:  cache.New(clientCacheTTL, 2*clientCacheTTL),
		logger:   logger,
	}
}

// Build resolves the sources for one knowledge base. The local store failing
// to resolve is fatal; external sources are skipped with a log line.
func (f *RetrieverFactory) Build(ctx context.Context, userID, kbID string, opts domain.ChatOptions) (Retriever, error) {
	local := f.local(localCollectionPrefix + kbID)
	if local == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "build retriever",
			fmt.Errorf("no local store for knowledge base %s", kbID))
	}

	mode := opts.SearchMode
	if mode == "" {
		mode = domain.SearchHybrid
	}

	sources := []Retriever{&storeRetriever{
		store:       local,
		embedder:    f.embedder,
		mode:        mode,
		denseWeight: opts.DenseWeight,
		filter:      domain.SearchFilter{UserID: userID},
		name:        localCollectionPrefix + kbID,
	}}
	usedServices := map[string]struct{}{}

	if svc, err := f.registry.LinkedService(ctx, kbID); err != nil {
		f.logger.Warn("skip linked service", "kb_id", kbID, "error", err)
	} else if svc != nil {
		if r := f.externalRetriever(ctx, *svc, mode, opts.DenseWeight); r != nil {
			sources = append(sources, r)
			usedServices[svc.ID] = struct{}{}
		}
	}

	if svc, err := f.registry.DefaultVectorService(ctx, userID); err != nil {
		f.logger.Warn("skip default vector service", "user_id", userID, "error", err)
	} else if svc != nil {
		if _, dup := usedServices[svc.ID]; !dup {
			if r := f.externalRetriever(ctx, *svc, mode, opts.DenseWeight); r != nil {
				sources = append(sources, r)
			}
		}
	}

	if len(sources) == 1 {
		return sources[0], nil
	}
	return &fanOutRetriever{sources: sources, logger: f.logger}, nil
}

// externalRetriever dials (or reuses) a client for a registered service.
// External stores are single-tenant per KB, so no user filter is applied.
func (f *RetrieverFactory) externalRetriever(ctx context.Context, svc domain.ExternalService, mode domain.SearchMode, denseWeight float64) Retriever {
	store, err := f.dialService(ctx, svc)
	if err != nil {
		f.logger.Warn("skip external store",
			"service_id", svc.ID, "type", string(svc.Type), "error", err)
		return nil
	}
	return &storeRetriever{
		store:       store,
		embedder:    f.embedder,
		mode:        mode,
		denseWeight: denseWeight,
		name:        string(svc.Type) + ":" + svc.ID,
	}
}

// dialService caches connected clients for the TTL window. The key carries
// the service revision, so a credential change dials a fresh client instead
// of reusing the stale one.
func (f *RetrieverFactory) dialService(ctx context.Context, svc domain.ExternalService) (ports.DenseSearcher, error) {
	key := fmt.Sprintf("%s@%d", svc.ID, svc.Revision)
	if cached, ok := f.clients.Get(key); ok {
		return cached.(ports.DenseSearcher), nil
	}

	dialer, ok := f.dialers[svc.Type]
	if !ok {
		return nil, fmt.Errorf("no dialer for service type %q", svc.Type)
	}
	store, err := dialer.Dial(ctx, svc)
	if err != nil {
		return nil, err
	}
	f.clients.Set(key, store, cache.DefaultExpiration)
	return store, nil
}

// storeRetriever runs one store with the requested search mode, degrading
// to dense search when the store lacks the sparse or hybrid capability.
type storeRetriever struct {
	store       ports.DenseSearcher
	embedder    ports.Embedder
	mode        domain.SearchMode
	denseWeight float64
	filter      domain.SearchFilter
	name        string
}

func (r *storeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	if topK <= 0 {
		topK = 5
	}

	if r.mode == domain.SearchSparse {
		if sparse, ok := r.store.(ports.SparseSearcher); ok {
			return sparse.SearchSparse(ctx, query, topK, r.filter)
		}
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if r.mode == domain.SearchHybrid {
		if hybrid, ok := r.store.(ports.HybridSearcher); ok {
			return hybrid.SearchHybrid(ctx, vector, query, topK, r.denseWeight, r.filter)
		}
	}
	return r.store.SearchDense(ctx, vector, topK, r.filter)
}

// fanOutRetriever queries every source concurrently and merges in source
// order. A failing source contributes zero documents; the call only fails
// if no source can even be asked (never happens with the mandatory local
// source present).
type fanOutRetriever struct {
	sources []Retriever
	logger  *slog.Logger
}

func (r *fanOutRetriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	results := make([][]domain.RetrievedChunk, len(r.sources))

	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Retriever) {
			defer wg.Done()
			chunks, err := src.Retrieve(ctx, query, topK)
			if err != nil {
				r.logger.Warn("retrieval source failed", "source", i, "error", err)
				return
			}
			results[i] = chunks
		}(i, src)
	}
	wg.Wait()

	var merged []domain.RetrievedChunk
	for _, chunks := range results {
		merged = append(merged, chunks...)
	}
	return dedupeByPrefix(merged, topK), nil
}

// dedupeByPrefix keeps the first occurrence of each content prefix,
// preserving cross-source precedence by merge order, then truncates.
func dedupeByPrefix(chunks []domain.RetrievedChunk, topK int) []domain.RetrievedChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]domain.RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		key := contentPrefix(chunk.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, chunk)
		if topK > 0 && len(out) == topK {
			break
		}
	}
	return out
}

func contentPrefix(text string) string {
	runes := []rune(text)
	if len(runes) <= dedupePrefixRunes {
		return text
	}
	return string(runes[:dedupePrefixRunes])
}
