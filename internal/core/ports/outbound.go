package ports

import (
	"context"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// Embedder builds dense vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TextGenerator is the blocking LLM surface.
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	GenerateJSON(ctx context.Context, model, prompt string) (string, error)
}

// TextStreamer delivers an answer as incremental deltas. The full
// accumulated text is returned after the last delta.
type TextStreamer interface {
	GenerateStream(ctx context.Context, model, prompt string, onDelta func(string) error) (string, error)
}

// DenseSearcher is the baseline capability every vector store has.
type DenseSearcher interface {
	SearchDense(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
}

// SparseSearcher is the optional BM25 capability. Stores without it degrade
// to dense search in the fan-out.
type SparseSearcher interface {
	SearchSparse(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
}

// HybridSearcher fuses dense and sparse rankings inside one store.
type HybridSearcher interface {
	SearchHybrid(ctx context.Context, vector []float32, query string, limit int, denseWeight float64, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
}

// ChunkWriter is the ingestion surface of the local store.
type ChunkWriter interface {
	AddPoints(ctx context.Context, points []domain.RetrievalPoint) error
}

// Chunker splits document text into indexable chunks.
type Chunker interface {
	Split(text string) []string
}

// SparseEncoder turns document chunks into sparse vectors, growing the
// collection vocabulary with any new terms first.
type SparseEncoder interface {
	EncodeDocuments(ctx context.Context, collection string, texts []string) ([]domain.SparseVector, error)
}

// VocabularyStore persists the per-collection BM25 term index. Append must
// not lose concurrent term additions and never reassigns existing indices.
type VocabularyStore interface {
	Load(ctx context.Context, collection string) (map[string]uint32, error)
	Append(ctx context.Context, collection string, terms []string, maxSize int) (map[string]uint32, error)
}

// ServiceRegistry resolves external vector services for a user and KB.
type ServiceRegistry interface {
	LinkedService(ctx context.Context, kbID string) (*domain.ExternalService, error)
	DefaultVectorService(ctx context.Context, userID string) (*domain.ExternalService, error)
}

// StoreDialer turns a service record into a connected searcher.
type StoreDialer interface {
	Dial(ctx context.Context, svc domain.ExternalService) (DenseSearcher, error)
}

// ConnectionRegistry resolves SQL data connections for the SQL agent.
type ConnectionRegistry interface {
	Connection(ctx context.Context, userID, connectionID string) (*domain.DataConnection, error)
}

// ReadOnlyQuerier runs a generated query against a registered connection.
type ReadOnlyQuerier interface {
	Query(ctx context.Context, conn domain.DataConnection, query string, maxRows int) (columns []string, rows [][]string, err error)
}

// WebSearcher is the web search collaborator of the web agent.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.RetrievedChunk, error)
}

// ToolInvoker executes one registered external tool by id.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolID, input string) (string, error)
}

// ProcessBackend is the logistics automation collaborator.
type ProcessBackend interface {
	Run(ctx context.Context, userID, message string) (string, error)
}

// ToolCallLogStore persists the per-run audit log for training export.
type ToolCallLogStore interface {
	SaveRun(ctx context.Context, runID, userID string, calls []domain.ToolCallRecord) error
}

// MessageQueue publishes/consumes indexing events.
type MessageQueue interface {
	PublishDocumentAdded(ctx context.Context, req domain.IngestRequest) error
	SubscribeDocumentAdded(ctx context.Context, handler func(context.Context, domain.IngestRequest) error) error
}
