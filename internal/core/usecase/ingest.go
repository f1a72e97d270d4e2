package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// LocalWriterFunc opens the write surface of the local store for one
// collection.
type LocalWriterFunc func(collection string) ports.ChunkWriter

var _ ports.DocumentIndexer = (*Indexer)(nil)

// Indexer is the document indexing pipeline: chunk, embed, sparse-encode,
// upsert. Enqueue defers the same work to the worker through the queue.
type Indexer struct {
	queue    ports.MessageQueue
	chunker  ports.Chunker
	embedder ports.Embedder
	sparse   ports.SparseEncoder
	writer   LocalWriterFunc
	logger   *slog.Logger
}

func NewIndexer(
	queue ports.MessageQueue,
	chunker ports.Chunker,
	embedder ports.Embedder,
	sparse ports.SparseEncoder,
	writer LocalWriterFunc,
	logger *slog.Logger,
) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		queue:    queue,
		chunker:  chunker,
		embedder: embedder,
		sparse:   sparse,
		writer:   writer,
		logger:   logger,
	}
}

// Enqueue validates the request and hands it to the worker queue.
func (x *Indexer) Enqueue(ctx context.Context, req domain.IngestRequest) error {
	if err := validateIngest(&req); err != nil {
		return err
	}
	if err := x.queue.PublishDocumentAdded(ctx, req); err != nil {
		return fmt.Errorf("publish document event: %w", err)
	}
	return nil
}

// Index runs the pipeline synchronously and reports how many chunks the
// document produced. A sparse-encoding failure degrades the document to
// dense-only retrieval instead of failing the ingest.
func (x *Indexer) Index(ctx context.Context, req domain.IngestRequest) (int, error) {
	if err := validateIngest(&req); err != nil {
		return 0, err
	}

	chunks := x.chunker.Split(req.Text)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "index document",
			fmt.Errorf("document %s produced zero chunks", req.DocumentID))
	}

	vectors, err := x.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.WrapError(domain.ErrInvalidInput, "index document",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	collection := localCollectionPrefix + req.KnowledgeBaseID
	sparse := make([]domain.SparseVector, len(chunks))
	if x.sparse != nil {
		encoded, err := x.sparse.EncodeDocuments(ctx, collection, chunks)
		if err != nil {
			x.logger.Warn("sparse encoding failed, indexing dense-only",
				"document_id", req.DocumentID, "error", err)
		} else {
			sparse = encoded
		}
	}

	points := make([]domain.RetrievalPoint, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, domain.RetrievalPoint{
			ID:     uuid.NewString(),
			UserID: req.UserID,
			Dense:  vectors[i],
			Sparse: sparse[i],
			Text:   chunk,
			Source: domain.SourceRef{
				DocumentID: req.DocumentID,
				Title:      req.Title,
				Store:      collection,
			},
		})
	}

	if err := x.writer(collection).AddPoints(ctx, points); err != nil {
		return 0, fmt.Errorf("upsert points: %w", err)
	}

	x.logger.Info("document indexed",
		"document_id", req.DocumentID,
		"knowledge_base_id", req.KnowledgeBaseID,
		"chunks", len(chunks))
	return len(chunks), nil
}

func validateIngest(req *domain.IngestRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("user_id is required"))
	}
	if strings.TrimSpace(req.KnowledgeBaseID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("knowledge_base_id is required"))
	}
	if strings.TrimSpace(req.Text) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("text is required"))
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		req.DocumentID = uuid.NewString()
	}
	return nil
}
