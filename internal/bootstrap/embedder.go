package bootstrap

import (
	"context"
	"errors"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
	"github.com/kmalykh/ragmesh/internal/infrastructure/resilience"
)

// retryingEmbedder routes embedding calls through the shared resilience
// executor. Embedding sits on both the query and the indexing path, so a
// briefly unreachable model server should not fail a whole run.
type retryingEmbedder struct {
	inner    ports.Embedder
	executor *resilience.Executor
}

func (r *retryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.executor.Execute(ctx, "embed_documents", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Embed(ctx, texts)
		return err
	}, embedClassifier)
	return out, err
}

func (r *retryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.executor.Execute(ctx, "embed_query", func(ctx context.Context) error {
		var err error
		out, err = r.inner.EmbedQuery(ctx, text)
		return err
	}, embedClassifier)
	return out, err
}

// embedClassifier retries the failures the model client marked temporary.
func embedClassifier(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}
