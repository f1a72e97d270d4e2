package ports

import (
	"context"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// ChatStreamer is the inbound contract for one orchestrated chat run.
// Events arrive at yield strictly in emission order; the stream always ends
// with exactly one domain.StreamEnd, whatever the execution path did.
type ChatStreamer interface {
	Stream(ctx context.Context, req domain.ChatRequest, yield func(domain.Event) error) error
}

// DocumentIndexer is the inbound contract for the indexing pipeline. Index
// reports the number of chunks the document produced.
type DocumentIndexer interface {
	Enqueue(ctx context.Context, req domain.IngestRequest) error
	Index(ctx context.Context, req domain.IngestRequest) (int, error)
}
