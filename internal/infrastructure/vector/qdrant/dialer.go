package qdrant

import (
	"context"
	"fmt"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// Dialer connects registered external qdrant services. External collections
// carry no locally managed vocabulary, so sparse encoding stays nil and
// callers degrade to dense search.
type Dialer struct {
	opts Options
}

func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

func (d *Dialer) Dial(_ context.Context, svc domain.ExternalService) (ports.DenseSearcher, error) {
	if svc.Endpoint == "" {
		return nil, fmt.Errorf("qdrant service %s: endpoint is empty", svc.ID)
	}
	collection := svc.Collection
	if collection == "" {
		collection = "documents"
	}
	opts := d.opts
	opts.APIKey = svc.Credential
	return New(svc.Endpoint, collection, nil, opts), nil
}
