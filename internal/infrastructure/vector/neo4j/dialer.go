package neo4j

import (
	"context"
	"fmt"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// Dialer connects registered neo4j services. The service's collection field
// names the vector index to query; the database is fixed per deployment.
type Dialer struct {
	database string
}

func NewDialer(database string) *Dialer {
	return &Dialer{database: database}
}

func (d Dialer) Dial(ctx context.Context, svc domain.ExternalService) (ports.DenseSearcher, error) {
	if svc.Endpoint == "" {
		return nil, fmt.Errorf("neo4j service %s: endpoint is empty", svc.ID)
	}
	index := svc.Collection
	if index == "" {
		index = "chunks"
	}
	store, err := New(ctx, svc.Endpoint, svc.Credential, d.database, index)
	if err != nil {
		return nil, err
	}
	return store, nil
}
