package bm25

import (
	"context"
	"fmt"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// StoreEncoder encodes queries against the persisted vocabulary of one
// collection. It is the QueryEncoder handed to vector stores.
type StoreEncoder struct {
	store      ports.VocabularyStore
	collection string
}

func NewStoreEncoder(store ports.VocabularyStore, collection string) *StoreEncoder {
	return &StoreEncoder{store: store, collection: collection}
}

func (e *StoreEncoder) EncodeQuery(ctx context.Context, query string) (domain.SparseVector, error) {
	vocab, err := e.store.Load(ctx, e.collection)
	if err != nil {
		return domain.SparseVector{}, fmt.Errorf("load vocabulary %s: %w", e.collection, err)
	}
	return EncodeQuery(vocab, query), nil
}
