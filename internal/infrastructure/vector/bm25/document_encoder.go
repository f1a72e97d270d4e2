package bm25

import (
	"context"
	"fmt"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// DocumentEncoder grows the persisted vocabulary with the new terms of a
// batch and encodes each chunk against the grown vocabulary. The store's
// Append runs under a per-collection lock, so concurrent ingests cannot
// lose each other's terms.
type DocumentEncoder struct {
	store   ports.VocabularyStore
	maxSize int
}

func NewDocumentEncoder(store ports.VocabularyStore, maxSize int) *DocumentEncoder {
	return &DocumentEncoder{store: store, maxSize: maxSize}
}

func (e *DocumentEncoder) EncodeDocuments(ctx context.Context, collection string, texts []string) ([]domain.SparseVector, error) {
	vocab, err := e.store.Load(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary %s: %w", collection, err)
	}

	var newTerms []string
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, term := range NewTerms(vocab, text) {
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			newTerms = append(newTerms, term)
		}
	}

	if len(newTerms) > 0 {
		vocab, err = e.store.Append(ctx, collection, newTerms, e.maxSize)
		if err != nil {
			return nil, fmt.Errorf("append vocabulary %s: %w", collection, err)
		}
	}

	out := make([]domain.SparseVector, len(texts))
	for i, text := range texts {
		out[i] = EncodeDocument(vocab, text)
	}
	return out, nil
}
