// Package bm25 computes sparse lexical vectors over a per-collection
// vocabulary. The vocabulary grows append-only: a term's index never changes
// once assigned, so previously indexed points stay valid across updates.
package bm25

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// Tokenize lowercases and splits on whitespace. Language-agnostic on
// purpose: no stemming, no stop words.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// NewTerms returns the tokens of text not yet in vocab, in first-seen order
// and deduplicated. These are the candidates for vocabulary growth.
func NewTerms(vocab map[string]uint32, text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(text) {
		if _, ok := vocab[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Grow assigns indices to new terms, respecting the size cap. Existing
// bindings are never touched; overflow terms are dropped with a warning and
// simply never contribute to sparse scores.
func Grow(vocab map[string]uint32, terms []string, maxSize int) map[string]uint32 {
	if vocab == nil {
		vocab = make(map[string]uint32, len(terms))
	}
	dropped := 0
	for _, term := range terms {
		if _, ok := vocab[term]; ok {
			continue
		}
		if maxSize > 0 && len(vocab) >= maxSize {
			dropped++
			continue
		}
		vocab[term] = uint32(len(vocab))
	}
	if dropped > 0 {
		slog.Warn("bm25_vocabulary_full", "max_size", maxSize, "dropped_terms", dropped)
	}
	return vocab
}

// EncodeDocument builds the normalized term-frequency vector of text against
// vocab: count(term) / len(tokens), restricted to known terms. Unknown terms
// are silently ignored.
func EncodeDocument(vocab map[string]uint32, text string) domain.SparseVector {
	tokens := Tokenize(text)
	if len(tokens) == 0 || len(vocab) == 0 {
		return domain.SparseVector{}
	}

	counts := make(map[uint32]int, len(tokens))
	for _, tok := range tokens {
		idx, ok := vocab[tok]
		if !ok {
			continue
		}
		counts[idx]++
	}
	if len(counts) == 0 {
		return domain.SparseVector{}
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	total := float32(len(tokens))
	for i, idx := range indices {
		values[i] = float32(counts[idx]) / total
	}
	return domain.SparseVector{Indices: indices, Values: values}
}

// EncodeQuery encodes a query the same way documents are encoded. An empty
// result means the query shares no terms with the vocabulary and the caller
// should fall back to dense search.
func EncodeQuery(vocab map[string]uint32, query string) domain.SparseVector {
	return EncodeDocument(vocab, query)
}
