package qdrant

import (
	"sort"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// fuseRRF combines the dense and sparse sub-rankings by weighted reciprocal
// rank: score += weight / (k + rank), rank 0-based. Fusing by rank instead of
// raw score sidesteps the scale mismatch between cosine similarity and BM25
// term frequencies. A point present in only one ranking keeps its partial
// score.
func fuseRRF(dense, sparse []domain.RetrievedChunk, denseWeight float64, k int) []domain.RetrievedChunk {
	if k <= 0 {
		k = 60
	}

	type candidate struct {
		chunk domain.RetrievedChunk
		score float64
		order int
	}
	acc := make(map[string]*candidate, len(dense)+len(sparse))
	next := 0

	add := func(chunks []domain.RetrievedChunk, weight float64) {
		for rank, chunk := range chunks {
			key := chunk.ID
			if key == "" {
				key = chunk.Text
			}
			c, ok := acc[key]
			if !ok {
				c = &candidate{chunk: chunk, order: next}
				next++
				acc[key] = c
			}
			c.score += weight / float64(k+rank)
		}
	}

	add(dense, denseWeight)
	add(sparse, 1.0-denseWeight)

	out := make([]*candidate, 0, len(acc))
	for _, c := range acc {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].order < out[j].order
	})

	fused := make([]domain.RetrievedChunk, 0, len(out))
	for _, c := range out {
		chunk := c.chunk
		chunk.Score = c.score
		fused = append(fused, chunk)
	}
	return fused
}
