package domain

// SearchMode selects which sub-index a retrieval request hits.
type SearchMode string

const (
	SearchDense  SearchMode = "dense"
	SearchSparse SearchMode = "sparse"
	SearchHybrid SearchMode = "hybrid"
)

// SearchFilter narrows a vector search by payload equality.
type SearchFilter struct {
	UserID string
}

// SparseVector is a BM25 term-frequency vector keyed by vocabulary index.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

func (v SparseVector) Empty() bool {
	return len(v.Indices) == 0
}

// RetrievalPoint is one persisted chunk: a dense vector, an optional sparse
// vector bound to the collection's vocabulary, and the source payload.
type RetrievalPoint struct {
	ID     string
	UserID string
	Dense  []float32
	Sparse SparseVector
	Text   string
	Source SourceRef
}

// RetrievedChunk is one ranked search hit.
type RetrievedChunk struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Score  float64   `json:"score"`
	Source SourceRef `json:"source"`
}

// SourceRef identifies where a chunk came from, for citation events.
type SourceRef struct {
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Store      string `json:"store,omitempty"`
}

// Key is the dedupe identity of a source across agents and stores.
func (s SourceRef) Key() string {
	if s.URL != "" {
		return s.URL
	}
	if s.DocumentID != "" {
		return s.DocumentID
	}
	return s.Title
}
