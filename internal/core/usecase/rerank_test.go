package usecase

import (
	"testing"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

func TestRerankPrefersTokenOverlap(t *testing.T) {
	fused := []domain.RetrievedChunk{
		{ID: "c1", Text: "completely unrelated paragraph", Score: 0.9,
			Source: domain.SourceRef{DocumentID: "doc-a"}},
		{ID: "c2", Text: "refund policy allows returns within thirty days", Score: 0.9,
			Source: domain.SourceRef{DocumentID: "doc-b"}},
	}

	out := rerankCandidates("refund policy returns", fused, 2)

	if out[0].ID != "c2" {
		t.Fatalf("top = %s, want the overlapping chunk first", out[0].ID)
	}
}

func TestRerankTitleHitBreaksNearTies(t *testing.T) {
	fused := []domain.RetrievedChunk{
		{ID: "c1", Text: "shipping rates table", Score: 0.5,
			Source: domain.SourceRef{DocumentID: "doc-a", Title: "Warehouse Notes"}},
		{ID: "c2", Text: "shipping rates table", Score: 0.5,
			Source: domain.SourceRef{DocumentID: "doc-b", Title: "Shipping Rates"}},
	}

	out := rerankCandidates("shipping rates", fused, 2)

	if out[0].ID != "c2" {
		t.Fatalf("top = %s, want the title hit first", out[0].ID)
	}
}

func TestRerankOnlyTouchesHead(t *testing.T) {
	fused := []domain.RetrievedChunk{
		{ID: "c1", Text: "alpha", Score: 3, Source: domain.SourceRef{DocumentID: "a"}},
		{ID: "c2", Text: "beta", Score: 2, Source: domain.SourceRef{DocumentID: "b"}},
		{ID: "c3", Text: "gamma", Score: 1, Source: domain.SourceRef{DocumentID: "c"}},
	}

	out := rerankCandidates("delta", fused, 2)

	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[2].ID != "c3" {
		t.Fatalf("tail = %s, entries past topN keep their position", out[2].ID)
	}
}

func TestRerankStableOnEqualScores(t *testing.T) {
	// Identical text and scores; the document id is the tie breaker.
	fused := []domain.RetrievedChunk{
		{ID: "c1", Text: "same", Score: 1, Source: domain.SourceRef{DocumentID: "doc-b"}},
		{ID: "c2", Text: "same", Score: 1, Source: domain.SourceRef{DocumentID: "doc-a"}},
	}

	out := rerankCandidates("query", fused, 2)

	if out[0].Source.DocumentID != "doc-a" {
		t.Fatalf("top = %s, want lexicographic document id on ties", out[0].Source.DocumentID)
	}
}

func TestRerankEmptyAndOversizedTopN(t *testing.T) {
	if out := rerankCandidates("q", nil, 5); len(out) != 0 {
		t.Fatalf("len = %d", len(out))
	}
	fused := []domain.RetrievedChunk{{ID: "c1", Text: "x", Score: 1}}
	if out := rerankCandidates("q", fused, 10); len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
}

func TestSplitAlphaNumLower(t *testing.T) {
	got := splitAlphaNumLower("Refund-Policy v2, 배차 일정!")
	want := []string{"refund", "policy", "v2", "배차", "일정"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", got, want)
		}
	}
}
