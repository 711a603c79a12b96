package usecase

import (
	"math"
	"testing"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func TestFuseRankingsRRFDualPresenceOutranksSinglePresence(t *testing.T) {
	shared := domain.Hit{FileID: "f1", ChunkID: "c1", Snippet: "shared"}
	lexicalOnly := domain.Hit{FileID: "f2", ChunkID: "c2", Snippet: "lexical only"}

	fused := fuseRankingsRRF(
		[]domain.Hit{shared},
		[]domain.Hit{lexicalOnly, shared},
		60,
	)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused hits, got %d", len(fused))
	}

	scores := map[string]float64{}
	for _, hit := range fused {
		scores[hit.ChunkID] = hit.Score
	}
	// Rank 1 in both rankings: 1/61 + 3/62. Rank 1 lexical only: 3/61.
	wantShared := 1.0/61 + 3.0/62
	wantLexical := 3.0 / 61
	if math.Abs(scores["c1"]-wantShared) > 1e-9 {
		t.Fatalf("shared hit score = %v, want %v", scores["c1"], wantShared)
	}
	if math.Abs(scores["c2"]-wantLexical) > 1e-9 {
		t.Fatalf("lexical-only score = %v, want %v", scores["c2"], wantLexical)
	}
}

func TestFuseRankingsRRFEqualRankInBothBeatsSingleRanking(t *testing.T) {
	x := domain.Hit{FileID: "f1", ChunkID: "x"}
	y := domain.Hit{FileID: "f2", ChunkID: "y"}

	fused := fuseRankingsRRF([]domain.Hit{x}, []domain.Hit{x, y}, 60)
	if fused[0].ChunkID != "x" {
		t.Fatalf("expected dual-ranking hit first, got %s", fused[0].ChunkID)
	}
	// 4/61 for rank-1 presence in both vs 3/61 for lexical rank 1 alone.
	fusedBoth := fuseRankingsRRF([]domain.Hit{x}, []domain.Hit{x}, 60)
	if math.Abs(fusedBoth[0].Score-4.0/61) > 1e-9 {
		t.Fatalf("dual rank-1 score = %v, want %v", fusedBoth[0].Score, 4.0/61)
	}
}

func TestSortHitsStableTieBreaksByIDs(t *testing.T) {
	hits := []domain.Hit{
		{FileID: "f-b", ChunkID: "b", Score: 0.5},
		{FileID: "f-a", ChunkID: "z", Score: 0.5},
		{FileID: "f-a", ChunkID: "a", Score: 0.5},
	}
	sortHitsStable(hits)
	if hits[0].ChunkID != "a" || hits[1].ChunkID != "z" || hits[2].ChunkID != "b" {
		t.Fatalf("unexpected tie-break order: %v, %v, %v", hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID)
	}
}

func TestDedupeHitsDropsRepeatedChunkKeys(t *testing.T) {
	hits := []domain.Hit{
		{FileID: "f1", ChunkID: "c1", Snippet: "alpha"},
		{FileID: "f1", ChunkID: "c1", Snippet: "alpha again"},
		{FileID: "f2", ChunkID: "c2", Snippet: "beta"},
	}
	out := dedupeHits(hits)
	if len(out) != 2 {
		t.Fatalf("expected 2 hits after dedupe, got %d", len(out))
	}
}

func TestDedupeHitsDropsNearDuplicateSnippets(t *testing.T) {
	hits := []domain.Hit{
		{FileID: "f1", ChunkID: "c1", Snippet: "  The Quarterly Report shows growth  "},
		{FileID: "f2", ChunkID: "c2", Snippet: "the quarterly report shows growth"},
	}
	out := dedupeHits(hits)
	if len(out) != 1 {
		t.Fatalf("expected snippet-hash dedupe to drop the near duplicate, got %d hits", len(out))
	}
}

func TestDedupeHitsIdempotent(t *testing.T) {
	hits := []domain.Hit{
		{FileID: "f1", ChunkID: "c1", Snippet: "alpha"},
		{FileID: "f2", ChunkID: "c2", Snippet: "beta"},
		{FileID: "f3", Snippet: "gamma"},
	}
	once := dedupeHits(hits)
	twice := dedupeHits(once)
	if len(once) != len(twice) {
		t.Fatalf("dedupe not idempotent: %d then %d", len(once), len(twice))
	}
}
