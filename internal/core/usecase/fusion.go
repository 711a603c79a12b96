package usecase

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

const (
	defaultRRFK         = 60
	vectorFusionWeight  = 1.0
	lexicalFusionWeight = 3.0
)

type fusedCandidate struct {
	hit   domain.Hit
	score float64
}

// fuseRankingsRRF blends a vector and a lexical ranking with Reciprocal
// Rank Fusion: each appearance contributes weight/(k+rank). Lexical
// appearances carry a higher weight because exact-term matches are
// trusted more than approximate similarity. A hit present in both
// rankings accumulates both contributions.
func fuseRankingsRRF(vector, lexical []domain.Hit, rrfK int) []domain.Hit {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]fusedCandidate, len(vector)+len(lexical))
	addRanking := func(hits []domain.Hit, weight float64) {
		for rank, hit := range hits {
			key := hit.Key()
			candidate := acc[key]
			candidate.hit = preferRicherHit(candidate.hit, hit)
			candidate.score += weight / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addRanking(vector, vectorFusionWeight)
	addRanking(lexical, lexicalFusionWeight)

	out := make([]domain.Hit, 0, len(acc))
	for _, c := range acc {
		out = append(out, c.hit.WithScore(c.score))
	}

	sortHitsStable(out)
	return out
}

func sortHitsStable(hits []domain.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].FileID != hits[j].FileID {
			return hits[i].FileID < hits[j].FileID
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func trimHits(hits []domain.Hit, limit int) []domain.Hit {
	if limit <= 0 || len(hits) <= limit {
		return hits
	}
	return hits[:limit]
}

func preferRicherHit(current, candidate domain.Hit) domain.Hit {
	if current.FileID == "" && current.ChunkID == "" && current.Snippet == "" {
		return candidate
	}
	if current.Snippet == "" && candidate.Snippet != "" {
		current.Snippet = candidate.Snippet
	}
	if current.Summary == "" && candidate.Summary != "" {
		current.Summary = candidate.Summary
	}
	if current.FileID == "" && candidate.FileID != "" {
		current.FileID = candidate.FileID
	}
	if current.ChunkID == "" && candidate.ChunkID != "" {
		current.ChunkID = candidate.ChunkID
	}
	if current.Provenance.Name == "" && candidate.Provenance.Name != "" {
		current.Provenance = candidate.Provenance
	}
	for key, value := range candidate.Extra {
		if _, ok := current.Extra[key]; !ok {
			if current.Extra == nil {
				current.Extra = make(map[string]string, len(candidate.Extra))
			}
			current.Extra[key] = value
		}
	}
	return current
}

const snippetHashPrefixLen = 200

// dedupeHits drops hits whose chunk key was already emitted and, as a
// cheap near-duplicate guard, hits whose leading snippet content hashes
// identically to an earlier hit's. Idempotent: running it again on its
// own output removes nothing.
func dedupeHits(hits []domain.Hit) []domain.Hit {
	seenKeys := make(map[string]struct{}, len(hits))
	seenContent := make(map[uint64]struct{}, len(hits))

	out := make([]domain.Hit, 0, len(hits))
	for _, hit := range hits {
		key := hit.Key()
		if key != "" {
			if _, ok := seenKeys[key]; ok {
				continue
			}
		}
		snippet := strings.ToLower(strings.TrimSpace(hit.Snippet))
		var contentHash uint64
		if snippet != "" {
			if len(snippet) > snippetHashPrefixLen {
				snippet = snippet[:snippetHashPrefixLen]
			}
			h := fnv.New64a()
			_, _ = h.Write([]byte(snippet))
			contentHash = h.Sum64()
			if _, ok := seenContent[contentHash]; ok {
				continue
			}
		}
		if key != "" {
			seenKeys[key] = struct{}{}
		}
		if snippet != "" {
			seenContent[contentHash] = struct{}{}
		}
		out = append(out, hit)
	}
	return out
}
