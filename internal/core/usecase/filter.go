package usecase

import (
	"sort"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

const (
	relevanceMinKeep       = 5
	relevanceMinContentLen = 50
)

// filterRelevantParts is a cheap pre-filter before the per-chunk model
// calls: it drops tiny fragments, applies an adaptive score threshold,
// and reorders the remainder by blended retrieval score and keyword
// overlap so the most promising chunks are verified first.
func filterRelevantParts(query string, parts []domain.ContextPart) []domain.ContextPart {
	sized := make([]domain.ContextPart, 0, len(parts))
	for _, part := range parts {
		if len(part.Content) < relevanceMinContentLen {
			continue
		}
		sized = append(sized, part)
	}
	if len(sized) == 0 {
		return nil
	}

	var sum, max float64
	for _, part := range sized {
		sum += part.Score
		if part.Score > max {
			max = part.Score
		}
	}
	avg := sum / float64(len(sized))
	threshold := avg * 0.6
	if half := max * 0.5; half > threshold {
		threshold = half
	}

	kept := make([]domain.ContextPart, 0, len(sized))
	for _, part := range sized {
		if part.Score >= threshold {
			kept = append(kept, part)
		}
	}
	if len(kept) < relevanceMinKeep {
		// The threshold was too aggressive for this score distribution.
		sort.SliceStable(sized, func(i, j int) bool { return sized[i].Score > sized[j].Score })
		kept = sized
		if len(kept) > relevanceMinKeep {
			kept = kept[:relevanceMinKeep]
		}
	}

	queryTokens := toTokenSet(query)
	type scored struct {
		part  domain.ContextPart
		value float64
	}
	rescored := make([]scored, 0, len(kept))
	for _, part := range kept {
		norm := 0.0
		if max > 0 {
			norm = part.Score / max
		}
		overlap := tokenOverlap(queryTokens, toTokenSet(part.Content))
		rescored = append(rescored, scored{part: part, value: 0.7*norm + 0.3*overlap})
	}
	sort.SliceStable(rescored, func(i, j int) bool { return rescored[i].value > rescored[j].value })

	out := make([]domain.ContextPart, 0, len(rescored))
	for _, s := range rescored {
		out = append(out, s.part)
	}
	return out
}

// contextParts turns ranked hits into verification inputs, truncating
// snippets to the configured length. Indexes are 1-based: they double as
// the citation numbers in the synthesized answer.
func contextParts(hits []domain.Hit, maxSnippetChars int) []domain.ContextPart {
	if maxSnippetChars <= 0 {
		maxSnippetChars = 2000
	}
	parts := make([]domain.ContextPart, 0, len(hits))
	for i, hit := range hits {
		content := hit.Snippet
		if content == "" {
			content = hit.Summary
		}
		if len(content) > maxSnippetChars {
			content = content[:maxSnippetChars]
		}
		parts = append(parts, domain.ContextPart{
			Index:   i + 1,
			Source:  hit.Provenance.CitationLabel(),
			Content: content,
			FileID:  hit.FileID,
			ChunkID: hit.ChunkID,
			Score:   hit.Score,
		})
	}
	return parts
}
