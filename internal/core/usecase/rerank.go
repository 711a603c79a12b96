package usecase

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

// rerankHits reorders the head of the candidate list with the rerank
// model. Rerank failures degrade to a local lexical rescoring pass, never
// to an error: reranking improves ordering but is not load-bearing.
func rerankHits(ctx context.Context, reranker ports.RerankClient, logger *slog.Logger, query string, hits []domain.Hit, topN int) []domain.Hit {
	if len(hits) == 0 {
		return hits
	}
	if topN <= 0 || topN > len(hits) {
		topN = len(hits)
	}

	if reranker != nil {
		documents := make([]string, topN)
		for i := 0; i < topN; i++ {
			documents[i] = hits[i].Snippet
			if documents[i] == "" {
				documents[i] = hits[i].Summary
			}
		}
		ranked, err := reranker.Rerank(ctx, query, documents, topN)
		if err == nil && len(ranked) > 0 {
			return applyRanking(hits, ranked, topN)
		}
		if err != nil && logger != nil {
			logger.Warn("rerank_degraded", "error", err)
		}
	}

	return rescoreLexically(query, hits, topN)
}

func applyRanking(hits []domain.Hit, ranked []domain.RankedDocument, topN int) []domain.Hit {
	head := make([]domain.Hit, 0, topN)
	used := make(map[int]struct{}, len(ranked))
	for _, doc := range ranked {
		if doc.Index < 0 || doc.Index >= topN {
			continue
		}
		if _, ok := used[doc.Index]; ok {
			continue
		}
		used[doc.Index] = struct{}{}
		head = append(head, hits[doc.Index].WithScore(doc.Score))
	}
	// Documents the model dropped keep their original order at the tail.
	for i := 0; i < topN; i++ {
		if _, ok := used[i]; !ok {
			head = append(head, hits[i])
		}
	}

	out := make([]domain.Hit, 0, len(hits))
	out = append(out, head...)
	out = append(out, hits[topN:]...)
	return out
}

// rescoreLexically blends the normalized retrieval score with query-token
// overlap and a source-name hit, mirroring what the rerank model would
// reward when it is unavailable.
func rescoreLexically(query string, hits []domain.Hit, topN int) []domain.Hit {
	head := make([]domain.Hit, topN)
	copy(head, hits[:topN])
	queryTokens := toTokenSet(query)

	minScore := head[0].Score
	maxScore := head[0].Score
	for _, hit := range head[1:] {
		if hit.Score < minScore {
			minScore = hit.Score
		}
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	for i := range head {
		normalized := normalize(head[i].Score)
		overlap := tokenOverlap(queryTokens, toTokenSet(head[i].Snippet))
		nameBoost := sourceNameTokenHit(queryTokens, head[i].Provenance.Name)
		head[i] = head[i].WithScore(0.60*normalized + 0.30*overlap + 0.10*nameBoost)
	}

	sortHitsStable(head)

	if topN == len(hits) {
		return head
	}
	out := make([]domain.Hit, 0, len(hits))
	out = append(out, head...)
	out = append(out, hits[topN:]...)
	return out
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sourceNameTokenHit(query map[string]struct{}, name string) float64 {
	if len(query) == 0 || name == "" {
		return 0
	}
	name = strings.ToLower(name)
	for token := range query {
		if token == "" {
			continue
		}
		if strings.Contains(name, token) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
