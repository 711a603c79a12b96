package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

const multiPathRecurrenceBoost = 1.2

// MultiPath retrieves every sub-query concurrently and merges the result
// sets with overlap boosting. A failed sub-query contributes zero hits
// and strategy "error" instead of failing the batch. onSubQuery, when
// non-nil, is invoked from the sub-query goroutines as each one
// completes; it must be safe for concurrent calls.
func (uc *SearchUseCase) MultiPath(
	ctx context.Context,
	original string,
	subQueries []string,
	limit int,
	fileIDs []string,
	rec *domain.StepRecorder,
	onSubQuery func(index int, result domain.SubQueryResult),
) ([]domain.Hit, []domain.SubQueryResult) {
	if limit <= 0 {
		limit = uc.cfg.Limit
	}
	rec.Begin("multi_path", "Multi-path retrieval")

	results := make([]domain.SubQueryResult, len(subQueries))
	g, gctx := errgroup.WithContext(ctx)
	for i, subQuery := range subQueries {
		i, subQuery := i, subQuery
		g.Go(func() error {
			// Sub-queries are already standalone: they skip rewriting.
			rewrite := domain.RewriteResult{Original: subQuery, Effective: subQuery}
			hits, strategy, err := uc.retriever.Retrieve(gctx, rewrite, limit, fileIDs, rec)
			if err != nil {
				uc.logger.Warn("sub_query_failed", "sub_query", subQuery, "error", err)
				results[i] = domain.SubQueryResult{SubQuery: subQuery, Strategy: domain.StrategyError}
			} else {
				results[i] = domain.SubQueryResult{SubQuery: subQuery, Hits: hits, Strategy: strategy}
			}
			if onSubQuery != nil {
				onSubQuery(i, results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	merged := mergeSubQueryHits(results)
	reranked := rerankHits(ctx, uc.retriever.reranker, uc.logger, original, merged, uc.retriever.cfg.RerankTopN)
	hits := dedupeHits(trimHits(reranked, limit))

	rec.Finish("multi_path", func(step *domain.DiagnosticStep) {
		step.Detail = fmt.Sprintf("%d sub-queries, %d merged hits", len(subQueries), len(hits))
		step.Queries = subQueries
	})
	return hits, results
}

// mergeSubQueryHits merges hits across sub-queries by chunk key. A key
// recurring in several sub-queries takes max(existing, new) * 1.2,
// rewarding cross-sub-query relevance. The merged order depends only on
// final scores, never on sub-query completion order.
func mergeSubQueryHits(results []domain.SubQueryResult) []domain.Hit {
	merged := make(map[string]domain.Hit)
	for _, result := range results {
		for _, hit := range result.Hits {
			key := hit.Key()
			existing, ok := merged[key]
			if !ok {
				merged[key] = hit
				continue
			}
			score := existing.Score
			if hit.Score > score {
				score = hit.Score
			}
			richer := preferRicherHit(existing, hit)
			merged[key] = richer.WithScore(score * multiPathRecurrenceBoost)
		}
	}

	out := make([]domain.Hit, 0, len(merged))
	for _, hit := range merged {
		out = append(out, hit)
	}
	sortHitsStable(out)
	return out
}
