package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

// StreamSearch runs retrieval as progressive layers, cheapest first:
// filename match, chunk-summary match, file-metadata match, then the
// hybrid retriever when the cheap layers have not filled the limit.
// Each layer emits one stage with the hits earlier layers did not
// already produce; layers that fail or find nothing new are skipped.
// The stream always terminates with a complete stage.
func (uc *SearchUseCase) StreamSearch(ctx context.Context, req domain.SearchRequest, emit domain.StageSink) error {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return domain.WrapError(domain.ErrInvalidInput, "stream search", fmt.Errorf("query is required"))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = uc.cfg.Limit
	}

	start := time.Now()
	seen := make(map[string]struct{})
	total := 0

	send := func(stage domain.SearchStage, hits []domain.Hit) error {
		return emit(domain.StageResult{
			Stage:     stage,
			Hits:      hits,
			TotalHits: total,
			Done:      stage == domain.StageComplete,
			LatencyMs: time.Since(start).Milliseconds(),
		})
	}
	admit := func(stage domain.SearchStage, hits []domain.Hit) []domain.Hit {
		fresh := make([]domain.Hit, 0, len(hits))
		for _, hit := range hits {
			if _, ok := seen[hit.FileID]; ok {
				continue
			}
			seen[hit.FileID] = struct{}{}
			total++
			fresh = append(fresh, tagStage(hit, stage))
		}
		return fresh
	}

	files, err := uc.storage.FindFilesByName(ctx, query)
	if err != nil {
		uc.logger.Warn("filename_stage_failed", "error", err)
	} else if fresh := admit(domain.StageFilename, filenameStageHits(files, limit)); len(fresh) > 0 {
		if err := send(domain.StageFilename, fresh); err != nil {
			return err
		}
	}

	hits, err := uc.storage.SearchFileSummaries(ctx, query, limit, seenFileIDs(seen))
	if err != nil {
		uc.logger.Warn("summary_stage_failed", "error", err)
	} else if fresh := admit(domain.StageSummary, hits); len(fresh) > 0 {
		if err := send(domain.StageSummary, fresh); err != nil {
			return err
		}
	}

	hits, err = uc.storage.SearchFileMetadata(ctx, query, limit, seenFileIDs(seen))
	if err != nil {
		uc.logger.Warn("metadata_stage_failed", "error", err)
	} else if fresh := admit(domain.StageMetadata, hits); len(fresh) > 0 {
		if err := send(domain.StageMetadata, fresh); err != nil {
			return err
		}
	}

	if total < limit {
		if fresh := uc.hybridStage(ctx, query, limit, seen, &total); len(fresh) > 0 {
			if err := send(domain.StageHybrid, fresh); err != nil {
				return err
			}
		}
	}

	return send(domain.StageComplete, nil)
}

// hybridStage runs the single-path retriever and keeps hits from new
// files plus chunk-level hits for files the cheap layers already
// reported: those refine a file-level match down to the chunk. An
// unavailable embedding backend degrades to skipping the layer.
func (uc *SearchUseCase) hybridStage(
	ctx context.Context,
	query string,
	limit int,
	seen map[string]struct{},
	total *int,
) []domain.Hit {
	resp, err := uc.runSinglePath(ctx, query, limit, domain.NewStepRecorder())
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
			uc.logger.Warn("hybrid_stage_skipped", "reason", "embedding unavailable")
		} else {
			uc.logger.Warn("hybrid_stage_failed", "error", err)
		}
		return nil
	}

	fresh := make([]domain.Hit, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if _, ok := seen[hit.FileID]; ok {
			if hit.ChunkID == "" {
				continue
			}
		} else {
			seen[hit.FileID] = struct{}{}
			*total++
		}
		fresh = append(fresh, tagStage(hit, domain.StageHybrid))
	}
	return fresh
}

func tagStage(hit domain.Hit, stage domain.SearchStage) domain.Hit {
	extra := make(map[string]string, len(hit.Extra)+1)
	for k, v := range hit.Extra {
		extra[k] = v
	}
	extra["search_stage"] = string(stage)
	hit.Extra = extra
	return hit
}

func filenameStageHits(files []domain.FileRecord, limit int) []domain.Hit {
	if len(files) > limit {
		files = files[:limit]
	}
	hits := make([]domain.Hit, 0, len(files))
	for _, file := range files {
		hits = append(hits, domain.Hit{
			FileID: file.ID,
			Score:  1,
			Provenance: domain.Provenance{
				Kind: domain.KindForFile(file.Kind),
				Name: file.Name,
				Path: file.Path,
			},
		})
	}
	return hits
}

func seenFileIDs(seen map[string]struct{}) []string {
	if len(seen) == 0 {
		return nil
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
