package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

type SearchConfig struct {
	Limit int
}

func (c SearchConfig) normalize() SearchConfig {
	if c.Limit <= 0 {
		c.Limit = 15
	}
	return c
}

// SearchUseCase orchestrates the retrieval pipeline: file-mention
// filtering, query rewriting, optional decomposition with multi-path
// retrieval, and the single-path retriever.
type SearchUseCase struct {
	rewriter   *Rewriter
	decomposer *Decomposer
	retriever  *Retriever
	storage    ports.IndexStorage
	logger     *slog.Logger
	cfg        SearchConfig
}

func NewSearchUseCase(
	rewriter *Rewriter,
	decomposer *Decomposer,
	retriever *Retriever,
	storage ports.IndexStorage,
	logger *slog.Logger,
	cfg SearchConfig,
) *SearchUseCase {
	return &SearchUseCase{
		rewriter:   rewriter,
		decomposer: decomposer,
		retriever:  retriever,
		storage:    storage,
		logger:     logger,
		cfg:        cfg.normalize(),
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("query is required"))
	}
	rec := domain.NewStepRecorder()
	return uc.Run(ctx, req.Query, req.Limit, rec, nil)
}

// Run executes the full search pipeline against a caller-owned recorder.
// The streaming orchestrator reuses it with a sub-query callback.
func (uc *SearchUseCase) Run(
	ctx context.Context,
	query string,
	limit int,
	rec *domain.StepRecorder,
	onSubQuery func(index int, result domain.SubQueryResult),
) (*domain.SearchResponse, error) {
	return uc.run(ctx, query, limit, rec, onSubQuery, true)
}

// runSinglePath skips the decomposition gate. The streaming orchestrator
// calls it after announcing a fallback: the decomposition decision was
// already made and must not be re-taken with a fresh model call.
func (uc *SearchUseCase) runSinglePath(
	ctx context.Context,
	query string,
	limit int,
	rec *domain.StepRecorder,
) (*domain.SearchResponse, error) {
	return uc.run(ctx, query, limit, rec, nil, false)
}

func (uc *SearchUseCase) run(
	ctx context.Context,
	query string,
	limit int,
	rec *domain.StepRecorder,
	onSubQuery func(index int, result domain.SubQueryResult),
	decompose bool,
) (*domain.SearchResponse, error) {
	start := time.Now()
	if limit <= 0 {
		limit = uc.cfg.Limit
	}

	cleaned, fileIDs := uc.resolveMentions(ctx, query, rec)

	rec.Begin("rewrite", "Query rewriting")
	rewrite := uc.rewriter.Rewrite(ctx, cleaned)
	rec.Finish("rewrite", func(step *domain.DiagnosticStep) {
		step.Queries = rewrite.Variants(0)
		if rewrite.Applied {
			step.Detail = rewrite.Effective
		} else {
			step.Detail = "kept literal query"
		}
	})

	response := &domain.SearchResponse{
		Query:         query,
		QueryVariants: rewrite.Variants(0),
	}
	if rewrite.Applied {
		response.RewrittenQuery = rewrite.Effective
	}

	if decompose && ShouldDecompose(cleaned) {
		rec.Begin("decompose", "Query decomposition")
		subQueries := uc.decomposer.Decompose(ctx, cleaned)
		rec.Finish("decompose", func(step *domain.DiagnosticStep) {
			step.Queries = subQueries
			step.Detail = fmt.Sprintf("%d sub-queries", len(subQueries))
		})

		if len(subQueries) > 1 {
			hits, results := uc.MultiPath(ctx, cleaned, subQueries, limit, fileIDs, rec, onSubQuery)
			response.Hits = hits
			response.Strategy = domain.StrategyMultiPath
			response.SubQueries = subQueries
			response.SubQueryResults = results
			response.LatencyMs = time.Since(start).Milliseconds()
			response.Diagnostics = rec.Snapshot()
			return response, nil
		}
	}

	hits, strategy, err := uc.retriever.Retrieve(ctx, rewrite, limit, fileIDs, rec)
	if err != nil {
		return nil, err
	}
	response.Hits = hits
	response.Strategy = strategy
	response.LatencyMs = time.Since(start).Milliseconds()
	response.Diagnostics = rec.Snapshot()
	return response, nil
}

// resolveMentions strips @file mentions from the query and resolves them
// to a file-id filter. Unresolvable mentions are dropped with a warning
// rather than failing the search.
func (uc *SearchUseCase) resolveMentions(ctx context.Context, query string, rec *domain.StepRecorder) (string, []string) {
	cleaned, names := extractMentions(query)
	if len(names) == 0 {
		return query, nil
	}

	rec.Begin("mentions", "File mention filter")
	var fileIDs []string
	var labels []string
	for _, name := range names {
		files, err := uc.storage.FindFilesByName(ctx, name)
		if err != nil || len(files) == 0 {
			uc.logger.Warn("mention_unresolved", "name", name, "error", err)
			continue
		}
		for _, file := range files {
			fileIDs = append(fileIDs, file.ID)
			labels = append(labels, file.Name)
		}
	}
	rec.Finish("mentions", func(step *domain.DiagnosticStep) {
		step.Items = labels
		step.Detail = fmt.Sprintf("%d files matched", len(fileIDs))
	})

	if strings.TrimSpace(cleaned) == "" {
		// Mention-only query: keep the names as search terms.
		cleaned = strings.Join(names, " ")
	}
	return cleaned, fileIDs
}

// extractMentions pulls @name and @"name with spaces" tokens out of the
// query, returning the query without them and the mentioned names.
func extractMentions(query string) (string, []string) {
	var names []string
	var b strings.Builder

	i := 0
	for i < len(query) {
		if query[i] != '@' {
			b.WriteByte(query[i])
			i++
			continue
		}
		i++
		if i < len(query) && query[i] == '"' {
			end := strings.IndexByte(query[i+1:], '"')
			if end < 0 {
				b.WriteByte('@')
				continue
			}
			name := query[i+1 : i+1+end]
			if name != "" {
				names = append(names, name)
			}
			i += end + 2
			continue
		}
		start := i
		for i < len(query) && query[i] != ' ' && query[i] != '\t' && query[i] != '\n' && query[i] != ',' && query[i] != '?' {
			i++
		}
		if name := query[start:i]; name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(strings.Fields(b.String()), " "), names
}
