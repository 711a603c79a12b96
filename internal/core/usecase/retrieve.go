package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

type RetrieverConfig struct {
	Limit               int
	RRFK                int
	RerankTopN          int
	CandidateMultiplier int
	MandatoryMinTerms   int
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	if c.Limit <= 0 {
		c.Limit = 15
	}
	if c.RRFK <= 0 {
		c.RRFK = defaultRRFK
	}
	if c.RerankTopN <= 0 {
		c.RerankTopN = 20
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 3
	}
	if c.MandatoryMinTerms <= 0 {
		c.MandatoryMinTerms = 4
	}
	return c
}

// Retriever turns query variants into a ranked hit list. It is stateless
// over its injected collaborators; all per-request state lives in the
// arguments and the step recorder.
type Retriever struct {
	storage  ports.IndexStorage
	vector   ports.VectorIndex
	embedder ports.EmbeddingClient
	reranker ports.RerankClient
	logger   *slog.Logger
	cfg      RetrieverConfig
}

func NewRetriever(
	storage ports.IndexStorage,
	vector ports.VectorIndex,
	embedder ports.EmbeddingClient,
	reranker ports.RerankClient,
	logger *slog.Logger,
	cfg RetrieverConfig,
) *Retriever {
	return &Retriever{
		storage:  storage,
		vector:   vector,
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
		cfg:      cfg.normalize(),
	}
}

// Retrieve runs the single-path pipeline: mandatory-keyword search for
// specific queries, otherwise vector retrieval blended with a lexical
// backfill under RRF. Embedding failure on the hybrid path surfaces as
// domain.ErrEmbeddingUnavailable; every other sub-error degrades.
func (r *Retriever) Retrieve(
	ctx context.Context,
	rewrite domain.RewriteResult,
	limit int,
	fileIDs []string,
	rec *domain.StepRecorder,
) ([]domain.Hit, domain.Strategy, error) {
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	primary := strings.TrimSpace(rewrite.Effective)
	if primary == "" {
		primary = strings.TrimSpace(rewrite.Original)
	}
	if primary == "" {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("empty query"))
	}

	terms := uniqueSearchTerms(primary)
	if len(terms) >= r.cfg.MandatoryMinTerms {
		hits, strategy, handled := r.mandatoryPath(ctx, rewrite, primary, limit, fileIDs, rec)
		if handled {
			return hits, strategy, nil
		}
	}

	return r.hybridPath(ctx, rewrite, primary, limit, fileIDs, rec)
}

// mandatoryPath searches for chunks containing every query term. The
// third return value is false when the path does not apply and the
// caller should continue with the hybrid path.
func (r *Retriever) mandatoryPath(
	ctx context.Context,
	rewrite domain.RewriteResult,
	primary string,
	limit int,
	fileIDs []string,
	rec *domain.StepRecorder,
) ([]domain.Hit, domain.Strategy, bool) {
	rec.Begin("mandatory_keywords", "Mandatory keyword search")

	mandatory, err := r.storage.SearchSnippets(ctx, domain.SnippetQuery{
		Query:           primary,
		Limit:           limit * r.cfg.CandidateMultiplier,
		RequireAllTerms: true,
		FileIDs:         fileIDs,
	})
	if err != nil {
		r.logger.Warn("mandatory_search_degraded", "error", err)
		rec.Fail("mandatory_keywords", err.Error())
		return nil, "", false
	}
	if len(mandatory) == 0 {
		rec.Finish("mandatory_keywords", func(step *domain.DiagnosticStep) {
			step.Detail = "no complete keyword matches"
		})
		return nil, "", false
	}

	if len(mandatory) >= limit {
		reranked := rerankHits(ctx, r.reranker, r.logger, primary, mandatory, r.cfg.RerankTopN)
		hits := dedupeHits(trimHits(reranked, limit))
		finishWithHits(rec, "mandatory_keywords", hits)
		return hits, domain.StrategyMandatoryKeywords, true
	}

	// Not enough complete matches: guarantee them first, fill the rest
	// from vector retrieval.
	vectorHits, err := r.vectorRetrieve(ctx, rewrite.Variants(0), limit, fileIDs)
	if err != nil {
		r.logger.Warn("mandatory_vector_supplement_failed", "error", err)
		hits := dedupeHits(trimHits(mandatory, limit))
		finishWithHits(rec, "mandatory_keywords", hits)
		return hits, domain.StrategyMandatoryKeywordsOnly, true
	}

	blended := blendMandatoryFirst(mandatory, vectorHits, limit*r.cfg.CandidateMultiplier)
	reranked := rerankHits(ctx, r.reranker, r.logger, primary, blended, r.cfg.RerankTopN)
	hits := dedupeHits(trimHits(keepMandatoryFirst(reranked, mandatory), limit))
	finishWithHits(rec, "mandatory_keywords", hits)
	return hits, domain.StrategyMandatoryPlusVector, true
}

func (r *Retriever) hybridPath(
	ctx context.Context,
	rewrite domain.RewriteResult,
	primary string,
	limit int,
	fileIDs []string,
	rec *domain.StepRecorder,
) ([]domain.Hit, domain.Strategy, error) {
	rec.Begin("hybrid_retrieval", "Hybrid retrieval")

	vectorHits, err := r.vectorRetrieve(ctx, rewrite.Variants(0), limit, fileIDs)
	if err != nil {
		rec.Fail("hybrid_retrieval", err.Error())
		return nil, "", err
	}

	if len(vectorHits) == 0 {
		hits := r.lexicalOnly(ctx, primary, limit, fileIDs)
		finishWithHits(rec, "hybrid_retrieval", hits)
		return hits, domain.StrategyLexical, nil
	}

	reranked := rerankHits(ctx, r.reranker, r.logger, primary, vectorHits, r.cfg.RerankTopN)

	lexical, lexErr := r.storage.SearchSnippets(ctx, domain.SnippetQuery{
		Query:   primary,
		Limit:   limit * r.cfg.CandidateMultiplier,
		FileIDs: fileIDs,
	})
	if lexErr != nil {
		r.logger.Warn("lexical_backfill_degraded", "error", lexErr)
		lexical = nil
	}

	fused := fuseRankingsRRF(reranked, lexical, r.cfg.RRFK)
	hits := dedupeHits(trimHits(fused, limit))
	finishWithHits(rec, "hybrid_retrieval", hits)
	return hits, domain.StrategyHybrid, nil
}

func (r *Retriever) lexicalOnly(ctx context.Context, primary string, limit int, fileIDs []string) []domain.Hit {
	lexical, err := r.storage.SearchSnippets(ctx, domain.SnippetQuery{
		Query:   primary,
		Limit:   limit * r.cfg.CandidateMultiplier,
		FileIDs: fileIDs,
	})
	if err != nil {
		r.logger.Warn("lexical_fallback_failed", "error", err)
		return nil
	}
	return dedupeHits(trimHits(lexical, limit))
}

// vectorRetrieve embeds every variant in one call, searches the index
// per variant with an enlarged candidate window, enriches hits with file
// records, and keeps the best-scoring hit per chunk key across variants.
func (r *Retriever) vectorRetrieve(ctx context.Context, variants []string, limit int, fileIDs []string) ([]domain.Hit, error) {
	if len(variants) == 0 {
		return nil, nil
	}

	vectors, err := r.embedder.Encode(ctx, variants)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "encode query variants", err)
	}

	best := make(map[string]domain.Hit, limit*r.cfg.CandidateMultiplier)
	for i, vector := range vectors {
		raw, searchErr := r.vector.Search(ctx, vector, limit*r.cfg.CandidateMultiplier, fileIDs)
		if searchErr != nil {
			r.logger.Warn("vector_variant_degraded", "variant", variants[i], "error", searchErr)
			continue
		}
		for _, hit := range raw {
			enriched := r.enrichHit(ctx, hit)
			key := enriched.Key()
			if existing, ok := best[key]; !ok || enriched.Score > existing.Score {
				best[key] = enriched
			}
		}
	}

	out := make([]domain.Hit, 0, len(best))
	for _, hit := range best {
		out = append(out, hit)
	}
	sortHitsStable(out)
	return out, nil
}

// enrichHit fills file-record provenance (name, path, kind, size) by file
// id with a chunk-id fallback, and pulls chunk content when the index
// payload carried none. Already-present fields are never overwritten.
func (r *Retriever) enrichHit(ctx context.Context, hit domain.Hit) domain.Hit {
	file, err := r.storage.GetFileByID(ctx, hit.FileID)
	if err != nil && hit.ChunkID != "" {
		file, err = r.storage.GetFileByChunkID(ctx, hit.ChunkID)
	}
	if err == nil {
		if hit.FileID == "" {
			hit.FileID = file.ID
		}
		if hit.Provenance.Name == "" {
			hit.Provenance.Name = file.Name
		}
		if hit.Provenance.Path == "" {
			hit.Provenance.Path = file.Path
		}
		if hit.Provenance.Extension == "" {
			hit.Provenance.Extension = file.Extension
		}
		if hit.Provenance.Size == 0 {
			hit.Provenance.Size = file.Size
		}
		if hit.Provenance.Kind == "" || hit.Provenance.Kind == domain.ProvenanceGeneric {
			hit.Provenance.Kind = provenanceKindFor(file.Kind)
		}
	}

	if hit.Snippet == "" && hit.ChunkID != "" {
		if chunk, chunkErr := r.storage.GetChunk(ctx, hit.ChunkID); chunkErr == nil {
			hit.Snippet = chunk.Snippet
			if hit.Summary == "" {
				hit.Summary = chunk.Summary
			}
			if hit.Provenance.PageStart == 0 {
				hit.Provenance.PageStart = chunk.PageStart
				hit.Provenance.PageEnd = chunk.PageEnd
			}
			if hit.Provenance.SegmentCaption == "" {
				hit.Provenance.SegmentCaption = chunk.SegmentCaption
			}
		}
	}

	if hit.Provenance.Kind == "" {
		hit.Provenance.Kind = domain.ProvenanceGeneric
	}
	return hit
}

func provenanceKindFor(fileKind string) domain.ProvenanceKind {
	return domain.KindForFile(strings.ToLower(fileKind))
}

// blendMandatoryFirst places mandatory hits first, unique by chunk key,
// then fills remaining slots with vector hits.
func blendMandatoryFirst(mandatory, vector []domain.Hit, limit int) []domain.Hit {
	out := make([]domain.Hit, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, hit := range mandatory {
		if len(out) >= limit {
			return out
		}
		key := hit.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, hit)
	}
	for _, hit := range vector {
		if len(out) >= limit {
			break
		}
		key := hit.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, hit)
	}
	return out
}

// keepMandatoryFirst restores the inclusion guarantee after reranking:
// every mandatory hit stays ahead of any non-mandatory hit, preserving
// the rerank order within each group.
func keepMandatoryFirst(ranked, mandatory []domain.Hit) []domain.Hit {
	mandatoryKeys := make(map[string]struct{}, len(mandatory))
	for _, hit := range mandatory {
		mandatoryKeys[hit.Key()] = struct{}{}
	}
	front := make([]domain.Hit, 0, len(ranked))
	rest := make([]domain.Hit, 0, len(ranked))
	for _, hit := range ranked {
		if _, ok := mandatoryKeys[hit.Key()]; ok {
			front = append(front, hit)
			continue
		}
		rest = append(rest, hit)
	}
	return append(front, rest...)
}

func uniqueSearchTerms(query string) []string {
	seen := make(map[string]struct{}, 8)
	out := make([]string, 0, 8)
	for _, token := range splitAlphaNumLower(query) {
		if len(token) < 2 {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func finishWithHits(rec *domain.StepRecorder, id string, hits []domain.Hit) {
	rec.Finish(id, func(step *domain.DiagnosticStep) {
		step.Detail = fmt.Sprintf("%d hits", len(hits))
		for i, hit := range hits {
			if i >= 3 {
				break
			}
			step.Files = append(step.Files, domain.StepFile{
				FileID: hit.FileID,
				Label:  hit.Provenance.CitationLabel(),
				Score:  hit.Score,
			})
		}
	})
}
