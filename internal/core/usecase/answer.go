package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

type AnswerConfig struct {
	Limit           int
	MaxSnippetChars int
}

func (c AnswerConfig) normalize() AnswerConfig {
	if c.Limit <= 0 {
		c.Limit = 15
	}
	if c.MaxSnippetChars <= 0 {
		c.MaxSnippetChars = 2000
	}
	return c
}

// AnswerUseCase coordinates the full question-answering pipeline: intent
// routing, retrieval, map-phase verification, reduce-phase aggregation,
// and the audit trail.
type AnswerUseCase struct {
	search     *SearchUseCase
	verifier   *Verifier
	aggregator *Aggregator
	router     *IntentRouter
	llm        ports.LlmClient
	audit      ports.AuditPublisher
	logger     *slog.Logger
	cfg        AnswerConfig
}

func NewAnswerUseCase(
	search *SearchUseCase,
	verifier *Verifier,
	aggregator *Aggregator,
	router *IntentRouter,
	llm ports.LlmClient,
	audit ports.AuditPublisher,
	logger *slog.Logger,
	cfg AnswerConfig,
) *AnswerUseCase {
	return &AnswerUseCase{
		search:     search,
		verifier:   verifier,
		aggregator: aggregator,
		router:     router,
		llm:        llm,
		audit:      audit,
		logger:     logger,
		cfg:        cfg.normalize(),
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("query is required"))
	}
	start := time.Now()
	rec := domain.NewStepRecorder()

	decision := uc.routeIntent(ctx, req, rec)
	if decision.Intent != domain.IntentDocument {
		answer, err := uc.directAnswer(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		result := &domain.AnswerResult{
			Query:       req.Query,
			Answer:      answer,
			Intent:      decision.Intent,
			LatencyMs:   time.Since(start).Milliseconds(),
			Diagnostics: rec.Snapshot(),
		}
		uc.publishAudit(ctx, result)
		return result, nil
	}

	searchResp, err := uc.search.Run(ctx, req.Query, req.Limit, rec, nil)
	if err != nil {
		return nil, err
	}

	parts := filterRelevantParts(req.Query, contextParts(searchResp.Hits, uc.cfg.MaxSnippetChars))
	verdicts := uc.verifier.VerifyAll(ctx, req.Query, parts, nil)
	answer := uc.aggregator.Aggregate(ctx, req.Query, verdicts)
	rec.SetSummary(fmt.Sprintf("%d hits, %d verified chunks", len(searchResp.Hits), len(verdicts)))

	result := &domain.AnswerResult{
		Query:       req.Query,
		Answer:      answer,
		Hits:        searchResp.Hits,
		Strategy:    searchResp.Strategy,
		Intent:      domain.IntentDocument,
		LatencyMs:   time.Since(start).Milliseconds(),
		Diagnostics: rec.Snapshot(),
	}
	uc.publishAudit(ctx, result)
	return result, nil
}

func (uc *AnswerUseCase) routeIntent(ctx context.Context, req domain.AnswerRequest, rec *domain.StepRecorder) domain.IntentDecision {
	switch req.Mode {
	case "chat":
		rec.Skip("intent", "Intent routing", "chat mode requested")
		return domain.IntentDecision{Intent: domain.IntentGeneralChat, Confidence: 1.0}
	case "document":
		rec.Skip("intent", "Intent routing", "document mode requested")
		return domain.IntentDecision{Intent: domain.IntentDocument, Confidence: 1.0}
	}

	rec.Begin("intent", "Intent routing")
	decision := uc.router.Route(ctx, req.Query)
	rec.Finish("intent", func(step *domain.DiagnosticStep) {
		step.Detail = fmt.Sprintf("%s (%.2f)", decision.Intent, decision.Confidence)
	})
	return decision
}

func (uc *AnswerUseCase) directAnswer(ctx context.Context, query string) (string, error) {
	answer, err := uc.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: directAnswerSystemPrompt},
		{Role: "user", Content: query},
	}, domain.ChatOptions{MaxTokens: 600, Temperature: 0.6})
	if err != nil {
		return "", domain.WrapError(domain.ErrSynthesisFailed, "direct answer", err)
	}
	return strings.TrimSpace(answer), nil
}

// publishAudit is best-effort: the audit trail never affects the answer.
func (uc *AnswerUseCase) publishAudit(ctx context.Context, result *domain.AnswerResult) {
	if uc.audit == nil {
		return
	}
	record := domain.AnswerAudit{
		RequestID: uuid.NewString(),
		Query:     result.Query,
		Intent:    result.Intent,
		Strategy:  result.Strategy,
		HitCount:  len(result.Hits),
		Answered:  result.Answer != "" && result.Answer != emptyEvidenceAnswer,
		LatencyMs: result.LatencyMs,
	}
	if err := uc.audit.PublishAnswerCompleted(ctx, record); err != nil {
		uc.logger.Warn("audit_publish_failed", "error", err)
	}
}

const directAnswerSystemPrompt = `You are a helpful assistant for a document workspace.
Answer conversationally. If the user seems to want information from their
documents, suggest asking a document question instead.`
