package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

var documentExtensions = []string{
	".pdf", ".docx", ".doc", ".txt", ".md", ".csv", ".xlsx",
	".pptx", ".png", ".jpg", ".jpeg", ".mp4", ".html",
}

type IntentRouterConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (c IntentRouterConfig) normalize() IntentRouterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// IntentRouter classifies a query before committing to retrieval. It
// fails open toward document intent: an unnecessary retrieval is cheaper
// than a wrongly skipped one.
type IntentRouter struct {
	llm    ports.LlmClient
	logger *slog.Logger
	cfg    IntentRouterConfig
}

func NewIntentRouter(llm ports.LlmClient, logger *slog.Logger, cfg IntentRouterConfig) *IntentRouter {
	return &IntentRouter{llm: llm, logger: logger, cfg: cfg.normalize()}
}

func (r *IntentRouter) Route(ctx context.Context, query string) domain.IntentDecision {
	if ruleMatchesDocument(query) {
		return domain.IntentDecision{Intent: domain.IntentDocument, Confidence: 1.0}
	}

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		decision, err := r.classify(ctx, query)
		if err == nil {
			return decision
		}
		r.logger.Warn("intent_attempt_failed", "attempt", attempt, "error", err)

		if attempt == r.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(r.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.IntentDecision{Intent: domain.IntentDocument}
		case <-timer.C:
		}
	}

	return domain.IntentDecision{Intent: domain.IntentDocument}
}

func (r *IntentRouter) classify(ctx context.Context, query string) (domain.IntentDecision, error) {
	raw, err := r.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: intentSystemPrompt},
		{Role: "user", Content: query},
	}, domain.ChatOptions{MaxTokens: 60, Temperature: 0})
	if err != nil {
		return domain.IntentDecision{}, domain.WrapError(domain.ErrSynthesisFailed, "classify intent", err)
	}

	var payload struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := DecodeModelJSON(raw, &payload); err != nil {
		return domain.IntentDecision{}, err
	}

	intent := domain.Intent(strings.ToLower(strings.TrimSpace(payload.Intent)))
	switch intent {
	case domain.IntentGreeting, domain.IntentGeneralChat, domain.IntentDocument:
	default:
		return domain.IntentDecision{}, domain.WrapError(domain.ErrMalformedModelOutput, "classify intent", errUnknownIntent)
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return domain.IntentDecision{}, domain.WrapError(domain.ErrMalformedModelOutput, "classify intent", errAmbiguousConfidence)
	}
	return domain.IntentDecision{Intent: intent, Confidence: payload.Confidence}, nil
}

var (
	errUnknownIntent       = jsonObjectError("unknown intent label")
	errAmbiguousConfidence = jsonObjectError("confidence out of range")
)

func ruleMatchesDocument(query string) bool {
	if strings.Contains(query, "@") {
		return true
	}
	lower := strings.ToLower(query)
	for _, ext := range documentExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

const intentSystemPrompt = `Classify the user message intent for a document assistant.
Return JSON only: {"intent": "greeting"|"general_chat"|"document", "confidence": 0.0-1.0}.
"document" means the user wants information from their document collection.`
