package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

const rewriteMinQueryLen = 12

var structuredQueryTokens = []string{":", " AND ", " OR ", "site:"}

// Rewriter expands a natural-language query into phrasing variants with
// one model call. Rewriting is best-effort: any failure falls back to
// the literal query.
type Rewriter struct {
	llm    ports.LlmClient
	logger *slog.Logger
}

func NewRewriter(llm ports.LlmClient, logger *slog.Logger) *Rewriter {
	return &Rewriter{llm: llm, logger: logger}
}

func (rw *Rewriter) Rewrite(ctx context.Context, query string) domain.RewriteResult {
	literal := domain.RewriteResult{Original: query, Effective: query}

	trimmed := strings.TrimSpace(query)
	if len(trimmed) < rewriteMinQueryLen || containsStructuredTokens(trimmed) {
		return literal
	}

	raw, err := rw.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Query: %s", trimmed)},
	}, domain.ChatOptions{MaxTokens: 200, Temperature: 0.2})
	if err != nil {
		rw.logger.Warn("rewrite_degraded", "error", domain.WrapError(domain.ErrSynthesisFailed, "rewrite query", err))
		return literal
	}

	var payload struct {
		Primary      string   `json:"primary"`
		Rewrite      string   `json:"rewrite"`
		Rewritten    string   `json:"rewritten"`
		Alternates   []string `json:"alternates"`
		Alternatives []string `json:"alternatives"`
		Queries      []string `json:"queries"`
	}
	if err := DecodeModelJSON(raw, &payload); err != nil {
		rw.logger.Warn("rewrite_degraded", "error", err)
		return literal
	}

	primary := firstNonEmpty(payload.Primary, payload.Rewrite, payload.Rewritten)
	alternates := firstNonEmptyList(payload.Alternates, payload.Alternatives, payload.Queries)
	if len(alternates) > 3 {
		alternates = alternates[:3]
	}

	primary = strings.TrimSpace(primary)
	if primary == "" {
		return domain.RewriteResult{Original: query, Effective: query, Alternates: alternates}
	}

	return domain.RewriteResult{
		Original:   query,
		Effective:  primary,
		Alternates: alternates,
		Applied:    !strings.EqualFold(primary, trimmed),
	}
}

func containsStructuredTokens(query string) bool {
	for _, token := range structuredQueryTokens {
		if strings.Contains(query, token) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, list := range lists {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

const rewriteSystemPrompt = `You rewrite search queries for a document retrieval system.
Return JSON only: {"primary": "<best rewritten query>", "alternates": ["<up to 3 alternative phrasings>"]}.
Keep the user's language and intent. Do not answer the query.`
