package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

const maxSubQueries = 4

var (
	comparativeConjunctions = []string{" and ", " vs ", " versus ", " or ", " compared to ", " between "}
	comparisonStarters      = []string{"compare", "difference", "differences", "how do", "similarities", "contrast", "what are the differences"}
	yearPattern             = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// Decomposer splits multi-aspect queries into independently searchable
// sub-queries. Failure degrades to no decomposition.
type Decomposer struct {
	llm    ports.LlmClient
	logger *slog.Logger
}

func NewDecomposer(llm ports.LlmClient, logger *slog.Logger) *Decomposer {
	return &Decomposer{llm: llm, logger: logger}
}

// ShouldDecompose gates the model call on cheap structural signals that
// correlate with multi-aspect questions.
func ShouldDecompose(query string) bool {
	lower := strings.ToLower(query)

	for _, conjunction := range comparativeConjunctions {
		if strings.Contains(lower, conjunction) {
			return true
		}
	}

	years := make(map[string]struct{}, 2)
	for _, year := range yearPattern.FindAllString(query, -1) {
		years[year] = struct{}{}
	}
	if len(years) >= 2 {
		return true
	}

	if strings.Count(query, ",") >= 2 {
		return true
	}

	for _, starter := range comparisonStarters {
		if strings.Contains(lower, starter) {
			return true
		}
	}
	return false
}

// Decompose asks the model for 2-4 standalone sub-queries. The original
// query is returned alone on any failure or when the model produces
// fewer than two usable sub-queries.
func (d *Decomposer) Decompose(ctx context.Context, query string) []string {
	raw, err := d.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: decomposeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s", query)},
	}, domain.ChatOptions{MaxTokens: 300, Temperature: 0.1})
	if err != nil {
		d.logger.Warn("decompose_degraded", "error", domain.WrapError(domain.ErrSynthesisFailed, "decompose query", err))
		return []string{query}
	}

	var payload struct {
		SubQueries []string `json:"sub_queries"`
	}
	if err := DecodeModelJSON(raw, &payload); err != nil {
		d.logger.Warn("decompose_degraded", "error", err)
		return []string{query}
	}

	seen := make(map[string]struct{}, maxSubQueries)
	out := make([]string, 0, maxSubQueries)
	for _, sub := range payload.SubQueries {
		sub = strings.TrimSpace(sub)
		if sub == "" || len(out) >= maxSubQueries {
			continue
		}
		key := strings.ToLower(sub)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sub)
	}
	if len(out) < 2 {
		return []string{query}
	}
	return out
}

const decomposeSystemPrompt = `You split complex questions into independently searchable sub-questions.
Return JSON only: {"sub_queries": ["...", "..."]} with 2 to 4 standalone questions.
Each sub-question must be answerable on its own without the others.`
