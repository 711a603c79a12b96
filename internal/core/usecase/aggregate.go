package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

type AggregatorConfig struct {
	SimpleMax        int
	GroupSize        int
	MinContentLen    int
	OverlapThreshold float64
	MaxAnswerTokens  int
}

func (c AggregatorConfig) normalize() AggregatorConfig {
	if c.SimpleMax <= 0 {
		c.SimpleMax = 8
	}
	if c.GroupSize <= 0 {
		c.GroupSize = 6
	}
	if c.MinContentLen <= 0 {
		c.MinContentLen = 20
	}
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		c.OverlapThreshold = 0.75
	}
	if c.MaxAnswerTokens <= 0 {
		c.MaxAnswerTokens = 900
	}
	return c
}

const emptyEvidenceAnswer = "The available documents do not contain an answer to this question."

// Aggregator runs the reduce phase: deduplicate verdicts, rank them by
// confidence, and synthesize one cited answer, batching hierarchically
// when the evidence volume is large.
type Aggregator struct {
	llm    ports.LlmClient
	logger *slog.Logger
	cfg    AggregatorConfig
}

func NewAggregator(llm ports.LlmClient, logger *slog.Logger, cfg AggregatorConfig) *Aggregator {
	return &Aggregator{llm: llm, logger: logger, cfg: cfg.normalize()}
}

// Aggregate synthesizes the final answer. It never fails: every
// synthesis error falls back to the highest-confidence verdict.
func (a *Aggregator) Aggregate(ctx context.Context, query string, verdicts []domain.ChunkVerdict) string {
	survivors := a.prepare(verdicts)
	if len(survivors) == 0 {
		return emptyEvidenceAnswer
	}

	if len(survivors) <= a.cfg.SimpleMax {
		return a.simpleAggregate(ctx, query, survivors)
	}
	return a.hierarchicalAggregate(ctx, query, survivors)
}

// AggregateStream is the streaming variant of simple aggregation: tokens
// are emitted as they arrive. Hierarchical aggregation has no streaming
// variant; its answer is returned as one block with streamed=false.
func (a *Aggregator) AggregateStream(
	ctx context.Context,
	query string,
	verdicts []domain.ChunkVerdict,
	onToken func(token string) error,
) (answer string, streamed bool) {
	survivors := a.prepare(verdicts)
	if len(survivors) == 0 {
		return emptyEvidenceAnswer, false
	}
	if len(survivors) > a.cfg.SimpleMax {
		return a.hierarchicalAggregate(ctx, query, survivors), false
	}

	var b strings.Builder
	err := a.llm.StreamChatComplete(ctx, simpleSynthesisMessages(query, survivors), domain.ChatOptions{
		MaxTokens:   a.cfg.MaxAnswerTokens,
		Temperature: 0.3,
	}, func(token string) error {
		b.WriteString(token)
		return onToken(token)
	})
	if err != nil {
		a.logger.Warn("stream_synthesis_degraded",
			"error", domain.WrapError(domain.ErrSynthesisFailed, "stream synthesis", err))
		return fallbackAnswer(survivors), false
	}
	return strings.TrimSpace(b.String()), true
}

// prepare filters out unusable verdicts, deduplicates near-identical
// content, and orders survivors by confidence.
func (a *Aggregator) prepare(verdicts []domain.ChunkVerdict) []domain.ChunkVerdict {
	filtered := make([]domain.ChunkVerdict, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.HasAnswer {
			continue
		}
		content := strings.TrimSpace(v.Content)
		if len(content) <= a.cfg.MinContentLen {
			continue
		}
		if isNegativeResponse(content) {
			continue
		}
		filtered = append(filtered, v)
	}

	deduped := a.dedupeByWordOverlap(filtered)
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Confidence > deduped[j].Confidence
	})
	return deduped
}

// dedupeByWordOverlap greedily drops verdicts whose word set overlaps an
// already-accepted one beyond the threshold. Short lists skip the pass:
// with three or fewer answers the synthesis call handles repetition.
func (a *Aggregator) dedupeByWordOverlap(verdicts []domain.ChunkVerdict) []domain.ChunkVerdict {
	if len(verdicts) <= 3 {
		return verdicts
	}

	accepted := make([]domain.ChunkVerdict, 0, len(verdicts))
	acceptedWords := make([]map[string]struct{}, 0, len(verdicts))
	for _, v := range verdicts {
		words := toTokenSet(v.Content)
		duplicate := false
		for _, prior := range acceptedWords {
			if wordSetOverlap(words, prior) > a.cfg.OverlapThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		accepted = append(accepted, v)
		acceptedWords = append(acceptedWords, words)
	}
	return accepted
}

func wordSetOverlap(a, b map[string]struct{}) float64 {
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	if larger < 1 {
		larger = 1
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

func (a *Aggregator) simpleAggregate(ctx context.Context, query string, survivors []domain.ChunkVerdict) string {
	raw, err := a.llm.ChatComplete(ctx, simpleSynthesisMessages(query, survivors), domain.ChatOptions{
		MaxTokens:   a.cfg.MaxAnswerTokens,
		Temperature: 0.3,
	})
	if err != nil {
		a.logger.Warn("synthesis_degraded",
			"error", domain.WrapError(domain.ErrSynthesisFailed, "simple synthesis", err))
		return fallbackAnswer(survivors)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return fallbackAnswer(survivors)
	}
	return answer
}

// hierarchicalAggregate batches survivors into groups, summarizes each
// group, then synthesizes over the group summaries.
func (a *Aggregator) hierarchicalAggregate(ctx context.Context, query string, survivors []domain.ChunkVerdict) string {
	var summaries []string
	for start, group := 0, 1; start < len(survivors); start, group = start+a.cfg.GroupSize, group+1 {
		end := start + a.cfg.GroupSize
		if end > len(survivors) {
			end = len(survivors)
		}
		summary := a.summarizeGroup(ctx, query, group, survivors[start:end])
		if summary != "" {
			summaries = append(summaries, fmt.Sprintf("[Group %d] %s", group, summary))
		}
	}
	if len(summaries) == 0 {
		return fallbackAnswer(survivors)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nGroup summaries:\n", query)
	for _, summary := range summaries {
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	raw, err := a.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: finalSynthesisSystemPrompt},
		{Role: "user", Content: b.String()},
	}, domain.ChatOptions{MaxTokens: a.cfg.MaxAnswerTokens, Temperature: 0.3})
	if err != nil {
		a.logger.Warn("synthesis_degraded",
			"error", domain.WrapError(domain.ErrSynthesisFailed, "final synthesis", err))
		return fallbackAnswer(survivors)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return fallbackAnswer(survivors)
	}
	return answer
}

func (a *Aggregator) summarizeGroup(ctx context.Context, query string, group int, verdicts []domain.ChunkVerdict) string {
	raw, err := a.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: groupSynthesisSystemPrompt},
		{Role: "user", Content: evidencePrompt(query, verdicts)},
	}, domain.ChatOptions{MaxTokens: a.cfg.MaxAnswerTokens, Temperature: 0.2})
	if err != nil {
		a.logger.Warn("group_synthesis_degraded", "group", group,
			"error", domain.WrapError(domain.ErrSynthesisFailed, "group synthesis", err))
		return ""
	}
	return strings.TrimSpace(raw)
}

func simpleSynthesisMessages(query string, survivors []domain.ChunkVerdict) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: simpleSynthesisSystemPrompt},
		{Role: "user", Content: evidencePrompt(query, survivors)},
	}
}

func evidencePrompt(query string, verdicts []domain.ChunkVerdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEvidence:\n", query)
	for _, v := range verdicts {
		source := v.Source
		if source == "" {
			source = "unknown source"
		}
		fmt.Fprintf(&b, "[%d] (%s, confidence %.1f) %s\n\n", v.Index, source, v.Confidence, strings.TrimSpace(v.Content))
	}
	return b.String()
}

// fallbackAnswer returns the highest-confidence verdict annotated with
// its citation index. Callers guarantee survivors is non-empty.
func fallbackAnswer(survivors []domain.ChunkVerdict) string {
	best := survivors[0]
	for _, v := range survivors[1:] {
		if v.Confidence > best.Confidence {
			best = v
		}
	}
	return fmt.Sprintf("%s [%d]", strings.TrimSpace(best.Content), best.Index)
}

const simpleSynthesisSystemPrompt = `You synthesize a final answer from verified evidence fragments.
Cite every claim inline with the bracketed evidence number, e.g. [2].
Use only the given evidence. Answer in the question's language.`

const groupSynthesisSystemPrompt = `You summarize a group of verified evidence fragments into one
concise intermediate summary. Keep all concrete facts and figures; cite evidence numbers inline.`

const finalSynthesisSystemPrompt = `You synthesize a final answer from pre-summarized evidence groups.
Cite the group labels inline, e.g. [Group 2]. Use only the given summaries.`
