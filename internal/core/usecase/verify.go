package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

type VerifierConfig struct {
	BatchSize       int
	EarlyStopTarget int
	MaxAnswerTokens int
}

func (c VerifierConfig) normalize() VerifierConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.EarlyStopTarget <= 0 {
		c.EarlyStopTarget = 5
	}
	if c.MaxAnswerTokens <= 0 {
		c.MaxAnswerTokens = 400
	}
	return c
}

// Verifier runs the map phase: one independent model call per candidate
// chunk, extracting an answer fragment with a coarse confidence signal.
type Verifier struct {
	llm    ports.LlmClient
	logger *slog.Logger
	cfg    VerifierConfig
}

func NewVerifier(llm ports.LlmClient, logger *slog.Logger, cfg VerifierConfig) *Verifier {
	return &Verifier{llm: llm, logger: logger, cfg: cfg.normalize()}
}

// VerifyChunk never returns an error: any call failure becomes a
// no-answer verdict with zero confidence.
func (v *Verifier) VerifyChunk(ctx context.Context, query string, part domain.ContextPart) domain.ChunkVerdict {
	verdict := domain.ChunkVerdict{
		Index:   part.Index,
		Source:  part.Source,
		FileID:  part.FileID,
		ChunkID: part.ChunkID,
	}

	raw, err := v.llm.ChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: verifySystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nChunk:\n%s", query, part.Content)},
	}, domain.ChatOptions{MaxTokens: v.cfg.MaxAnswerTokens, Temperature: 0})
	if err != nil {
		v.logger.Warn("verify_chunk_degraded", "index", part.Index,
			"error", domain.WrapError(domain.ErrSynthesisFailed, "verify chunk", err))
		return verdict
	}

	answer, confidence := parseVerdict(raw)
	if answer == "" || isNegativeResponse(answer) {
		return verdict
	}

	verdict.HasAnswer = true
	verdict.Content = answer
	verdict.Confidence = confidence
	return verdict
}

// VerifyAll processes parts in concurrent batches, reporting each verdict
// through onProgress as it completes (completion order, not submission
// order). Once the running count of high-quality verdicts reaches the
// early-stop target, no further batch is dispatched; verdicts of the
// batch already in flight are still drained and reported.
func (v *Verifier) VerifyAll(
	ctx context.Context,
	query string,
	parts []domain.ContextPart,
	onProgress func(domain.VerifyProgress),
) []domain.ChunkVerdict {
	verdicts := make([]domain.ChunkVerdict, 0, len(parts))
	highQuality := 0
	processed := 0

	for start := 0; start < len(parts); start += v.cfg.BatchSize {
		if highQuality >= v.cfg.EarlyStopTarget {
			v.logger.Info("verify_early_stop",
				"high_quality", highQuality,
				"processed", processed,
				"total", len(parts),
			)
			break
		}
		if ctx.Err() != nil {
			break
		}

		end := start + v.cfg.BatchSize
		if end > len(parts) {
			end = len(parts)
		}
		batch := parts[start:end]

		results := make(chan domain.ChunkVerdict, len(batch))
		for _, part := range batch {
			part := part
			go func() {
				results <- v.VerifyChunk(ctx, query, part)
			}()
		}

		for range batch {
			verdict := <-results
			processed++
			if verdict.HighQuality() {
				highQuality++
			}
			verdicts = append(verdicts, verdict)
			if onProgress != nil {
				onProgress(domain.VerifyProgress{
					Processed:   processed,
					Total:       len(parts),
					Source:      verdict.Source,
					Verdict:     verdict,
					HighQuality: highQuality,
				})
			}
		}
	}

	return verdicts
}

// parseVerdict extracts the answer text and discretized confidence from
// the ANSWER/CONFIDENCE protocol. Unrecognized output is treated as the
// answer itself with unspecified confidence.
func parseVerdict(raw string) (string, float64) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", domain.ConfidenceNone
	}

	upper := strings.ToUpper(text)
	if strings.HasPrefix(upper, "NO_ANSWER") {
		return "", domain.ConfidenceNone
	}

	confidence := domain.ConfidenceUnspecified
	if idx := strings.Index(upper, "CONFIDENCE:"); idx >= 0 {
		level := strings.TrimSpace(upper[idx+len("CONFIDENCE:"):])
		switch {
		case strings.HasPrefix(level, "HIGH"):
			confidence = domain.ConfidenceHigh
		case strings.HasPrefix(level, "MEDIUM"):
			confidence = domain.ConfidenceMedium
		case strings.HasPrefix(level, "LOW"):
			confidence = domain.ConfidenceLow
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[:idx]), "|"))
	}

	answer := strings.TrimSpace(text)
	if idx := strings.Index(strings.ToUpper(answer), "ANSWER:"); idx >= 0 {
		answer = strings.TrimSpace(answer[idx+len("ANSWER:"):])
	}
	if answer == "" {
		return "", domain.ConfidenceNone
	}
	return answer, confidence
}

// Explicit no-answer markers are matched anywhere in the text.
var explicitNegativeMarkers = []string{"NO_ANSWER", "NO ANSWER"}

// Contextual negative phrases are matched only within the first sentence:
// later sentences legitimately contain supplementary negations ("...but
// the exact figure is not mentioned") without the chunk being useless.
var contextualNegativePhrases = []string{
	"DOES NOT PROVIDE", "DOES NOT CONTAIN", "DOES NOT MENTION",
	"DOES NOT INCLUDE", "DOES NOT SPECIFY", "DOES NOT STATE",
	"DOES NOT ADDRESS", "DOES NOT DISCUSS", "DOES NOT APPEAR",
	"DOES NOT DESCRIBE", "DOES NOT EXPLAIN", "DOES NOT COVER",
	"NO INFORMATION", "NO RELEVANT", "NO MENTION", "NO DETAILS",
	"NOT MENTIONED", "NOT PROVIDED", "NOT SPECIFIED", "NOT FOUND",
	"NOT AVAILABLE", "NOT CONTAINED", "NOT ADDRESSED", "NOT DISCUSSED",
	"NOT INCLUDED", "NOT PRESENT", "NOT STATED", "NOT COVERED",
	"CANNOT FIND", "CANNOT BE FOUND", "CANNOT DETERMINE", "CANNOT ANSWER",
	"CAN NOT FIND", "COULD NOT FIND", "UNABLE TO FIND", "UNABLE TO ANSWER",
	"UNABLE TO LOCATE", "THERE IS NO", "THERE ARE NO", "FAILS TO MENTION",
}

var sentenceBoundaries = []string{". ", ".\n", "? ", "?\n", "! ", "!\n"}

func isNegativeResponse(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if upper == "" {
		return true
	}
	for _, marker := range explicitNegativeMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}

	firstSentence := upper
	for _, boundary := range sentenceBoundaries {
		if idx := strings.Index(firstSentence, boundary); idx >= 0 {
			firstSentence = firstSentence[:idx]
		}
	}
	for _, phrase := range contextualNegativePhrases {
		if strings.Contains(firstSentence, phrase) {
			return true
		}
	}
	return false
}

const verifySystemPrompt = `You check whether a document chunk answers a question.
If it does, reply exactly: ANSWER: <answer extracted from the chunk> | CONFIDENCE: HIGH|MEDIUM|LOW
If it does not, reply exactly: NO_ANSWER
Use only the chunk content. Never invent information.`
