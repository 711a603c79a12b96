package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func positiveVerdict(index int, content string) domain.ChunkVerdict {
	return domain.ChunkVerdict{
		Index:      index,
		HasAnswer:  true,
		Content:    content,
		Confidence: domain.ConfidenceHigh,
		Source:     fmt.Sprintf("doc-%d.pdf", index),
	}
}

func TestAggregateReturnsCannedAnswerWithoutEvidence(t *testing.T) {
	llm := &fakeLLM{}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{})

	verdicts := []domain.ChunkVerdict{
		{Index: 1, HasAnswer: false, Content: "long enough but flagged as no answer"},
		{Index: 2, HasAnswer: true, Content: "too short"},
		{Index: 3, HasAnswer: true, Content: "The document does not mention the requested revenue figure."},
	}
	answer := a.Aggregate(context.Background(), "question", verdicts)
	if answer != emptyEvidenceAnswer {
		t.Fatalf("expected empty-evidence answer, got %q", answer)
	}
	if llm.callCount() != 0 {
		t.Fatalf("no synthesis call expected, got %d", llm.callCount())
	}
}

func TestAggregateSimpleIncludesCitationIndexes(t *testing.T) {
	var prompt string
	llm := &fakeLLM{
		respond: func(_ int, messages []domain.ChatMessage) (string, error) {
			prompt = messages[len(messages)-1].Content
			return "Revenue grew 12% in 2023 [2].", nil
		},
	}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{})

	verdicts := []domain.ChunkVerdict{
		positiveVerdict(2, "Total revenue increased by twelve percent year over year."),
		positiveVerdict(5, "The growth was driven by the subscription business line."),
	}
	answer := a.Aggregate(context.Background(), "how did revenue change", verdicts)
	if answer != "Revenue grew 12% in 2023 [2]." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	for _, marker := range []string{"[2]", "[5]", "doc-2.pdf", "confidence 0.9"} {
		if !strings.Contains(prompt, marker) {
			t.Fatalf("evidence prompt missing %q:\n%s", marker, prompt)
		}
	}
}

func TestAggregateDedupesOverlappingVerdicts(t *testing.T) {
	llm := &fakeLLM{
		respond: func(_ int, messages []domain.ChatMessage) (string, error) {
			return messages[len(messages)-1].Content, nil
		},
	}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{})

	verdicts := []domain.ChunkVerdict{
		positiveVerdict(1, "the contract was signed in march two thousand twenty two by both parties"),
		positiveVerdict(2, "the contract was signed in march two thousand twenty two by both parties involved"),
		positiveVerdict(3, "payment terms require settlement within thirty days of invoice receipt"),
		positiveVerdict(4, "the agreement renews automatically every year unless either side cancels"),
	}
	answer := a.Aggregate(context.Background(), "question", verdicts)
	if strings.Contains(answer, "[2]") {
		t.Fatalf("near-duplicate verdict should have been dropped:\n%s", answer)
	}
	for _, keep := range []string{"[1]", "[3]", "[4]"} {
		if !strings.Contains(answer, keep) {
			t.Fatalf("expected verdict %s to survive dedupe:\n%s", keep, answer)
		}
	}
}

func TestAggregateHierarchicalBatchesGroups(t *testing.T) {
	// Nine survivors with GroupSize 6 means two group summaries plus one
	// final synthesis: three model calls total.
	llm := &fakeLLM{
		respond: func(call int, messages []domain.ChatMessage) (string, error) {
			system := messages[0].Content
			if strings.Contains(system, "intermediate summary") {
				return fmt.Sprintf("group summary %d", call), nil
			}
			if !strings.Contains(messages[1].Content, "[Group 1]") ||
				!strings.Contains(messages[1].Content, "[Group 2]") {
				return "", errors.New("final prompt missing group labels")
			}
			return "combined answer [Group 1][Group 2]", nil
		},
	}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{SimpleMax: 8, GroupSize: 6})

	contents := []string{
		"total revenue reached ten million dollars during the fiscal year",
		"operating expenses declined because headcount shrank in the spring",
		"the board approved a new dividend policy at the autumn meeting",
		"customer churn improved after the support team was reorganized",
		"capital expenditure focused on the warehouse automation project",
		"gross margin expanded thanks to cheaper raw material contracts",
		"the audit committee flagged a weakness in invoice processing",
		"headquarters relocated to a smaller office to cut leasing costs",
		"research spending doubled with three new laboratory positions",
	}
	verdicts := make([]domain.ChunkVerdict, 0, len(contents))
	for i, content := range contents {
		verdicts = append(verdicts, positiveVerdict(i+1, content))
	}
	answer := a.Aggregate(context.Background(), "question", verdicts)
	if answer != "combined answer [Group 1][Group 2]" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if llm.callCount() != 3 {
		t.Fatalf("expected 2 group calls + 1 final call, got %d", llm.callCount())
	}
}

func TestAggregateFallsBackToBestVerdict(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return "", errors.New("model offline")
		},
	}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{})

	verdicts := []domain.ChunkVerdict{
		{Index: 1, HasAnswer: true, Confidence: domain.ConfidenceMedium, Content: "a medium-confidence evidence fragment"},
		{Index: 4, HasAnswer: true, Confidence: domain.ConfidenceHigh, Content: "the high-confidence evidence fragment"},
	}
	answer := a.Aggregate(context.Background(), "question", verdicts)
	if answer != "the high-confidence evidence fragment [4]" {
		t.Fatalf("unexpected fallback answer: %q", answer)
	}
}

func TestAggregateStreamEmitsTokens(t *testing.T) {
	llm := &fakeLLM{streamTokens: []string{"Revenue ", "grew ", "[1]."}}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{})

	var tokens []string
	answer, streamed := a.AggregateStream(context.Background(), "question",
		[]domain.ChunkVerdict{positiveVerdict(1, "revenue grew twelve percent in the last fiscal year")},
		func(token string) error {
			tokens = append(tokens, token)
			return nil
		})
	if !streamed {
		t.Fatalf("expected streamed synthesis")
	}
	if answer != "Revenue grew [1]." {
		t.Fatalf("unexpected assembled answer: %q", answer)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %v", tokens)
	}
}

func TestAggregateStreamFallsBackToBlockAnswerWhenLarge(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return "hierarchical block answer", nil
		},
	}
	a := NewAggregator(llm, testLogger(), AggregatorConfig{SimpleMax: 2, GroupSize: 2})

	verdicts := []domain.ChunkVerdict{
		positiveVerdict(1, "first distinct evidence fragment with its own vocabulary"),
		positiveVerdict(2, "second entirely different statement about payment schedules"),
		positiveVerdict(3, "third unrelated point covering contract termination clauses"),
		positiveVerdict(4, "fourth separate observation about renewal conditions instead"),
	}
	answer, streamed := a.AggregateStream(context.Background(), "question", verdicts,
		func(string) error { t.Fatalf("no tokens expected"); return nil })
	if streamed {
		t.Fatalf("hierarchical aggregation must not stream")
	}
	if answer != "hierarchical block answer" {
		t.Fatalf("unexpected answer: %q", answer)
	}
}
