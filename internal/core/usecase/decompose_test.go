package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func TestShouldDecompose(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"revenue in 2023 and 2024", true},
		{"what is the capital of France", false},
		{"apples vs oranges nutrition", true},
		{"difference between cash flow and profit", true},
		{"growth in 2019, 2020, 2021", true},
		{"Compare the revenue and profit of Apple and Microsoft", true},
		{"who signed the contract", false},
	}
	for _, tc := range cases {
		if got := ShouldDecompose(tc.query); got != tc.want {
			t.Fatalf("ShouldDecompose(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestDecomposeParsesAndDeduplicates(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return "```json\n{\"sub_queries\": [\"What was Apple's revenue?\", \"what was apple's revenue?\", \"What was Microsoft's revenue?\", \"What was Apple's profit?\", \"What was Microsoft's profit?\", \"extra question\"]}\n```", nil
		},
	}
	d := NewDecomposer(llm, testLogger())

	subs := d.Decompose(context.Background(), "Compare the revenue and profit of Apple and Microsoft")
	if len(subs) != 4 {
		t.Fatalf("expected dedupe + cap at 4, got %d: %v", len(subs), subs)
	}
}

func TestDecomposeFallsBackOnFailure(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return "", errors.New("model offline")
		},
	}
	d := NewDecomposer(llm, testLogger())

	query := "revenue in 2023 and 2024"
	subs := d.Decompose(context.Background(), query)
	if len(subs) != 1 || subs[0] != query {
		t.Fatalf("expected original query fallback, got %v", subs)
	}
}

func TestDecomposeFallsBackOnSingleSubQuery(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return `{"sub_queries": ["only one"]}`, nil
		},
	}
	d := NewDecomposer(llm, testLogger())

	query := "revenue in 2023 and 2024"
	subs := d.Decompose(context.Background(), query)
	if len(subs) != 1 || subs[0] != query {
		t.Fatalf("expected original query when model produced one sub-query, got %v", subs)
	}
}
