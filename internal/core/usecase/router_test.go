package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func TestRouteShortcutsDocumentQueries(t *testing.T) {
	llm := &fakeLLM{}
	r := NewIntentRouter(llm, testLogger(), IntentRouterConfig{})

	for _, query := range []string{
		"summarize @report.pdf for me",
		"what does contract.docx say about termination",
	} {
		decision := r.Route(context.Background(), query)
		if decision.Intent != domain.IntentDocument || decision.Confidence != 1.0 {
			t.Fatalf("expected document shortcut for %q, got %+v", query, decision)
		}
	}
	if llm.callCount() != 0 {
		t.Fatalf("shortcut queries must not reach the model, got %d calls", llm.callCount())
	}
}

func TestRouteClassifiesViaModel(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return `{"intent": "greeting", "confidence": 0.95}`, nil
		},
	}
	r := NewIntentRouter(llm, testLogger(), IntentRouterConfig{})

	decision := r.Route(context.Background(), "hello there")
	if decision.Intent != domain.IntentGreeting || decision.Confidence != 0.95 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestRouteRetriesThenFailsOpenToDocument(t *testing.T) {
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			return "", errors.New("model offline")
		},
	}
	r := NewIntentRouter(llm, testLogger(), IntentRouterConfig{MaxAttempts: 3, RetryDelay: time.Millisecond})

	decision := r.Route(context.Background(), "where was the meeting held")
	if decision.Intent != domain.IntentDocument || decision.Confidence != 0 {
		t.Fatalf("expected fail-open document decision, got %+v", decision)
	}
	if llm.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", llm.callCount())
	}
}

func TestRouteRejectsInvalidClassifications(t *testing.T) {
	responses := []string{
		`{"intent": "banter", "confidence": 0.5}`,
		`{"intent": "general_chat", "confidence": 1.5}`,
		`{"intent": "general_chat", "confidence": 0.6}`,
	}
	llm := &fakeLLM{
		respond: func(call int, _ []domain.ChatMessage) (string, error) {
			return responses[call-1], nil
		},
	}
	r := NewIntentRouter(llm, testLogger(), IntentRouterConfig{MaxAttempts: 3, RetryDelay: time.Millisecond})

	decision := r.Route(context.Background(), "tell me a joke")
	if decision.Intent != domain.IntentGeneralChat || decision.Confidence != 0.6 {
		t.Fatalf("expected third attempt to win, got %+v", decision)
	}
}

func TestRouteStopsRetryingOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &fakeLLM{
		respond: func(int, []domain.ChatMessage) (string, error) {
			cancel()
			return "", errors.New("model offline")
		},
	}
	r := NewIntentRouter(llm, testLogger(), IntentRouterConfig{MaxAttempts: 3, RetryDelay: time.Hour})

	decision := r.Route(ctx, "where was the meeting held")
	if decision.Intent != domain.IntentDocument {
		t.Fatalf("expected document fail-open, got %+v", decision)
	}
	if llm.callCount() != 1 {
		t.Fatalf("cancelled context must stop the retry loop, got %d calls", llm.callCount())
	}
}
