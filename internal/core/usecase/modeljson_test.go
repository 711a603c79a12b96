package usecase

import (
	"testing"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func TestDecodeModelJSONStripsFences(t *testing.T) {
	raw := "```json\n{\"intent\": \"document\", \"confidence\": 0.9}\n```"
	var payload struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := DecodeModelJSON(raw, &payload); err != nil {
		t.Fatalf("DecodeModelJSON() error = %v", err)
	}
	if payload.Intent != "document" || payload.Confidence != 0.9 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodeModelJSONFindsFirstBalancedObject(t *testing.T) {
	raw := `Sure, here is the result: {"primary": "a {quoted} value", "alternates": ["b"]} trailing prose {`
	var payload struct {
		Primary    string   `json:"primary"`
		Alternates []string `json:"alternates"`
	}
	if err := DecodeModelJSON(raw, &payload); err != nil {
		t.Fatalf("DecodeModelJSON() error = %v", err)
	}
	if payload.Primary != "a {quoted} value" {
		t.Fatalf("expected braces inside strings to be ignored, got %q", payload.Primary)
	}
}

func TestDecodeModelJSONReturnsMalformedKind(t *testing.T) {
	var payload map[string]any
	err := DecodeModelJSON("the model rambled without any json", &payload)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrMalformedModelOutput) {
		t.Fatalf("expected ErrMalformedModelOutput, got %v", err)
	}
}

func TestDecodeModelJSONUnbalancedObject(t *testing.T) {
	var payload map[string]any
	if err := DecodeModelJSON(`{"primary": "never closed`, &payload); err == nil {
		t.Fatalf("expected error for unbalanced object")
	}
}
