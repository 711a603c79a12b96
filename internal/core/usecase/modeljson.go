package usecase

import (
	"encoding/json"
	"strings"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

// DecodeModelJSON extracts and unmarshals the first balanced JSON object
// from raw model output. Markdown code fences are stripped first. Every
// failure comes back as domain.ErrMalformedModelOutput so callers can
// apply their documented fallback instead of propagating a parse error.
func DecodeModelJSON(raw string, out any) error {
	obj, ok := firstJSONObject(stripCodeFences(raw))
	if !ok {
		return domain.WrapError(domain.ErrMalformedModelOutput, "decode model json", errNoJSONObject)
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return domain.WrapError(domain.ErrMalformedModelOutput, "decode model json", err)
	}
	return nil
}

var errNoJSONObject = jsonObjectError("no json object in model output")

type jsonObjectError string

func (e jsonObjectError) Error() string { return string(e) }

func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if newline := strings.IndexByte(s, '\n'); newline >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		s = s[newline+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// firstJSONObject scans for the first balanced {...} region, tracking
// string literals and escapes so braces inside values do not miscount.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
