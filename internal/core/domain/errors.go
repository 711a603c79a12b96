package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
	ErrSynthesisFailed      = errors.New("synthesis failed")
	ErrMalformedModelOutput = errors.New("malformed model output")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
