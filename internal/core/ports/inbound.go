package ports

import (
	"context"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

// SearchService is the inbound contract for retrieval without synthesis.
type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
	StreamSearch(ctx context.Context, req domain.SearchRequest, emit domain.StageSink) error
}

// AnswerService is the inbound contract for cited question answering.
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error)
	StreamAnswer(ctx context.Context, req domain.AnswerRequest, emit domain.EventSink) error
}
