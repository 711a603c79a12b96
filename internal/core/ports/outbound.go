package ports

import (
	"context"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

// IndexStorage reads file/chunk records and runs lexical snippet search.
type IndexStorage interface {
	FindFilesByName(ctx context.Context, name string) ([]domain.FileRecord, error)
	GetChunk(ctx context.Context, chunkID string) (domain.ChunkRecord, error)
	GetFileByID(ctx context.Context, id string) (domain.FileRecord, error)
	GetFileByChunkID(ctx context.Context, chunkID string) (domain.FileRecord, error)
	SearchSnippets(ctx context.Context, q domain.SnippetQuery) ([]domain.Hit, error)
	SearchFileSummaries(ctx context.Context, query string, limit int, excludeFileIDs []string) ([]domain.Hit, error)
	SearchFileMetadata(ctx context.Context, query string, limit int, excludeFileIDs []string) ([]domain.Hit, error)
	FilesWithEmbeddings(ctx context.Context) ([]domain.FileRecord, error)
}

// VectorIndex performs nearest-neighbor search; hits come back raw, with
// whatever provenance the index payload carries, unenriched.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int, fileIDs []string) ([]domain.Hit, error)
}

// EmbeddingClient encodes query text into vectors. Failures surface as
// domain.ErrEmbeddingUnavailable.
type EmbeddingClient interface {
	Encode(ctx context.Context, queries []string) ([][]float32, error)
}

// LlmClient is the chat-completion backend used for rewriting,
// decomposition, verification, synthesis, and intent routing.
type LlmClient interface {
	ChatComplete(ctx context.Context, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error)
	StreamChatComplete(ctx context.Context, messages []domain.ChatMessage, opts domain.ChatOptions, onToken func(token string) error) error
}

// RerankClient reorders candidate documents by relevance to a query.
type RerankClient interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RankedDocument, error)
}

// AuditPublisher emits answer completion records for offline analysis.
type AuditPublisher interface {
	PublishAnswerCompleted(ctx context.Context, record domain.AnswerAudit) error
}
