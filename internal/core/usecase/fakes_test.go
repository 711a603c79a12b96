package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLLM struct {
	mu           sync.Mutex
	calls        int
	respond      func(call int, messages []domain.ChatMessage) (string, error)
	streamTokens []string
	streamErr    error
}

func (f *fakeLLM) ChatComplete(_ context.Context, messages []domain.ChatMessage, _ domain.ChatOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.respond == nil {
		return "", errors.New("no scripted response")
	}
	return f.respond(call, messages)
}

func (f *fakeLLM) StreamChatComplete(_ context.Context, _ []domain.ChatMessage, _ domain.ChatOptions, onToken func(string) error) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, token := range f.streamTokens {
		if err := onToken(token); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStorage struct {
	files           map[string]domain.FileRecord
	chunks          map[string]domain.ChunkRecord
	searchSnippets  func(q domain.SnippetQuery) ([]domain.Hit, error)
	findByName      func(name string) ([]domain.FileRecord, error)
	searchSummaries func(query string, limit int, exclude []string) ([]domain.Hit, error)
	searchMetadata  func(query string, limit int, exclude []string) ([]domain.Hit, error)
}

func (f *fakeStorage) FindFilesByName(_ context.Context, name string) ([]domain.FileRecord, error) {
	if f.findByName != nil {
		return f.findByName(name)
	}
	return nil, nil
}

func (f *fakeStorage) GetChunk(_ context.Context, chunkID string) (domain.ChunkRecord, error) {
	if chunk, ok := f.chunks[chunkID]; ok {
		return chunk, nil
	}
	return domain.ChunkRecord{}, domain.ErrNotFound
}

func (f *fakeStorage) GetFileByID(_ context.Context, id string) (domain.FileRecord, error) {
	if file, ok := f.files[id]; ok {
		return file, nil
	}
	return domain.FileRecord{}, domain.ErrNotFound
}

func (f *fakeStorage) GetFileByChunkID(_ context.Context, chunkID string) (domain.FileRecord, error) {
	if chunk, ok := f.chunks[chunkID]; ok {
		return f.GetFileByID(context.Background(), chunk.FileID)
	}
	return domain.FileRecord{}, domain.ErrNotFound
}

func (f *fakeStorage) SearchSnippets(_ context.Context, q domain.SnippetQuery) ([]domain.Hit, error) {
	if f.searchSnippets != nil {
		return f.searchSnippets(q)
	}
	return nil, nil
}

func (f *fakeStorage) SearchFileSummaries(_ context.Context, query string, limit int, exclude []string) ([]domain.Hit, error) {
	if f.searchSummaries != nil {
		return f.searchSummaries(query, limit, exclude)
	}
	return nil, nil
}

func (f *fakeStorage) SearchFileMetadata(_ context.Context, query string, limit int, exclude []string) ([]domain.Hit, error) {
	if f.searchMetadata != nil {
		return f.searchMetadata(query, limit, exclude)
	}
	return nil, nil
}

func (f *fakeStorage) FilesWithEmbeddings(_ context.Context) ([]domain.FileRecord, error) {
	out := make([]domain.FileRecord, 0, len(f.files))
	for _, file := range f.files {
		if file.HasEmbeddings {
			out = append(out, file)
		}
	}
	return out, nil
}

type fakeVectorIndex struct {
	search func(vector []float32, limit int, fileIDs []string) ([]domain.Hit, error)
}

func (f *fakeVectorIndex) Search(_ context.Context, vector []float32, limit int, fileIDs []string) ([]domain.Hit, error) {
	if f.search != nil {
		return f.search(vector, limit, fileIDs)
	}
	return nil, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Encode(_ context.Context, queries []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(queries))
	for i := range queries {
		vectors[i] = []float32{float32(i), 1}
	}
	return vectors, nil
}

type fakeReranker struct {
	rank func(query string, documents []string, topK int) ([]domain.RankedDocument, error)
}

func (f *fakeReranker) Rerank(_ context.Context, query string, documents []string, topK int) ([]domain.RankedDocument, error) {
	if f.rank != nil {
		return f.rank(query, documents, topK)
	}
	return nil, errors.New("reranker unavailable")
}

func newTestRetriever(storage *fakeStorage, vector *fakeVectorIndex, embedder *fakeEmbedder, reranker *fakeReranker) *Retriever {
	return NewRetriever(storage, vector, embedder, reranker, testLogger(), RetrieverConfig{})
}
