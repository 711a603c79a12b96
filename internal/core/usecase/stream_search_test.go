package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func collectStages(t *testing.T, uc *SearchUseCase, req domain.SearchRequest) []domain.StageResult {
	t.Helper()
	var stages []domain.StageResult
	err := uc.StreamSearch(context.Background(), req, func(res domain.StageResult) error {
		stages = append(stages, res)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamSearch() error = %v", err)
	}
	return stages
}

func stageNames(stages []domain.StageResult) []domain.SearchStage {
	out := make([]domain.SearchStage, 0, len(stages))
	for _, stage := range stages {
		out = append(out, stage.Stage)
	}
	return out
}

func TestStreamSearchLayersStagesAndDeduplicatesByFile(t *testing.T) {
	var summaryExclude, metadataExclude []string
	storage := &fakeStorage{
		findByName: func(string) ([]domain.FileRecord, error) {
			return []domain.FileRecord{{ID: "f1", Name: "revenue report.pdf", Kind: "pdf"}}, nil
		},
		searchSummaries: func(_ string, _ int, exclude []string) ([]domain.Hit, error) {
			summaryExclude = exclude
			return []domain.Hit{
				{FileID: "f1", ChunkID: "c1", Summary: "already known"},
				{FileID: "f2", ChunkID: "c2", Summary: "annual revenue growth"},
			}, nil
		},
		searchMetadata: func(_ string, _ int, exclude []string) ([]domain.Hit, error) {
			metadataExclude = exclude
			return []domain.Hit{{FileID: "f3", Score: 0.5}}, nil
		},
		searchSnippets: func(domain.SnippetQuery) ([]domain.Hit, error) {
			return []domain.Hit{
				snippetHit("f2", "c9", "revenue growth detail", 1),
				snippetHit("f4", "c4", "annual growth report", 1),
			}, nil
		},
	}
	uc := newTestSearchUseCase(&fakeLLM{}, storage, &fakeVectorIndex{}, &fakeEmbedder{})

	stages := collectStages(t, uc, domain.SearchRequest{Query: "annual revenue growth report"})

	want := []domain.SearchStage{
		domain.StageFilename, domain.StageSummary, domain.StageMetadata,
		domain.StageHybrid, domain.StageComplete,
	}
	if !reflect.DeepEqual(stageNames(stages), want) {
		t.Fatalf("unexpected stage sequence: %v", stageNames(stages))
	}

	filename := stages[0]
	if len(filename.Hits) != 1 || filename.Hits[0].FileID != "f1" {
		t.Fatalf("unexpected filename hits: %+v", filename.Hits)
	}
	if filename.Hits[0].Extra["search_stage"] != string(domain.StageFilename) {
		t.Fatalf("hits must carry their discovering stage, got %+v", filename.Hits[0].Extra)
	}

	summary := stages[1]
	if len(summary.Hits) != 1 || summary.Hits[0].FileID != "f2" {
		t.Fatalf("files reported by earlier layers must be dropped, got %+v", summary.Hits)
	}
	if !reflect.DeepEqual(summaryExclude, []string{"f1"}) {
		t.Fatalf("summary layer not scoped past seen files: %v", summaryExclude)
	}
	if !reflect.DeepEqual(metadataExclude, []string{"f1", "f2"}) {
		t.Fatalf("metadata layer not scoped past seen files: %v", metadataExclude)
	}

	hybrid := stages[3]
	gotChunks := map[string]bool{}
	for _, hit := range hybrid.Hits {
		gotChunks[hit.ChunkID] = true
	}
	if !gotChunks["c9"] || !gotChunks["c4"] {
		t.Fatalf("hybrid layer must keep chunk hits, including ones refining seen files: %+v", hybrid.Hits)
	}

	last := stages[len(stages)-1]
	if !last.Done || last.TotalHits != 4 {
		t.Fatalf("complete stage must be done with 4 distinct files, got %+v", last)
	}
}

func TestStreamSearchSkipsHybridOnceLimitIsFilled(t *testing.T) {
	embedder := &fakeEmbedder{}
	snippetCalled := false
	storage := &fakeStorage{
		findByName: func(string) ([]domain.FileRecord, error) {
			return []domain.FileRecord{
				{ID: "f1", Name: "report.pdf"},
				{ID: "f2", Name: "report v2.pdf"},
			}, nil
		},
		searchSnippets: func(domain.SnippetQuery) ([]domain.Hit, error) {
			snippetCalled = true
			return nil, nil
		},
	}
	uc := newTestSearchUseCase(&fakeLLM{}, storage, &fakeVectorIndex{}, embedder)

	stages := collectStages(t, uc, domain.SearchRequest{Query: "report", Limit: 1})

	want := []domain.SearchStage{domain.StageFilename, domain.StageComplete}
	if !reflect.DeepEqual(stageNames(stages), want) {
		t.Fatalf("unexpected stage sequence: %v", stageNames(stages))
	}
	if len(stages[0].Hits) != 1 {
		t.Fatalf("filename layer must honor the limit, got %d hits", len(stages[0].Hits))
	}
	if snippetCalled || embedder.calls != 0 {
		t.Fatalf("cheap layers filled the limit, the retriever must not run")
	}
}

func TestStreamSearchEmbeddingOutageSkipsHybridLayer(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("connection refused")}
	uc := newTestSearchUseCase(&fakeLLM{}, &fakeStorage{}, &fakeVectorIndex{}, embedder)

	stages := collectStages(t, uc, domain.SearchRequest{Query: "revenue growth"})

	if !reflect.DeepEqual(stageNames(stages), []domain.SearchStage{domain.StageComplete}) {
		t.Fatalf("embedding outage must degrade to completion, got %v", stageNames(stages))
	}
	if !stages[0].Done || stages[0].TotalHits != 0 {
		t.Fatalf("unexpected complete stage: %+v", stages[0])
	}
}

func TestStreamSearchContinuesPastFailingLayer(t *testing.T) {
	storage := &fakeStorage{
		findByName: func(string) ([]domain.FileRecord, error) {
			return nil, errors.New("storage down")
		},
		searchSummaries: func(string, int, []string) ([]domain.Hit, error) {
			return []domain.Hit{{FileID: "f1", ChunkID: "c1", Summary: "quarterly numbers"}}, nil
		},
	}
	uc := newTestSearchUseCase(&fakeLLM{}, storage, &fakeVectorIndex{}, &fakeEmbedder{})

	stages := collectStages(t, uc, domain.SearchRequest{Query: "annual revenue growth report"})

	want := []domain.SearchStage{domain.StageSummary, domain.StageComplete}
	if !reflect.DeepEqual(stageNames(stages), want) {
		t.Fatalf("a failing layer must not end the stream, got %v", stageNames(stages))
	}
}

func TestStreamSearchStopsWhenConsumerDisconnects(t *testing.T) {
	storage := &fakeStorage{
		findByName: func(string) ([]domain.FileRecord, error) {
			return []domain.FileRecord{{ID: "f1", Name: "report.pdf"}}, nil
		},
		searchSummaries: func(string, int, []string) ([]domain.Hit, error) {
			t.Fatalf("layers past a dead consumer must not run")
			return nil, nil
		},
	}
	uc := newTestSearchUseCase(&fakeLLM{}, storage, &fakeVectorIndex{}, &fakeEmbedder{})

	sinkErr := errors.New("client gone")
	err := uc.StreamSearch(context.Background(), domain.SearchRequest{Query: "report"}, func(domain.StageResult) error {
		return sinkErr
	})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected the sink error back, got %v", err)
	}
}

func TestStreamSearchRejectsEmptyQuery(t *testing.T) {
	uc := newTestSearchUseCase(&fakeLLM{}, &fakeStorage{}, &fakeVectorIndex{}, &fakeEmbedder{})

	err := uc.StreamSearch(context.Background(), domain.SearchRequest{Query: "  "}, func(domain.StageResult) error {
		t.Fatalf("no stages expected for an invalid query")
		return nil
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
