package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

// StreamAnswer runs the answer pipeline while emitting NDJSON events in
// the order stages logically occur. Events from concurrent sub-queries
// may interleave; each carries its sub-query index. The stream always
// terminates with done or error. Cancellation stops emission through
// ctx; in-flight model calls are bounded only by the HTTP client's
// context handling, a documented limitation of this layer.
func (uc *AnswerUseCase) StreamAnswer(ctx context.Context, req domain.AnswerRequest, emit domain.EventSink) error {
	if strings.TrimSpace(req.Query) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "stream answer", fmt.Errorf("query is required"))
	}
	sink := newSyncSink(emit)
	start := time.Now()
	rec := domain.NewStepRecorder()

	if err := sink.status("routing"); err != nil {
		return err
	}
	decision := uc.routeIntent(ctx, req, rec)
	sink.thinkingStep(rec, "intent")

	if decision.Intent != domain.IntentDocument {
		return uc.streamDirectAnswer(ctx, req, decision, rec, start, sink)
	}

	hits, strategy, err := uc.streamRetrieve(ctx, req, rec, sink)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
			_ = sink.event(domain.StreamEvent{Type: domain.EventError, Message: "semantic search is unavailable"})
			return nil
		}
		_ = sink.event(domain.StreamEvent{Type: domain.EventError, Message: err.Error()})
		return nil
	}
	if err := sink.event(domain.StreamEvent{Type: domain.EventHits, Hits: hits}); err != nil {
		return err
	}

	if err := sink.status("processing_chunks"); err != nil {
		return err
	}
	parts := filterRelevantParts(req.Query, contextParts(hits, uc.cfg.MaxSnippetChars))
	verdicts := uc.verifier.VerifyAll(ctx, req.Query, parts, func(progress domain.VerifyProgress) {
		_ = sink.event(domain.StreamEvent{Type: domain.EventChunkProgress, Progress: &progress})
	})

	if err := sink.status("analyzing"); err != nil {
		return err
	}
	if err := sink.event(domain.StreamEvent{Type: domain.EventChunkAnalysis, Verdicts: verdicts}); err != nil {
		return err
	}

	if err := sink.status("synthesizing"); err != nil {
		return err
	}
	answer, _ := uc.aggregator.AggregateStream(ctx, req.Query, verdicts, func(token string) error {
		return sink.event(domain.StreamEvent{Type: domain.EventToken, Token: token})
	})
	rec.SetSummary(fmt.Sprintf("%d hits, %d verified chunks", len(hits), len(verdicts)))

	result := &domain.AnswerResult{
		Query:       req.Query,
		Answer:      answer,
		Hits:        hits,
		Strategy:    strategy,
		Intent:      domain.IntentDocument,
		LatencyMs:   time.Since(start).Milliseconds(),
		Diagnostics: rec.Snapshot(),
	}
	uc.publishAudit(ctx, result)
	return sink.event(domain.StreamEvent{Type: domain.EventDone, Answer: result})
}

// streamRetrieve runs either the multi-path or the standard retrieval
// flow, emitting the associated events.
func (uc *AnswerUseCase) streamRetrieve(
	ctx context.Context,
	req domain.AnswerRequest,
	rec *domain.StepRecorder,
	sink *syncSink,
) ([]domain.Hit, domain.Strategy, error) {
	query := req.Query

	if ShouldDecompose(query) {
		if err := sink.status("decomposing"); err != nil {
			return nil, "", err
		}
		rec.Begin("decompose", "Query decomposition")
		subQueries := uc.search.decomposer.Decompose(ctx, query)
		rec.Finish("decompose", func(step *domain.DiagnosticStep) {
			step.Queries = subQueries
		})
		sink.thinkingStep(rec, "decompose")

		if len(subQueries) <= 1 {
			if err := sink.event(domain.StreamEvent{Type: domain.EventFallbackToStandard}); err != nil {
				return nil, "", err
			}
		} else {
			if err := sink.event(domain.StreamEvent{Type: domain.EventMultiPathStart, SubQueries: subQueries}); err != nil {
				return nil, "", err
			}
			cleaned, fileIDs := uc.search.resolveMentions(ctx, query, rec)
			hits, _ := uc.search.MultiPath(ctx, cleaned, subQueries, req.Limit, fileIDs, rec,
				func(index int, result domain.SubQueryResult) {
					_ = sink.event(domain.StreamEvent{
						Type:          domain.EventSubQueryHits,
						SubQueryIndex: index,
						SubQuery:      result.SubQuery,
						Hits:          result.Hits,
					})
				})
			sink.thinkingStep(rec, "multi_path")
			if err := sink.event(domain.StreamEvent{Type: domain.EventMultiPathEnd}); err != nil {
				return nil, "", err
			}
			return hits, domain.StrategyMultiPath, nil
		}
	}

	if err := sink.status("searching"); err != nil {
		return nil, "", err
	}
	resp, err := uc.search.runSinglePath(ctx, query, req.Limit, rec)
	if err != nil {
		return nil, "", err
	}
	sink.thinkingStep(rec, "rewrite")
	return resp.Hits, resp.Strategy, nil
}

func (uc *AnswerUseCase) streamDirectAnswer(
	ctx context.Context,
	req domain.AnswerRequest,
	decision domain.IntentDecision,
	rec *domain.StepRecorder,
	start time.Time,
	sink *syncSink,
) error {
	if err := sink.status("answering"); err != nil {
		return err
	}

	var b strings.Builder
	err := uc.llm.StreamChatComplete(ctx, []domain.ChatMessage{
		{Role: "system", Content: directAnswerSystemPrompt},
		{Role: "user", Content: req.Query},
	}, domain.ChatOptions{MaxTokens: 600, Temperature: 0.6}, func(token string) error {
		b.WriteString(token)
		return sink.event(domain.StreamEvent{Type: domain.EventToken, Token: token})
	})
	if err != nil {
		_ = sink.event(domain.StreamEvent{Type: domain.EventError, Message: "answer generation failed"})
		return nil
	}

	result := &domain.AnswerResult{
		Query:       req.Query,
		Answer:      strings.TrimSpace(b.String()),
		Intent:      decision.Intent,
		LatencyMs:   time.Since(start).Milliseconds(),
		Diagnostics: rec.Snapshot(),
	}
	uc.publishAudit(ctx, result)
	return sink.event(domain.StreamEvent{Type: domain.EventDone, Answer: result})
}

// syncSink serializes event emission: sub-query goroutines and the
// orchestrator share one writer. After the first emit error the sink
// swallows further events; the consumer is gone.
type syncSink struct {
	mu     sync.Mutex
	emit   domain.EventSink
	failed error
}

func newSyncSink(emit domain.EventSink) *syncSink {
	return &syncSink{emit: emit}
}

func (s *syncSink) event(ev domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	if err := s.emit(ev); err != nil {
		s.failed = err
		return err
	}
	return nil
}

func (s *syncSink) status(stage string) error {
	return s.event(domain.StreamEvent{Type: domain.EventStatus, Message: stage})
}

func (s *syncSink) thinkingStep(rec *domain.StepRecorder, id string) {
	if step, ok := rec.Step(id); ok {
		_ = s.event(domain.StreamEvent{Type: domain.EventThinkingStep, Step: &step})
	}
}
