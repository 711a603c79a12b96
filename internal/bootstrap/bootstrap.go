package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docuseek/qa-engine/internal/config"
	"github.com/docuseek/qa-engine/internal/core/ports"
	"github.com/docuseek/qa-engine/internal/core/usecase"
	"github.com/docuseek/qa-engine/internal/infrastructure/embedding"
	"github.com/docuseek/qa-engine/internal/infrastructure/llm/localai"
	"github.com/docuseek/qa-engine/internal/infrastructure/queue/nats"
	"github.com/docuseek/qa-engine/internal/infrastructure/repository/postgres"
	"github.com/docuseek/qa-engine/internal/infrastructure/rerank"
	"github.com/docuseek/qa-engine/internal/infrastructure/resilience"
	"github.com/docuseek/qa-engine/internal/infrastructure/vector/qdrant"
	"github.com/docuseek/qa-engine/internal/observability/logging"
	"github.com/docuseek/qa-engine/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	Search  ports.SearchService
	Answer  ports.AnswerService
	Storage ports.IndexStorage

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("qa-engine", cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	storage := postgres.NewIndexRepository(db)
	if err := storage.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()

	llm := localai.New(localai.Config{
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		Timeout:    cfg.LLM.Timeout,
		Resilience: resilienceCfg,
	})
	embedder := embedding.New(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Timeout:    cfg.Embedding.Timeout,
		Resilience: resilienceCfg,
	})

	var reranker ports.RerankClient
	if cfg.Rerank.Enabled {
		reranker = rerank.New(rerank.Config{
			BaseURL:    cfg.Rerank.BaseURL,
			Model:      cfg.Rerank.Model,
			Timeout:    cfg.Rerank.Timeout,
			Resilience: resilienceCfg,
		})
	}

	vector := qdrant.New(cfg.Qdrant.URL, cfg.Qdrant.Collection)

	var audit ports.AuditPublisher
	var auditPublisher *nats.Publisher
	if cfg.NATS.Enabled {
		auditPublisher, err = nats.NewWithOptions(cfg.NATS.URL, cfg.NATS.Subject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilienceCfg),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init audit publisher: %w", err)
		}
		audit = auditPublisher
	}

	rewriter := usecase.NewRewriter(llm, logger)
	decomposer := usecase.NewDecomposer(llm, logger)
	retriever := usecase.NewRetriever(storage, vector, embedder, reranker, logger, usecase.RetrieverConfig{
		Limit:               cfg.Engine.SearchLimit,
		RRFK:                cfg.Engine.RRFK,
		RerankTopN:          cfg.Engine.RerankTopN,
		CandidateMultiplier: cfg.Engine.CandidateMultiplier,
		MandatoryMinTerms:   cfg.Engine.MandatoryMinTerms,
	})
	search := usecase.NewSearchUseCase(rewriter, decomposer, retriever, storage, logger, usecase.SearchConfig{
		Limit: cfg.Engine.SearchLimit,
	})
	verifier := usecase.NewVerifier(llm, logger, usecase.VerifierConfig{
		BatchSize:       cfg.Engine.VerifyBatchSize,
		EarlyStopTarget: cfg.Engine.EarlyStopTarget,
	})
	aggregator := usecase.NewAggregator(llm, logger, usecase.AggregatorConfig{
		SimpleMax:        cfg.Engine.AggregateSimpleMax,
		GroupSize:        cfg.Engine.AggregateGroupSize,
		OverlapThreshold: cfg.Engine.OverlapThreshold,
	})
	intentRouter := usecase.NewIntentRouter(llm, logger, usecase.IntentRouterConfig{})
	answer := usecase.NewAnswerUseCase(search, verifier, aggregator, intentRouter, llm, audit, logger, usecase.AnswerConfig{
		Limit:           cfg.Engine.SearchLimit,
		MaxSnippetChars: cfg.Engine.MaxSnippetChars,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewHTTPServerMetrics("qa-engine"),
		Search:  search,
		Answer:  answer,
		Storage: storage,

		closeFn: func() {
			if auditPublisher != nil {
				auditPublisher.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
