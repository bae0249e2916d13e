package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bme3412/clarity/internal/config"
	"github.com/bme3412/clarity/internal/core/ports"
	"github.com/bme3412/clarity/internal/core/usecase"
	"github.com/bme3412/clarity/internal/infrastructure/cache"
	"github.com/bme3412/clarity/internal/infrastructure/chunking"
	"github.com/bme3412/clarity/internal/infrastructure/embedding/voyage"
	"github.com/bme3412/clarity/internal/infrastructure/extractor/pdffile"
	"github.com/bme3412/clarity/internal/infrastructure/extractor/plaintext"
	"github.com/bme3412/clarity/internal/infrastructure/extractor/xlsx"
	"github.com/bme3412/clarity/internal/infrastructure/finstore"
	"github.com/bme3412/clarity/internal/infrastructure/graph/neo4j"
	"github.com/bme3412/clarity/internal/infrastructure/llm/openai"
	natsqueue "github.com/bme3412/clarity/internal/infrastructure/queue/nats"
	"github.com/bme3412/clarity/internal/infrastructure/registry"
	"github.com/bme3412/clarity/internal/infrastructure/repository/postgres"
	"github.com/bme3412/clarity/internal/infrastructure/resilience"
	"github.com/bme3412/clarity/internal/infrastructure/storage/localfs"
	"github.com/bme3412/clarity/internal/infrastructure/token"
	"github.com/bme3412/clarity/internal/infrastructure/vector/milvus"
	"github.com/bme3412/clarity/internal/infrastructure/vector/sparse"
	"github.com/bme3412/clarity/internal/observability/logging"
	"github.com/bme3412/clarity/internal/observability/metrics"
)

// App carries the wired object graph for one binary. Only the fields the
// binary's constructor populates are non-nil.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue   *natsqueue.Queue
	Filings ports.FilingReader

	Answers ports.ResearchAnswerer
	Tools   ports.ResearchTools
	Ingest  ports.FilingIngestor
	Process ports.FilingProcessor

	APIMetrics    *metrics.APIMetrics
	WorkerMetrics *metrics.WorkerMetrics

	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// NewAPI wires the query-side object graph: retrieval, generation,
// verification, ingestion intake, and the research tools.
func NewAPI(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{
		Config:     cfg,
		Logger:     logging.NewJSONLogger("api", cfg.LogLevel),
		APIMetrics: metrics.NewAPIMetrics("api"),
	}

	shared, err := newShared(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	llm, err := openai.New(openai.Options{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.OpenAIModel,
		Executor: shared.executor,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	var graph ports.EntityGraph = registry.NewPeerGraph(shared.lexicon)
	if cfg.Neo4jURI != "" {
		neoGraph, err := neo4j.New(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init neo4j graph: %w", err)
		}
		app.closers = append(app.closers, func() { _ = neoGraph.Close(context.Background()) })
		graph = neoGraph
	}

	audit := postgres.NewAuditRepository(shared.db)
	if err := audit.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	resultCache := cache.NewFIFO(cfg.ResultCacheSize, cfg.ResultCacheTTL, time.Now)
	retriever := usecase.NewHybridRetriever(shared.index, shared.sparse, shared.lexicon, resultCache, usecase.RetrieverConfig{
		PoolSize:           cfg.RetrievalPoolSize,
		Oversample:         cfg.RetrievalOversample,
		ScoreFloor:         cfg.ScoreFloor,
		MinEvidence:        cfg.MinEvidence,
		IndexWeight:        cfg.IndexWeight,
		TermWeight:         cfg.TermWeight,
		BoilerplatePenalty: cfg.BoilerplatePenalty,
	})
	engine := usecase.NewMetricsEngine(shared.metrics, app.Logger)
	counter := token.NewCounter(cfg.TokenEncoding)

	app.Answers = usecase.NewAnswerUseCase(usecase.AnswerDeps{
		Intents:     usecase.NewIntentAnalyzer(shared.lexicon, llm, app.Logger),
		Expander:    usecase.NewExpander(llm, shared.lexicon, app.Logger, cfg.QueryVariants),
		Retriever:   retriever,
		Embedder:    shared.embedder,
		Engine:      engine,
		Transcripts: shared.transcripts,
		LLM:         llm,
		Prompts:     usecase.NewPromptBuilder(counter, cfg.PromptTokenBudget),
		Verifier:    usecase.NewVerifier(cfg.VerifyTolerance),
		Lexicon:     shared.lexicon,
		Graph:       graph,
		Audit:       audit,
		Observer:    app.APIMetrics,
		Logger:      app.Logger,
	}, usecase.AnswerConfig{
		Service:           "api",
		Model:             cfg.OpenAIModel,
		RRFK:              cfg.RRFK,
		FanoutConcurrency: cfg.FanoutConcurrency,
		MaxEntities:       cfg.MaxEntities,
		VerifyPolicy:      usecase.ParseVerifyPolicy(cfg.VerifyPolicy),
	})
	app.Tools = usecase.NewResearchTools(engine, shared.transcripts, app.Logger)
	app.Ingest = usecase.NewFilingIngest(shared.filings, shared.storage, shared.queue, app.Logger, time.Now)
	app.Filings = shared.filings

	return app, nil
}

// NewWorker wires the ingestion-side object graph: extraction, chunking,
// embedding, and indexing.
func NewWorker(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{
		Config:        cfg,
		Logger:        logging.NewJSONLogger("worker", cfg.LogLevel),
		WorkerMetrics: metrics.NewWorkerMetrics("worker"),
	}

	shared, err := newShared(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Process = usecase.NewFilingProcess(usecase.ProcessDeps{
		Repo: shared.filings,
		Extractors: usecase.ProcessorExtractors{
			Text:     plaintext.NewExtractor(shared.storage),
			PDF:      pdffile.NewExtractor(shared.storage),
			Workbook: xlsx.NewExtractor(shared.storage),
		},
		Chunker:  chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Embedder: shared.embedder,
		Sparse:   shared.sparse,
		Index:    shared.index,
		Metrics:  shared.metrics,
		Observer: app.WorkerMetrics,
		Logger:   app.Logger,
		Service:  "worker",
	})
	app.Filings = shared.filings

	return app, nil
}

// NewMCP wires the stdio tool-server graph: the research tools plus the
// full answering pipeline, without HTTP traffic control or audit. The
// protocol owns stdout, so logs go to stderr.
func NewMCP(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel),
	}

	shared, err := newShared(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	llm, err := openai.New(openai.Options{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.OpenAIModel,
		Executor: shared.executor,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	resultCache := cache.NewFIFO(cfg.ResultCacheSize, cfg.ResultCacheTTL, time.Now)
	retriever := usecase.NewHybridRetriever(shared.index, shared.sparse, shared.lexicon, resultCache, usecase.RetrieverConfig{
		PoolSize:           cfg.RetrievalPoolSize,
		Oversample:         cfg.RetrievalOversample,
		ScoreFloor:         cfg.ScoreFloor,
		MinEvidence:        cfg.MinEvidence,
		IndexWeight:        cfg.IndexWeight,
		TermWeight:         cfg.TermWeight,
		BoilerplatePenalty: cfg.BoilerplatePenalty,
	})
	engine := usecase.NewMetricsEngine(shared.metrics, app.Logger)
	counter := token.NewCounter(cfg.TokenEncoding)

	app.Answers = usecase.NewAnswerUseCase(usecase.AnswerDeps{
		Intents:     usecase.NewIntentAnalyzer(shared.lexicon, llm, app.Logger),
		Expander:    usecase.NewExpander(llm, shared.lexicon, app.Logger, cfg.QueryVariants),
		Retriever:   retriever,
		Embedder:    shared.embedder,
		Engine:      engine,
		Transcripts: shared.transcripts,
		LLM:         llm,
		Prompts:     usecase.NewPromptBuilder(counter, cfg.PromptTokenBudget),
		Verifier:    usecase.NewVerifier(cfg.VerifyTolerance),
		Lexicon:     shared.lexicon,
		Graph:       registry.NewPeerGraph(shared.lexicon),
		Logger:      app.Logger,
	}, usecase.AnswerConfig{
		Service:           "mcp",
		Model:             cfg.OpenAIModel,
		RRFK:              cfg.RRFK,
		FanoutConcurrency: cfg.FanoutConcurrency,
		MaxEntities:       cfg.MaxEntities,
		VerifyPolicy:      usecase.ParseVerifyPolicy(cfg.VerifyPolicy),
	})
	app.Tools = usecase.NewResearchTools(engine, shared.transcripts, app.Logger)

	return app, nil
}

// sharedDeps are the pieces every binary needs: persistence, storage,
// queue, vocabulary, embedding, and the narrative index.
type sharedDeps struct {
	db          *sql.DB
	executor    *resilience.Executor
	lexicon     *registry.Registry
	filings     *postgres.FilingRepository
	storage     *localfs.Storage
	queue       *natsqueue.Queue
	embedder    *voyage.Client
	sparse      *sparse.Encoder
	index       *milvus.Index
	metrics     *finstore.MetricsStore
	transcripts *finstore.TranscriptStore
}

func newShared(ctx context.Context, cfg config.Config, app *App) (*sharedDeps, error) {
	lexicon, err := registry.Load()
	if err != nil {
		return nil, fmt.Errorf("load entity lexicon: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.RetryMaxAttempts = cfg.RetryMaxAttempts
	resilienceCfg.AttemptTimeout = cfg.AttemptTimeout
	executor := resilience.NewExecutor(resilienceCfg)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	filings := postgres.NewFilingRepository(db)
	if err := filings.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure filing schema: %w", err)
	}

	storage, err := localfs.New(cfg.FilingsStoragePath)
	if err != nil {
		return nil, fmt.Errorf("init filing storage: %w", err)
	}

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.closers = append(app.closers, queue.Close)
	app.Queue = queue

	embedder, err := voyage.New(voyage.Options{
		BaseURL:    cfg.VoyageURL,
		APIKey:     cfg.VoyageAPIKey,
		Model:      cfg.VoyageModel,
		Executor:   executor,
		QueryCache: cache.NewFIFO(cfg.EmbedCacheSize, cfg.EmbedCacheTTL, time.Now),
		RatePerSec: cfg.VoyageRatePerSec,
		Burst:      cfg.VoyageBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("init voyage client: %w", err)
	}

	index, err := milvus.New(ctx, milvus.Config{
		Address:      cfg.MilvusAddress,
		Username:     cfg.MilvusUsername,
		Password:     cfg.MilvusPassword,
		Collection:   cfg.MilvusCollection,
		DenseDim:     cfg.MilvusDenseDim,
		DenseWeight:  cfg.DenseWeight,
		SparseWeight: cfg.SparseWeight,
	}, executor)
	if err != nil {
		return nil, fmt.Errorf("init milvus index: %w", err)
	}
	app.closers = append(app.closers, func() { _ = index.Close() })

	metricsStore, err := finstore.NewMetricsStore(cfg.MetricsDataRoot)
	if err != nil {
		return nil, fmt.Errorf("init metrics store: %w", err)
	}
	transcripts, err := finstore.NewTranscriptStore(cfg.TranscriptsDataRoot)
	if err != nil {
		return nil, fmt.Errorf("init transcript store: %w", err)
	}

	return &sharedDeps{
		db:          db,
		executor:    executor,
		lexicon:     lexicon,
		filings:     filings,
		storage:     storage,
		queue:       queue,
		embedder:    embedder,
		sparse:      sparse.NewEncoder(lexicon.DomainTerms()),
		index:       index,
		metrics:     metricsStore,
		transcripts: transcripts,
	}, nil
}
