// Package bootstrap assembles the dependency graph shared by the API and the
// worker binaries. Construction order follows the data path: storage first,
// then model clients, then retrieval, then the agents on top.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmalykh/ragmesh/internal/config"
	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
	"github.com/kmalykh/ragmesh/internal/core/usecase"
	"github.com/kmalykh/ragmesh/internal/infrastructure/chunking"
	"github.com/kmalykh/ragmesh/internal/infrastructure/llm/ollama"
	"github.com/kmalykh/ragmesh/internal/infrastructure/process"
	natsqueue "github.com/kmalykh/ragmesh/internal/infrastructure/queue/nats"
	"github.com/kmalykh/ragmesh/internal/infrastructure/repository/postgres"
	"github.com/kmalykh/ragmesh/internal/infrastructure/resilience"
	"github.com/kmalykh/ragmesh/internal/infrastructure/tools/mcp"
	"github.com/kmalykh/ragmesh/internal/infrastructure/vector/bm25"
	"github.com/kmalykh/ragmesh/internal/infrastructure/vector/neo4j"
	"github.com/kmalykh/ragmesh/internal/infrastructure/vector/qdrant"
	"github.com/kmalykh/ragmesh/internal/infrastructure/websearch/searx"
	"github.com/kmalykh/ragmesh/internal/observability/logging"
	"github.com/kmalykh/ragmesh/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue        ports.MessageQueue
	Orchestrator *usecase.Orchestrator
	Indexer      *usecase.Indexer
	Metrics      *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, service string, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	services := postgres.NewServiceRepository(db)
	vocabulary := postgres.NewVocabularyRepository(db)
	toolCalls := postgres.NewToolCallRepository(db)
	querier := postgres.NewQuerier(time.Duration(cfg.SQLTimeoutSeconds) * time.Second)

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.Logger = logger
	executor := resilience.NewExecutor(resilienceCfg)

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel)
	embedder := &retryingEmbedder{inner: ollama.NewEmbedder(llm), executor: executor}

	storeOpts := qdrant.Options{RRFK: cfg.RAGFusionRRFK, Oversample: cfg.RAGOversample}
	localStore := func(collection string) ports.DenseSearcher {
		return qdrant.New(cfg.QdrantURL, collection, bm25.NewStoreEncoder(vocabulary, collection), storeOpts)
	}
	dialers := map[domain.ServiceType]ports.StoreDialer{
		domain.ServiceQdrant: qdrant.NewDialer(storeOpts),
		domain.ServiceNeo4j:  neo4j.NewDialer(cfg.Neo4jDatabase),
	}
	factory := usecase.NewRetrieverFactory(localStore, services, dialers, embedder, logger)

	rules := usecase.DefaultKeywordRules()
	if cfg.KeywordRulesPath != "" {
		loaded, err := usecase.LoadKeywordRules(cfg.KeywordRulesPath)
		if err != nil {
			logger.Warn("keyword rules file rejected, using built-in rules",
				"path", cfg.KeywordRulesPath, "error", err)
		} else {
			rules = loaded
		}
	}
	classifier := usecase.NewIntentClassifier(llm, rules, logger)

	var toolAgent usecase.AgentRunner
	if len(cfg.MCPServers) > 0 {
		invoker, err := mcp.Dial(ctx, cfg.MCPServers)
		if err != nil {
			return nil, fmt.Errorf("dial mcp servers: %w", err)
		}
		toolAgent = usecase.NewToolAgent(invoker, logger)
	}

	var processAgent usecase.AgentRunner
	if cfg.ProcessBackendURL != "" {
		processAgent = usecase.NewProcessAgent(process.New(cfg.ProcessBackendURL), logger)
	}

	httpMetrics := metrics.NewHTTPServerMetrics(service)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		Supervisor:  usecase.NewSupervisor(classifier, logger),
		RAG:         usecase.NewRAGAgent(factory, logger),
		Web:         usecase.NewWebAgent(searx.New(cfg.SearxURL), cfg.WebSearchResults, logger),
		Tool:        toolAgent,
		SQL:         usecase.NewSQLAgent(services, querier, llm, cfg.SQLMaxRows, logger),
		Process:     processAgent,
		Synthesizer: usecase.NewSynthesizer(llm, llm, cfg.ReflectThreshold, logger),
		ToolCallLog:   toolCalls,
		OnIdleTimeout: func() { httpMetrics.RecordStreamTimeout(service) },
		IdleTimeout:   time.Duration(cfg.StreamIdleTimeoutSeconds) * time.Second,
		QueueSize:     cfg.StreamQueueSize,
		Logger:        logger,
	})

	writer := func(collection string) ports.ChunkWriter {
		return qdrant.New(cfg.QdrantURL, collection, bm25.NewStoreEncoder(vocabulary, collection), storeOpts)
	}
	indexer := usecase.NewIndexer(
		queue,
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		bm25.NewDocumentEncoder(vocabulary, cfg.VocabularyMax),
		writer,
		logger,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:        queue,
		Orchestrator: orchestrator,
		Indexer:      indexer,
		Metrics:      httpMetrics,

		closeFn: func() {
			queue.Close()
			_ = querier.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
