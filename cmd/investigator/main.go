package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-investigator/internal/api"
	"github.com/miradorstack/mirador-investigator/internal/cache"
	"github.com/miradorstack/mirador-investigator/internal/config"
	"github.com/miradorstack/mirador-investigator/internal/engine"
	"github.com/miradorstack/mirador-investigator/internal/extractors"
	"github.com/miradorstack/mirador-investigator/internal/llm"
	"github.com/miradorstack/mirador-investigator/internal/metrics"
	"github.com/miradorstack/mirador-investigator/internal/repo"
	"github.com/miradorstack/mirador-investigator/internal/retrieval"
	"github.com/miradorstack/mirador-investigator/internal/services"
	"github.com/miradorstack/mirador-investigator/internal/tracing"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-investigator", slog.String("address", cfg.Server.Address), slog.String("version", version))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
		Insecure: cfg.Tracing.Insecure,
		Version:  version,
	}, logger)
	if err != nil {
		logger.Error("failed to initialise tracing", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := newCacheProvider(ctx, cfg, logger)
	defer cacheProvider.Close()

	elastic, err := repo.NewElasticRepo(repo.ElasticOptions{
		Addresses:      cfg.Elastic.Addresses,
		Username:       cfg.Elastic.Username,
		Password:       cfg.Elastic.Password,
		APIKey:         cfg.Elastic.APIKey,
		EmbeddingField: cfg.Elastic.EmbeddingField,
		MaxRetries:     cfg.Elastic.MaxRetries,
		Transport:      &http.Transport{ResponseHeaderTimeout: cfg.Elastic.RequestTimeout},
		CatalogIndices: []string{cfg.Elastic.Indices.Logs, cfg.Elastic.Indices.Traces, cfg.Elastic.Indices.Metrics},
		IncidentsIndex: cfg.Elastic.Indices.Incidents,
	})
	if err != nil {
		logger.Error("failed to create search backend", slog.Any("error", err))
		os.Exit(1)
	}
	if err := elastic.Ping(ctx); err != nil {
		logger.Warn("search backend not reachable at startup", slog.Any("error", err))
	}

	var embedder retrieval.Embedder
	if strings.EqualFold(cfg.Embedding.Provider, "openai") {
		embedder = retrieval.NewCachedEmbedder(llm.NewOpenAIEmbedder(llm.OpenAIOptions{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		}), cacheProvider, cfg.Cache.EmbeddingTTL, cfg.Embedding.Model)
	} else {
		logger.Warn("no embedding provider configured, searches run lexical-only", slog.String("provider", cfg.Embedding.Provider))
	}

	history, err := newRunStore(ctx, cfg.History)
	if err != nil {
		logger.Error("failed to open run history", slog.Any("error", err))
		os.Exit(1)
	}
	defer history.Close()

	remediator, err := engine.NewRemediationMapper(cfg.Playbook.Path, logger)
	if err != nil {
		logger.Error("failed to load playbook", slog.Any("error", err))
		os.Exit(1)
	}

	p := cfg.Pipeline
	hybrid := retrieval.NewHybridEngine(logger, elastic, embedder, retrieval.OverlapReranker{}, retrieval.HybridOptions{
		RRFK:       p.RRFK,
		TopK:       p.TopK,
		RerankTopN: p.RerankTopN,
		Timeout:    p.SearchTimeout,
	})

	var linker engine.Linker
	if kibana := repo.NewKibanaLinker(cfg.Kibana.BaseURL, ""); kibana != nil {
		linker = kibana
	}
	gatherer := engine.NewGatherer(logger, hybrid, engine.Collections{
		Logs:    cfg.Elastic.Indices.Logs,
		Traces:  cfg.Elastic.Indices.Traces,
		Metrics: cfg.Elastic.Indices.Metrics,
	}, p.TopK, linker)

	var similar engine.SimilarFinder
	if embedder != nil {
		similar = retrieval.NewSimilarRetriever(logger, elastic, embedder, cacheProvider, retrieval.SimilarOptions{
			Collection: cfg.Elastic.Indices.Incidents,
			TopN:       p.SimilarTopN,
			Timeout:    p.SearchTimeout,
			CacheTTL:   cfg.Cache.SimilarIncidentsTTL,
		})
	}

	synthesizer := engine.NewSynthesizer(logger, newModelChain(cfg.LLM, logger), p.SynthesisTimeout, cfg.LLM.MaxTokens)

	planner, err := engine.NewPlanner(logger, engine.Dependencies{
		Scope:       engine.NewScopeResolver(logger, elastic, p.DefaultLookback, p.StrictScope),
		Gatherer:    gatherer,
		Correlator:  engine.NewCorrelator(p.CorrelationWindow),
		Highlights:  extractors.NewSet(),
		Similar:     similar,
		SimilarTopN: p.SimilarTopN,
		Synthesizer: synthesizer,
		Scorer: engine.NewConfidenceScorer(engine.Weights{
			TraceLogAlignment:    p.Weights.TraceLogAlignment,
			SimilarIncidentScore: p.Weights.SimilarIncidentScore,
			EvidenceCountFactor:  p.Weights.EvidenceCountFactor,
			ModelSelfAssessment:  p.Weights.ModelSelfAssessment,
		}, engine.Tiers{High: p.Tiers.High, Medium: p.Tiers.Medium}, p.TargetEvidenceCount),
		Remediator: remediator,
		Validator:  engine.NewValidator(p.MinEvidence, p.BlockedActions),
		Runs:       history,
	})
	if err != nil {
		logger.Error("failed to build planner", slog.Any("error", err))
		os.Exit(1)
	}

	investigator := services.NewInvestigatorService(logger, services.Options{
		Planner:   planner,
		Runs:      history,
		Incidents: elastic,
		Catalog:   elastic,
		Embedder:  embedder,
		Cache:     cacheProvider,
	})

	server, err := api.NewServer(cfg.Server, logger, investigator)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", slog.Any("error", err))
	}

	logger.Info("mirador-investigator stopped", slog.Duration("p95_latency", investigator.LatencyP95()))
}

// newCacheProvider prefers the shared Redis/Valkey cache and falls back to an
// in-process LRU when it is disabled or unreachable.
func newCacheProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Provider {
	c := cfg.Cache
	if c.Enabled && (c.Addr != "" || c.URL != "") {
		provider, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
			Addr:         c.Addr,
			URL:          c.URL,
			Username:     c.Username,
			Password:     c.Password,
			DB:           c.DB,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
			MaxRetries:   c.MaxRetries,
			TLS:          c.TLS,
			KeyPrefix:    "mirador:investigator:",
		})
		if err == nil {
			return provider
		}
		logger.Warn("redis cache unavailable, using in-process cache", slog.Any("error", err))
	}
	return cache.NewLRUProvider(c.LRUSize, c.EmbeddingTTL)
}

type runStore interface {
	engine.RunStore
	Close() error
}

func newRunStore(ctx context.Context, cfg config.HistoryConfig) (runStore, error) {
	if strings.EqualFold(cfg.Driver, "memory") {
		return repo.NewMemoryHistory(), nil
	}
	return repo.OpenSQLiteHistory(ctx, cfg.Path)
}

// newModelChain builds the generative model chain in configured order.
func newModelChain(cfg config.LLMConfig, logger *slog.Logger) *llm.Chain {
	var models []llm.Model
	for _, p := range cfg.Providers {
		switch strings.ToLower(p.Name) {
		case "openai":
			models = append(models, llm.NewOpenAIModel(llm.OpenAIOptions{APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model}))
		case "anthropic":
			models = append(models, llm.NewAnthropicModel(llm.AnthropicOptions{APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model}))
		default:
			logger.Warn("unknown model provider skipped", slog.String("provider", p.Name))
		}
	}
	return llm.NewChain(logger, llm.ChainOptions{
		Timeout:          cfg.Timeout,
		MaxTokens:        cfg.MaxTokens,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBackoff:     cfg.RetryBackoff,
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	}, models...)
}
