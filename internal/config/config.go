package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the investigator.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Elastic   ElasticConfig   `yaml:"elastic"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	History   HistoryConfig   `yaml:"history"`
	Playbook  PlaybookConfig  `yaml:"playbook"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
	Kibana    KibanaConfig    `yaml:"kibana"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ElasticConfig configures the search backend.
type ElasticConfig struct {
	Addresses      []string      `yaml:"addresses"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	APIKey         string        `yaml:"apiKey"`
	Indices        IndexConfig   `yaml:"indices"`
	EmbeddingField string        `yaml:"embeddingField"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
}

// IndexConfig names the collection (alias) per source.
type IndexConfig struct {
	Logs      string `yaml:"logs"`
	Traces    string `yaml:"traces"`
	Metrics   string `yaml:"metrics"`
	Incidents string `yaml:"incidents"`
}

// EmbeddingConfig configures the embedding function.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	APIKey     string        `yaml:"apiKey"`
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig configures the generative model chain.
type LLMConfig struct {
	Providers        []ProviderConfig `yaml:"providers"`
	Timeout          time.Duration    `yaml:"timeout"`
	MaxTokens        int              `yaml:"maxTokens"`
	RetryAttempts    int              `yaml:"retryAttempts"`
	RetryBackoff     time.Duration    `yaml:"retryBackoff"`
	FailureThreshold int              `yaml:"failureThreshold"`
	RecoveryTimeout  time.Duration    `yaml:"recoveryTimeout"`
}

// ProviderConfig is one entry of the model chain.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
}

// CacheConfig controls Redis/Valkey or in-process caching of embeddings and lookups.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Addr                string        `yaml:"addr"`
	URL                 string        `yaml:"url"`
	Username            string        `yaml:"username"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db"`
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	ReadTimeout         time.Duration `yaml:"readTimeout"`
	WriteTimeout        time.Duration `yaml:"writeTimeout"`
	MaxRetries          int           `yaml:"maxRetries"`
	TLS                 bool          `yaml:"tls"`
	LRUSize             int           `yaml:"lruSize"`
	EmbeddingTTL        time.Duration `yaml:"embeddingTTL"`
	SimilarIncidentsTTL time.Duration `yaml:"similarIncidentsTTL"`
}

// HistoryConfig selects the run-history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// PlaybookConfig controls remediation playbook loading.
type PlaybookConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig holds the tunables of the investigation pipeline.
type PipelineConfig struct {
	RRFK                int           `yaml:"rrfK"`
	TopK                int           `yaml:"topK"`
	RerankTopN          int           `yaml:"rerankTopN"`
	SimilarTopN         int           `yaml:"similarTopN"`
	CorrelationWindow   time.Duration `yaml:"correlationWindow"`
	TargetEvidenceCount int           `yaml:"targetEvidenceCount"`
	MinEvidence         int           `yaml:"minEvidence"`
	Weights             WeightsConfig `yaml:"weights"`
	Tiers               TierConfig    `yaml:"tiers"`
	SearchTimeout       time.Duration `yaml:"searchTimeout"`
	SynthesisTimeout    time.Duration `yaml:"synthesisTimeout"`
	DefaultLookback     time.Duration `yaml:"defaultLookback"`
	StrictScope         bool          `yaml:"strictScope"`
	BlockedActions      []string      `yaml:"blockedActions"`
}

// WeightsConfig are the confidence component weights.
type WeightsConfig struct {
	TraceLogAlignment    float64 `yaml:"traceLogAlignment"`
	SimilarIncidentScore float64 `yaml:"similarIncidentScore"`
	EvidenceCountFactor  float64 `yaml:"evidenceCountFactor"`
	ModelSelfAssessment  float64 `yaml:"modelSelfAssessment"`
}

// Sum returns the total of all weights.
func (w WeightsConfig) Sum() float64 {
	return w.TraceLogAlignment + w.SimilarIncidentScore + w.EvidenceCountFactor + w.ModelSelfAssessment
}

// TierConfig are the inclusive lower bounds of the high and medium tiers.
type TierConfig struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// KibanaConfig enables evidence deep links.
type KibanaConfig struct {
	BaseURL string `yaml:"baseURL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_INVESTIGATOR_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Elastic: ElasticConfig{
			Addresses: []string{"http://localhost:9200"},
			Indices: IndexConfig{
				Logs:      "obs-logs-current",
				Traces:    "obs-traces-current",
				Metrics:   "obs-metrics-current",
				Incidents: "obs-incidents-current",
			},
			EmbeddingField: "embedding",
			RequestTimeout: 5 * time.Second,
			MaxRetries:     2,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 384,
			Timeout:    5 * time.Second,
		},
		LLM: LLMConfig{
			Providers: []ProviderConfig{
				{Name: "openai", Model: "gpt-4o-mini"},
				{Name: "anthropic", Model: "claude-3-5-haiku-latest"},
			},
			Timeout:          30 * time.Second,
			MaxTokens:        1024,
			RetryAttempts:    2,
			RetryBackoff:     500 * time.Millisecond,
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:             false,
			DialTimeout:         2 * time.Second,
			ReadTimeout:         500 * time.Millisecond,
			WriteTimeout:        500 * time.Millisecond,
			MaxRetries:          2,
			LRUSize:             1024,
			EmbeddingTTL:        time.Hour,
			SimilarIncidentsTTL: 2 * time.Minute,
		},
		History:  HistoryConfig{Driver: "sqlite", Path: "investigator.db"},
		Playbook: PlaybookConfig{},
		Pipeline: PipelineConfig{
			RRFK:                60,
			TopK:                20,
			RerankTopN:          20,
			SimilarTopN:         5,
			CorrelationWindow:   time.Minute,
			TargetEvidenceCount: 20,
			MinEvidence:         2,
			Weights: WeightsConfig{
				TraceLogAlignment:    0.4,
				SimilarIncidentScore: 0.3,
				EvidenceCountFactor:  0.2,
				ModelSelfAssessment:  0.1,
			},
			Tiers:            TierConfig{High: 0.55, Medium: 0.25},
			SearchTimeout:    5 * time.Second,
			SynthesisTimeout: 30 * time.Second,
			DefaultLookback:  time.Hour,
			BlockedActions:   []string{"delete", "drop_index", "run_shell"},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	p := c.Pipeline
	if p.RRFK <= 0 {
		return fmt.Errorf("pipeline.rrfK must be positive, got %d", p.RRFK)
	}
	if p.TopK <= 0 {
		return fmt.Errorf("pipeline.topK must be positive, got %d", p.TopK)
	}
	if p.SimilarTopN <= 0 {
		return fmt.Errorf("pipeline.similarTopN must be positive, got %d", p.SimilarTopN)
	}
	if p.TargetEvidenceCount <= 0 {
		return fmt.Errorf("pipeline.targetEvidenceCount must be positive, got %d", p.TargetEvidenceCount)
	}
	w := p.Weights
	for _, v := range []float64{w.TraceLogAlignment, w.SimilarIncidentScore, w.EvidenceCountFactor, w.ModelSelfAssessment} {
		if v < 0 {
			return fmt.Errorf("pipeline.weights must be non-negative")
		}
	}
	if math.Abs(w.Sum()-1) > 1e-9 {
		return fmt.Errorf("pipeline.weights must sum to 1, got %.6f", w.Sum())
	}
	if p.Tiers.Medium < 0 || p.Tiers.High > 1 || p.Tiers.Medium > p.Tiers.High {
		return fmt.Errorf("pipeline.tiers must satisfy 0 <= medium <= high <= 1")
	}
	switch strings.ToLower(c.History.Driver) {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("history.driver %q not supported", c.History.Driver)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_INVESTIGATOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_ELASTIC_ADDRESSES"); v != "" {
		cfg.Elastic.Addresses = splitList(v)
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_ELASTIC_USERNAME"); v != "" {
		cfg.Elastic.Username = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_ELASTIC_PASSWORD"); v != "" {
		cfg.Elastic.Password = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_ELASTIC_API_KEY"); v != "" {
		cfg.Elastic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		setProviderKey(cfg, "openai", v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_PLAYBOOK_PATH"); v != "" {
		cfg.Playbook.Path = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_HISTORY_DRIVER"); v != "" {
		cfg.History.Driver = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_CACHE_URL"); v != "" {
		cfg.Cache.URL = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.RRFK = k
		}
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_MIN_EVIDENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MinEvidence = n
		}
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_SEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.SearchTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("MIRADOR_INVESTIGATOR_KIBANA_URL"); v != "" {
		cfg.Kibana.BaseURL = v
	}
}

func setProviderKey(cfg *Config, name, key string) {
	for i := range cfg.LLM.Providers {
		if strings.EqualFold(cfg.LLM.Providers[i].Name, name) && cfg.LLM.Providers[i].APIKey == "" {
			cfg.LLM.Providers[i].APIKey = key
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
