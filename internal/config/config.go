// Package config handles Lattice configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	if path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return homeDir
	}
	return path
}

// Config holds all Lattice configuration.
type Config struct {
	DataDir   string `mapstructure:"data_dir"`
	Listen    string `mapstructure:"listen"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	API       APIConfig       `mapstructure:"api"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	SQL       SQLConfig       `mapstructure:"sql"`
	ES        ESConfig        `mapstructure:"es"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Scout     ScoutConfig     `mapstructure:"scout"`
	Enhancer  EnhancerConfig  `mapstructure:"enhancer"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Fusion    FusionConfig    `mapstructure:"fusion"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LLMConfig holds chat-model provider configuration.
type LLMConfig struct {
	// Provider: "ollama" (default, local) or "openai" (any OpenAI-compatible endpoint)
	Provider string `mapstructure:"provider"`

	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`

	// UseReasoningMode enables the step-by-step reasoning preamble on
	// classification calls. Extends the effective timeout.
	UseReasoningMode        bool `mapstructure:"use_reasoning_mode"`
	ReasoningTimeoutSeconds int  `mapstructure:"reasoning_timeout_seconds"`
}

// EmbeddingConfig holds the dense-embedding provider configuration.
type EmbeddingConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	BatchSize int    `mapstructure:"batch_size"`
}

// SQLConfig holds relational store configuration.
type SQLConfig struct {
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
	Workers        int           `mapstructure:"workers"`
}

// ESConfig holds keyword/aggregation engine configuration.
type ESConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// IndexPrefix is prepended to the per-domain index name.
	IndexPrefix string `mapstructure:"index_prefix"`
}

// VectorConfig holds vector store configuration.
type VectorConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GraphConfig holds graph analytics service configuration.
type GraphConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	GraphName string        `mapstructure:"graph_name"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PoolSize  int           `mapstructure:"pool_size"`

	// CacheCap bounds the node-resolver cache; the cache halves on overflow.
	CacheCap int `mapstructure:"cache_cap"`
}

// ScoutConfig tunes the cross-domain existence probe.
type ScoutConfig struct {
	ProbeLimit int `mapstructure:"probe_limit"`
	KeepTop    int `mapstructure:"keep_top"`

	// MaxSynonymsPerKeyword caps synonym expansion per original keyword.
	MaxSynonymsPerKeyword int `mapstructure:"max_synonyms_per_keyword"`

	// ExcludeEquipmentOnCapability drops the equipment domain from the scan
	// when the query carries capability cues. Equipment is owned, not a
	// capability.
	ExcludeEquipmentOnCapability bool `mapstructure:"exclude_equipment_on_capability"`
}

// EnhancerConfig tunes the vector keyword-expansion pipeline.
type EnhancerConfig struct {
	HitsPerCollection int  `mapstructure:"hits_per_collection"`
	MinFrequency      int  `mapstructure:"min_frequency"`
	MaxExpansion      int  `mapstructure:"max_expansion"`
	UseLLMReview      bool `mapstructure:"use_llm_review"`
}

// WorkflowConfig tunes the DAG engine.
type WorkflowConfig struct {
	BranchTimeout    time.Duration `mapstructure:"branch_timeout"`
	SubQueryWorkers  int           `mapstructure:"sub_query_workers"`
	MaxHistoryLength int           `mapstructure:"max_history_length"`
}

// FusionConfig tunes result fusion.
type FusionConfig struct {
	// RRFConstant is the k in 1/(k + rank + 1).
	RRFConstant int `mapstructure:"rrf_constant"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".lattice")

	return &Config{
		DataDir:   dataDir,
		Listen:    "127.0.0.1:8900",
		LogLevel:  "info",
		LogFormat: "json",

		API: APIConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute, // SSE streams and heavy turns need time
			IdleTimeout:  120 * time.Second,
		},

		LLM: LLMConfig{
			Provider:                "ollama",
			Model:                   "qwen2.5:14b-instruct",
			Endpoint:                "http://localhost:11434",
			TimeoutSeconds:          120,
			MaxRetries:              2,
			UseReasoningMode:        false,
			ReasoningTimeoutSeconds: 300,
		},

		Embedding: EmbeddingConfig{
			Endpoint:  "http://localhost:11434",
			Model:     "bge-m3",
			Dimension: 1024,
			BatchSize: 10,
		},

		SQL: SQLConfig{
			Driver:         "sqlite3",
			DSN:            filepath.Join(dataDir, "lattice.db"),
			QueryTimeout:   30 * time.Second,
			MaxConnections: 10,
			Workers:        3,
		},

		ES: ESConfig{
			Enabled:     true,
			URL:         "http://localhost:9200",
			Timeout:     30 * time.Second,
			IndexPrefix: "rnd_",
		},

		Vector: VectorConfig{
			Host:    "localhost",
			Port:    6334,
			Timeout: 30 * time.Second,
		},

		Graph: GraphConfig{
			Host:      "localhost",
			Port:      6379,
			GraphName: "lattice_kg",
			Timeout:   120 * time.Second, // PageRank and community detection are heavy
			PoolSize:  10,
			CacheCap:  256,
		},

		Scout: ScoutConfig{
			ProbeLimit:                   50,
			KeepTop:                      20,
			MaxSynonymsPerKeyword:        3,
			ExcludeEquipmentOnCapability: true,
		},

		Enhancer: EnhancerConfig{
			HitsPerCollection: 100,
			MinFrequency:      60,
			MaxExpansion:      3,
			UseLLMReview:      true,
		},

		Workflow: WorkflowConfig{
			BranchTimeout:    60 * time.Second,
			SubQueryWorkers:  3,
			MaxHistoryLength: 20,
		},

		Fusion: FusionConfig{
			RRFConstant: 60,
		},
	}
}

// Load loads configuration from files and environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("lattice")
	v.SetConfigType("yaml")

	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".lattice"))
	v.AddConfigPath("/etc/lattice")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LATTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is OK, use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.SQL.DSN = expandPath(cfg.SQL.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Fusion.RRFConstant <= 0 {
		return fmt.Errorf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant)
	}
	if c.Workflow.SubQueryWorkers <= 0 {
		return fmt.Errorf("workflow.sub_query_workers must be positive, got %d", c.Workflow.SubQueryWorkers)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// LLMTimeout returns the effective LLM call timeout, honoring reasoning mode.
func (c *Config) LLMTimeout() time.Duration {
	if c.LLM.UseReasoningMode {
		return time.Duration(c.LLM.ReasoningTimeoutSeconds) * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
