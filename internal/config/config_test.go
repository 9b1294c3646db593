package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if cfg.Listen != "127.0.0.1:8900" {
		t.Errorf("Listen should be '127.0.0.1:8900', got %s", cfg.Listen)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel should be 'info', got %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat should be 'json', got %s", cfg.LogFormat)
	}
}

func TestDefaultConfig_APIDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout should be 30s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.WriteTimeout != 10*time.Minute {
		t.Errorf("WriteTimeout should be 10m, got %v", cfg.API.WriteTimeout)
	}
	if cfg.API.IdleTimeout != 120*time.Second {
		t.Errorf("IdleTimeout should be 120s, got %v", cfg.API.IdleTimeout)
	}
}

func TestDefaultConfig_LLMDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("LLM.Provider should be 'ollama', got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Endpoint != "http://localhost:11434" {
		t.Errorf("LLM.Endpoint should be 'http://localhost:11434', got %s", cfg.LLM.Endpoint)
	}
	if cfg.LLM.TimeoutSeconds != 120 {
		t.Errorf("LLM.TimeoutSeconds should be 120, got %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.LLM.MaxRetries != 2 {
		t.Errorf("LLM.MaxRetries should be 2, got %d", cfg.LLM.MaxRetries)
	}
}

func TestDefaultConfig_BackendDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.SQL.Driver != "sqlite3" {
		t.Errorf("SQL.Driver should be 'sqlite3', got %s", cfg.SQL.Driver)
	}
	if !strings.HasSuffix(cfg.SQL.DSN, "lattice.db") {
		t.Errorf("SQL.DSN should end with 'lattice.db', got %s", cfg.SQL.DSN)
	}
	if !cfg.ES.Enabled {
		t.Error("ES should be enabled by default")
	}
	if cfg.Vector.Port != 6334 {
		t.Errorf("Vector.Port should be 6334, got %d", cfg.Vector.Port)
	}
	if cfg.Graph.GraphName != "lattice_kg" {
		t.Errorf("Graph.GraphName should be 'lattice_kg', got %s", cfg.Graph.GraphName)
	}
	if cfg.Embedding.Dimension != 1024 {
		t.Errorf("Embedding.Dimension should be 1024, got %d", cfg.Embedding.Dimension)
	}
}

func TestDefaultConfig_WorkflowDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Workflow.BranchTimeout != 60*time.Second {
		t.Errorf("BranchTimeout should be 60s, got %v", cfg.Workflow.BranchTimeout)
	}
	if cfg.Workflow.SubQueryWorkers != 3 {
		t.Errorf("SubQueryWorkers should be 3, got %d", cfg.Workflow.SubQueryWorkers)
	}
	if cfg.Workflow.MaxHistoryLength != 20 {
		t.Errorf("MaxHistoryLength should be 20, got %d", cfg.Workflow.MaxHistoryLength)
	}
	if cfg.Fusion.RRFConstant != 60 {
		t.Errorf("RRFConstant should be 60, got %d", cfg.Fusion.RRFConstant)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"zero rrf constant", func(c *Config) { c.Fusion.RRFConstant = 0 }, true},
		{"zero sub-query workers", func(c *Config) { c.Workflow.SubQueryWorkers = 0 }, true},
		{"zero embedding dimension", func(c *Config) { c.Embedding.Dimension = 0 }, true},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "bard" }, true},
		{"openai provider", func(c *Config) { c.LLM.Provider = "openai" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_EnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		DataDir: filepath.Join(tmpDir, "lattice"),
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		t.Fatalf("DataDir not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("%s is not a directory", cfg.DataDir)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("DataDir should not be world-readable, got %o", perm)
	}
}

func TestLoad_DefaultsWhenNoConfig(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.LogLevel == "" {
		t.Error("LogLevel should have default value")
	}
	if cfg.SQL.DSN == "" {
		t.Error("SQL.DSN should have default value")
	}
}

func TestLLMTimeout(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.LLMTimeout(); got != 120*time.Second {
		t.Errorf("LLMTimeout = %v", got)
	}
	cfg.LLM.UseReasoningMode = true
	if got := cfg.LLMTimeout(); got != 300*time.Second {
		t.Errorf("reasoning LLMTimeout = %v", got)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/.lattice", filepath.Join(homeDir, ".lattice")},
		{"~/", homeDir},
		{"~", homeDir},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := expandPath(tt.input)
		if result != tt.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}
