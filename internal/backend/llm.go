// Package backend holds the thin clients for every external data plane
// the orchestrator talks to: the LLM, the embedding model, the vector
// store, the keyword engine, the graph store and the relational store.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// defaultNumPredict bounds completion length on local models.
const defaultNumPredict = 2048

// ChatProvider is the single LLM surface the pipeline depends on. The
// analyzer, the SQL generator and the response generator all go through
// Chat; implementations return the raw model output, reasoning preamble
// included, and leave cleanup to the caller.
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, system, prompt string) (string, error)
	IsAvailable(ctx context.Context) bool
	Close() error
}

// OllamaChat talks to a local Ollama daemon.
type OllamaChat struct {
	client    *api.Client
	model     string
	keepAlive *api.Duration
	numPred   int
	logger    zerolog.Logger
}

// NewOllamaChat builds the Ollama-backed provider from config.
func NewOllamaChat(cfg config.LLMConfig) (*OllamaChat, error) {
	host := cfg.Endpoint
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, models.Wrap(models.ErrLLMConnection, "invalid ollama host", err)
	}
	keepAlive := &api.Duration{Duration: 30 * time.Minute}
	return &OllamaChat{
		client:    api.NewClient(u, http.DefaultClient),
		model:     cfg.Model,
		keepAlive: keepAlive,
		numPred:   defaultNumPredict,
		logger:    observability.Logger("backend.llm"),
	}, nil
}

func (p *OllamaChat) Name() string { return "ollama" }

// Chat sends one generate call and collects the full (non-streamed)
// completion.
func (p *OllamaChat) Chat(ctx context.Context, system, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:     p.model,
		Prompt:    prompt,
		System:    system,
		Stream:    &stream,
		KeepAlive: p.keepAlive,
		Options: map[string]any{
			"temperature": 0.1,
			"num_predict": p.numPred,
		},
	}

	start := time.Now()
	var out strings.Builder
	err := p.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", models.Wrap(models.ErrLLMConnection, "ollama generate failed", err)
	}
	p.logger.Debug().
		Str("model", p.model).
		Dur("duration", time.Since(start)).
		Int("chars", out.Len()).
		Msg("chat completed")
	return out.String(), nil
}

func (p *OllamaChat) IsAvailable(ctx context.Context) bool {
	_, err := p.client.Version(ctx)
	return err == nil
}

func (p *OllamaChat) Close() error { return nil }

// OpenAIChat talks to any OpenAI-compatible /chat/completions endpoint
// (vLLM, llama.cpp server, hosted APIs).
type OpenAIChat struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOpenAIChat builds the OpenAI-compatible provider from config.
func NewOpenAIChat(cfg config.LLMConfig) *OpenAIChat {
	base := strings.TrimSuffix(cfg.Endpoint, "/")
	return &OpenAIChat{
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 0}, // per-request deadline via ctx
		logger:  observability.Logger("backend.llm"),
	}
}

func (p *OpenAIChat) Name() string { return "openai" }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIChat) Chat(ctx context.Context, system, prompt string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", models.Wrap(models.ErrLLMConnection, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", models.NewError(models.ErrLLMConnection,
			fmt.Sprintf("chat completion status %d: %s", resp.StatusCode, string(b)))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", models.NewError(models.ErrLLMConnection, "empty chat completion")
	}
	return out.Choices[0].Message.Content, nil
}

func (p *OpenAIChat) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *OpenAIChat) Close() error { return nil }

// NewChatProvider picks the provider named in config.
func NewChatProvider(cfg config.LLMConfig) (ChatProvider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaChat(cfg)
	case "openai":
		return NewOpenAIChat(cfg), nil
	default:
		return nil, models.NewError(models.ErrConfigInvalid,
			fmt.Sprintf("unknown llm provider %q", cfg.Provider))
	}
}

// StripReasoning removes a leading <think>...</think> block that
// reasoning-tuned models emit before the answer. Output without the
// block passes through unchanged.
func StripReasoning(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<think>") {
		return s
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return s
	}
	return strings.TrimSpace(trimmed[end+len("</think>"):])
}
