package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/llmclient"
	"github.com/ngoclaw/codexcore/internal/turn"
)

func init() {
	llmclient.RegisterFactory("openai", func(cfg llmclient.ProviderConfig, logger *zap.Logger) llmclient.Provider {
		return New(cfg, logger)
	})
}

// Provider is an HTTP client against any OpenAI-compatible chat-completions
// endpoint (OpenAI, Bailian/Qwen, MiniMax, DeepSeek, Ollama, vLLM, ...).
//
// Grounded on the teacher's internal/infrastructure/llm/openai.Provider:
// the transport tuning is carried over verbatim; OpenStream replaces
// Generate/GenerateStream with a single streaming call matching
// llmclient.Provider.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

// New builds an OpenAI-compatible provider from cfg.
func New(cfg llmclient.ProviderConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
	}
}

var _ llmclient.Provider = (*Provider)(nil)

func (p *Provider) Name() string     { return p.name }
func (p *Provider) Models() []string { return p.models }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// OpenStream issues a streaming chat-completions request and adapts the
// SSE body into a turn.EventStream via runSSEReader, started on a
// background goroutine the way the teacher's GenerateStream spawns a
// watchdog goroutine to force-close the body on context cancellation.
func (p *Provider) OpenStream(ctx context.Context, req llmclient.Request) (turn.EventStream, error) {
	apiReq := &Request{
		Model:    stripProviderPrefix(req.Model),
		Messages: buildMessages(req.Instructions, req.Personality, req.Input),
		Tools:    buildTools(req.Tools),
	}
	streamBody := StreamRequest{
		Request:       apiReq,
		Stream:        true,
		StreamOptions: map[string]interface{}{"include_usage": true},
	}

	body, err := json.Marshal(streamBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai: API error %d: %s", resp.StatusCode, string(respBody))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		msgs:   make(chan streamMsg, 8),
		body:   resp.Body,
		cancel: cancel,
	}
	go runSSEReader(streamCtx, resp.Body, s.msgs, rateLimitsFromHeader(resp.Header), p.logger)
	return s, nil
}

func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// rateLimitsFromHeader builds a RateLimitSnapshot from whatever
// rate-limit headers the backend sent, or nil if it sent none -- not
// every OpenAI-compatible gateway reports them.
func rateLimitsFromHeader(h http.Header) *turn.RateLimitSnapshot {
	remaining := h.Get("x-ratelimit-remaining-requests")
	reset := h.Get("x-ratelimit-reset-requests")
	tokens := h.Get("x-ratelimit-remaining-tokens")
	if remaining == "" && tokens == "" {
		return nil
	}
	snap := &turn.RateLimitSnapshot{ResetsAt: reset}
	fmt.Sscanf(remaining, "%d", &snap.RequestsRemaining)
	fmt.Sscanf(tokens, "%d", &snap.TokensRemaining)
	return snap
}
