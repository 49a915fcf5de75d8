package anthropic

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
	llmclient.RegisterFactory("anthropic", func(cfg llmclient.ProviderConfig, logger *zap.Logger) llmclient.Provider {
		return New(cfg, logger)
	})
}

const defaultMaxTokens = 4096

// Provider is an HTTP client against the Anthropic Messages API.
//
// Grounded on the teacher's internal/infrastructure/llm/anthropic.Provider:
// transport tuning carried over verbatim; OpenStream replaces
// Generate/GenerateStream with the single streaming call llmclient.Provider
// requires.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

func New(cfg llmclient.ProviderConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
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
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "anthropic")),
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

func (p *Provider) OpenStream(ctx context.Context, req llmclient.Request) (turn.EventStream, error) {
	system := req.Instructions
	if req.Personality != "" {
		if system != "" {
			system += "\n\n"
		}
		system += req.Personality
	}

	apiReq := &Request{
		Model:     req.Model,
		MaxTokens: defaultMaxTokens,
		System:    system,
		Messages:  buildMessages(req.Input),
		Tools:     buildTools(req.Tools),
		Stream:    true,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic: API error %d: %s", resp.StatusCode, string(respBody))
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

func rateLimitsFromHeader(h http.Header) *turn.RateLimitSnapshot {
	remaining := h.Get("anthropic-ratelimit-requests-remaining")
	reset := h.Get("anthropic-ratelimit-requests-reset")
	tokens := h.Get("anthropic-ratelimit-tokens-remaining")
	if remaining == "" && tokens == "" {
		return nil
	}
	snap := &turn.RateLimitSnapshot{ResetsAt: reset}
	fmt.Sscanf(remaining, "%d", &snap.RequestsRemaining)
	fmt.Sscanf(tokens, "%d", &snap.TokensRemaining)
	return snap
}
