package gemini

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
	llmclient.RegisterFactory("gemini", func(cfg llmclient.ProviderConfig, logger *zap.Logger) llmclient.Provider {
		return New(cfg, logger)
	})
}

// Provider is an HTTP client against the Google Gemini generateContent
// API.
//
// Grounded on the teacher's internal/infrastructure/llm/gemini.Provider:
// transport tuning and the streamGenerateContent?alt=sse endpoint shape
// are carried over verbatim; OpenStream replaces Generate/GenerateStream
// with the single streaming call llmclient.Provider requires.
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
		baseURL = "https://generativelanguage.googleapis.com"
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
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "gemini")),
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
	model := stripProviderPrefix(req.Model)

	var sysInstr *Content
	system := req.Instructions
	if req.Personality != "" {
		if system != "" {
			system += "\n\n"
		}
		system += req.Personality
	}
	if system != "" {
		sysInstr = &Content{Parts: []Part{{Text: system}}}
	}

	apiReq := &Request{
		Contents:          buildContents(req.Input),
		Tools:             buildTools(req.Tools),
		SystemInstruction: sysInstr,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("gemini: API error %d: %s", resp.StatusCode, string(respBody))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		msgs:   make(chan streamMsg, 8),
		body:   resp.Body,
		cancel: cancel,
	}
	go runSSEReader(streamCtx, resp.Body, s.msgs, nil, p.logger)
	return s, nil
}

func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
