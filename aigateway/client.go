// Package aigateway routes triage prompts to LLM providers (OpenAI-compatible
// APIs and local Ollama), normalizing responses, token accounting, and
// failures into one contract. A per-provider circuit breaker stops a dead
// provider from eating request timeouts, and connection or timeout failures
// on the primary are retried once against the configured fallback provider.
package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aegis/config"
	"aegis/core"
	"aegis/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ============================================================================
// Public contract
// ============================================================================

// Generator is the interface the triage services consume.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// GenerateRequest is one prompt for one engine invocation.
type GenerateRequest struct {
	// Operation labels metrics and spans: analysis, classification,
	// playbook_immediate, playbook_investigation.
	Operation string

	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64

	OrganizationID string
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// ProviderInfo identifies which provider served a call.
type ProviderInfo struct {
	Type       string `json:"type"`
	IsFallback bool   `json:"isFallback"`
}

// GenerateResult is the normalized response from any provider.
type GenerateResult struct {
	Response string       `json:"response"`
	Usage    Usage        `json:"usage"`
	Provider ProviderInfo `json:"provider"`
	Elapsed  time.Duration `json:"-"`
}

const (
	defaultMaxTokens      = 2048
	defaultRequestTimeout = 60 * time.Second
)

// provider is the minimal surface a backend must implement.
type provider interface {
	name() string
	generate(ctx context.Context, req *GenerateRequest) (string, Usage, error)
}

// Client fans requests out to the primary provider with optional fallback.
type Client struct {
	primary  provider
	fallback provider
	breakers map[string]*core.CircuitBreaker
	timeout  time.Duration
	model    string
	logger   *zap.SugaredLogger
	tracer   trace.Tracer
}

var _ Generator = (*Client)(nil)

// NewClient creates the gateway from config. The fallback provider is
// optional; an unsupported provider name is a configuration error.
func NewClient(cfg config.AIConfig, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		panic("logger is required")
	}

	primary, err := newProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}

	var fallback provider
	if cfg.FallbackProvider != "" {
		if cfg.FallbackProvider == cfg.Provider {
			return nil, fmt.Errorf("fallback provider must differ from primary (%s)", cfg.Provider)
		}
		fallback, err = newProvider(cfg.FallbackProvider, cfg)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
	}

	timeout := defaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = cfg.RequestTimeout
	}

	breakers := make(map[string]*core.CircuitBreaker)
	for _, p := range []provider{primary, fallback} {
		if p == nil {
			continue
		}
		cb, err := core.NewCircuitBreaker(core.DefaultCircuitBreakerConfig())
		if err != nil {
			return nil, fmt.Errorf("circuit breaker for %s: %w", p.name(), err)
		}
		breakers[p.name()] = cb
	}

	return &Client{
		primary:  primary,
		fallback: fallback,
		breakers: breakers,
		timeout:  timeout,
		model:    cfg.Model,
		logger:   logger,
		tracer:   otel.Tracer("aegis/aigateway"),
	}, nil
}

func newProvider(name string, cfg config.AIConfig) (provider, error) {
	switch name {
	case "openai":
		return newOpenAIProvider(cfg)
	case "ollama":
		return newOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %q", name)
	}
}

// PrimaryName returns the configured primary provider name.
func (c *Client) PrimaryName() string {
	return c.primary.name()
}

// FallbackName returns the configured fallback provider name, empty when no
// fallback is configured.
func (c *Client) FallbackName() string {
	if c.fallback == nil {
		return ""
	}
	return c.fallback.name()
}

// DefaultModel returns the model used when a request does not name one.
func (c *Client) DefaultModel() string {
	return c.model
}

// BreakerState exposes the circuit state for a provider, for health and
// diagnostics surfaces.
func (c *Client) BreakerState(providerName string) core.CircuitBreakerState {
	cb, ok := c.breakers[providerName]
	if !ok {
		return ""
	}
	return cb.State()
}

// Generate runs one completion, falling back to the secondary provider on
// connection or timeout failures. Provider-level and parse failures are
// returned as-is: they would just repeat on the fallback.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("generate request requires a prompt")
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.Model == "" {
		req.Model = c.model
	}

	ctx, span := c.tracer.Start(ctx, "aigateway.generate", trace.WithAttributes(
		attribute.String("ai.operation", req.Operation),
		attribute.String("ai.model", req.Model),
		attribute.String("ai.provider.primary", c.primary.name()),
	))
	defer span.End()

	result, err := c.callProvider(ctx, c.primary, req)
	if err == nil {
		span.SetAttributes(attribute.String("ai.provider.served", c.primary.name()))
		return result, nil
	}

	if c.fallback == nil || !FallbackEligible(err) {
		return nil, err
	}

	c.logger.Warnw("Primary AI provider failed, trying fallback",
		"primary", c.primary.name(),
		"fallback", c.fallback.name(),
		"operation", req.Operation,
		"error", err)
	metrics.AIFallbacks.Inc()

	result, fbErr := c.callProvider(ctx, c.fallback, req)
	if fbErr != nil {
		// The primary error is the one worth reporting; the fallback
		// failing too is recorded in its own metrics and logs.
		c.logger.Errorw("Fallback AI provider also failed",
			"fallback", c.fallback.name(),
			"operation", req.Operation,
			"error", fbErr)
		return nil, err
	}

	result.Provider.IsFallback = true
	span.SetAttributes(
		attribute.String("ai.provider.served", c.fallback.name()),
		attribute.Bool("ai.fallback", true),
	)
	return result, nil
}

func (c *Client) callProvider(ctx context.Context, p provider, req *GenerateRequest) (*GenerateResult, error) {
	cb := c.breakers[p.name()]
	if err := cb.Allow(); err != nil {
		metrics.AIFailures.WithLabelValues(req.Operation, "connection").Inc()
		return nil, &ConnectionError{Provider: p.name(), Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	content, usage, err := p.generate(callCtx, req)
	elapsed := time.Since(start)

	metrics.AIRequests.WithLabelValues(p.name(), req.Operation).Inc()
	metrics.AIRequestDuration.WithLabelValues(p.name(), req.Operation).Observe(elapsed.Seconds())

	if err != nil {
		oldState, newState := cb.RecordFailure()
		if oldState != newState {
			c.logger.Warnw("AI provider circuit breaker state change",
				"provider", p.name(), "from", oldState, "to", newState)
		}
		metrics.AIFailures.WithLabelValues(req.Operation, ErrorKind(err)).Inc()
		return nil, err
	}

	oldState, newState := cb.RecordSuccess()
	if oldState != newState {
		c.logger.Infow("AI provider circuit breaker recovered",
			"provider", p.name(), "from", oldState, "to", newState)
	}

	metrics.AITokens.WithLabelValues(p.name(), "prompt").Add(float64(usage.PromptTokens))
	metrics.AITokens.WithLabelValues(p.name(), "completion").Add(float64(usage.CompletionTokens))

	return &GenerateResult{
		Response: content,
		Usage:    usage,
		Provider: ProviderInfo{Type: p.name()},
		Elapsed:  elapsed,
	}, nil
}

// ============================================================================
// OpenAI-compatible provider
// ============================================================================

type openaiProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newOpenAIProvider(cfg config.AIConfig) (*openaiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	base := "https://api.openai.com"
	if cfg.Endpoint != "" {
		base = cfg.Endpoint
	}
	return &openaiProvider{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (p *openaiProvider) name() string { return "openai" }

func (p *openaiProvider) generate(ctx context.Context, req *GenerateRequest) (string, Usage, error) {
	var msgs []map[string]string
	if req.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
	}
	msgs = append(msgs, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":       req.Model,
		"messages":    msgs,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", Usage{}, classifyTransportError(p.name(), time.Since(start), err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &ProviderError{Provider: p.name(), StatusCode: resp.StatusCode, Body: string(data)}
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", Usage{}, &ParseError{Provider: p.name(), Err: err}
	}
	if len(raw.Choices) == 0 {
		return "", Usage{}, &ParseError{Provider: p.name(), Err: fmt.Errorf("no choices in response")}
	}

	usage := Usage{
		PromptTokens:     raw.Usage.PromptTokens,
		CompletionTokens: raw.Usage.CompletionTokens,
	}
	return raw.Choices[0].Message.Content, usage, nil
}

// ============================================================================
// Ollama local model provider
// ============================================================================

type ollamaProvider struct {
	endpoint   string
	httpClient *http.Client
}

func newOllamaProvider(cfg config.AIConfig) (*ollamaProvider, error) {
	ep := "http://localhost:11434"
	if cfg.OllamaEndpoint != "" {
		ep = cfg.OllamaEndpoint
	}
	return &ollamaProvider{
		endpoint:   ep,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}, nil
}

func (p *ollamaProvider) name() string { return "ollama" }

func (p *ollamaProvider) generate(ctx context.Context, req *GenerateRequest) (string, Usage, error) {
	var msgs []map[string]string
	if req.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
	}
	msgs = append(msgs, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": msgs,
		"stream":   false,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", Usage{}, classifyTransportError(p.name(), time.Since(start), err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &ProviderError{Provider: p.name(), StatusCode: resp.StatusCode, Body: string(data)}
	}

	var raw struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", Usage{}, &ParseError{Provider: p.name(), Err: err}
	}

	usage := Usage{
		PromptTokens:     raw.PromptEvalCount,
		CompletionTokens: raw.EvalCount,
	}
	return raw.Message.Content, usage, nil
}
