// Package gemini connects the service to Google's Gemini models: structured
// generation for batch analysis and comparison through the genai SDK, and
// the BidiGenerateContent live protocol over a WebSocket.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const breakerName = "gemini"

// models is the subset of the genai Models service the client uses
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures a Client
type Options struct {
	APIKey  string
	BaseURL string // overrides the API endpoint, mainly for tests

	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration

	Logger zerolog.Logger
}

// Client implements inference.Generator on top of generateContent.
// Transient failures are classified but not retried here; wrap the client
// with inference.WithRetry for that.
type Client struct {
	models  models
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient creates a client for the Gemini Developer API
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newClient(client.Models, opts), nil
}

func newClient(m models, opts Options) *Client {
	if opts.CircuitBreakerResetTimeout <= 0 {
		opts.CircuitBreakerResetTimeout = 30 * time.Second
	}
	breaker := resilience.NewCircuitBreaker(breakerName, opts.CircuitBreakerMaxFailures, opts.CircuitBreakerResetTimeout)
	logger := opts.Logger.With().Str("component", "gemini_client").Logger()
	breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}
	breaker.OnFailure = observability.IncrementCircuitBreakerFailures

	return &Client{
		models:  m,
		breaker: breaker,
		logger:  logger,
	}
}

// Breaker exposes the client's circuit breaker for readiness checks
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Generate implements inference.Generator
func (c *Client) Generate(ctx context.Context, req inference.Request) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "gemini.generate_content",
		attribute.String("gemini.model", req.Model),
		attribute.Int("gemini.parts", len(req.Parts)))
	start := time.Now()

	contents := []*genai.Content{{Role: "user", Parts: toParts(req.Parts)}}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
	}

	var text string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			return classify(err)
		}
		text = responseText(resp)
		return nil
	}, inference.IsTransient)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("gemini: %w", err)
	}

	elapsed := time.Since(start)
	observability.RecordInference(req.Model, err == nil, elapsed)
	observability.EndSpan(span, err)
	if err != nil {
		observability.LoggerFromContext(ctx, c.logger).Debug().
			Err(err).
			Str("model", req.Model).
			Dur("elapsed", elapsed).
			Msg("generateContent failed")
		return nil, err
	}
	return []byte(text), nil
}

func toParts(parts []inference.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsMedia() {
			out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		out = append(out, &genai.Part{Text: p.Text})
	}
	return out
}

// responseText joins the non-thought text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
