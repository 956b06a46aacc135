package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

type fakeModels struct {
	mu     sync.Mutex
	calls  int
	model  string
	parts  []*genai.Part
	config *genai.GenerateContentConfig
	errs   []error
	resp   *genai.GenerateContentResponse
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.model = model
	if len(contents) > 0 {
		f.parts = contents[0].Parts
	}
	f.config = config
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.resp, nil
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func testClient(m models, maxFailures int) *Client {
	return newClient(m, Options{
		CircuitBreakerMaxFailures:  maxFailures,
		CircuitBreakerResetTimeout: time.Minute,
		Logger:                     zerolog.Nop(),
	})
}

func TestClientGenerate(t *testing.T) {
	fake := &fakeModels{resp: textResponse(
		&genai.Part{Text: "thinking...", Thought: true},
		&genai.Part{Text: `{"a":`},
		&genai.Part{Text: `1}`},
	)}
	client := testClient(fake, 5)

	schema := &genai.Schema{Type: genai.TypeObject}
	raw, err := client.Generate(context.Background(), inference.Request{
		Model:       "gemini-2.5-flash",
		Parts:       []inference.Part{inference.TextPart("analyze"), inference.MediaPart("audio/wav", []byte{1, 2, 3})},
		Schema:      schema,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if string(raw) != `{"a":1}` {
		t.Errorf("Expected joined non-thought text, got %s", raw)
	}
	if fake.model != "gemini-2.5-flash" {
		t.Errorf("Expected model gemini-2.5-flash, got %s", fake.model)
	}
	if len(fake.parts) != 2 || fake.parts[0].Text != "analyze" {
		t.Fatalf("Expected text and media parts, got %+v", fake.parts)
	}
	if blob := fake.parts[1].InlineData; blob == nil || blob.MIMEType != "audio/wav" || len(blob.Data) != 3 {
		t.Errorf("Expected inline audio part, got %+v", fake.parts[1])
	}
	if fake.config.ResponseMIMEType != "application/json" {
		t.Errorf("Expected application/json, got %s", fake.config.ResponseMIMEType)
	}
	if fake.config.ResponseSchema != schema {
		t.Error("Expected the request schema to be passed through")
	}
	if fake.config.Temperature == nil || *fake.config.Temperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %v", fake.config.Temperature)
	}
}

func TestClientGenerate_EmptyResponse(t *testing.T) {
	client := testClient(&fakeModels{resp: &genai.GenerateContentResponse{}}, 5)

	raw, err := client.Generate(context.Background(), inference.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("Expected empty output, got %q", raw)
	}
}

func TestClientGenerate_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want inference.Kind
	}{
		{"unavailable", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "model overloaded"}, inference.KindOverloaded},
		{"rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}, inference.KindRateLimited},
		{"internal", genai.APIError{Code: 500, Status: "INTERNAL", Message: "boom"}, inference.KindServerError},
		{"bad gateway", genai.APIError{Code: 502, Message: "bad gateway"}, inference.KindServerError},
		{"invalid argument", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad"}, inference.KindOther},
		{"network", errors.New("read tcp: connection reset by peer"), inference.KindServerError},
		{"other", errors.New("something odd"), inference.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(&fakeModels{errs: []error{tt.err}}, 5)
			_, err := client.Generate(context.Background(), inference.Request{Model: "m"})

			var remote *inference.RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Expected RemoteError, got %v", err)
			}
			if remote.Kind != tt.want {
				t.Errorf("Expected kind %s, got %s", tt.want, remote.Kind)
			}
		})
	}
}

func TestClientGenerate_ContextCancelled(t *testing.T) {
	client := testClient(&fakeModels{errs: []error{fmt.Errorf("request: %w", context.Canceled)}}, 1)

	_, err := client.Generate(context.Background(), inference.Request{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if client.Breaker().GetState() != resilience.StateClosed {
		t.Error("Expected cancellation not to trip the breaker")
	}
}

func TestClientGenerate_BreakerOpens(t *testing.T) {
	overloaded := genai.APIError{Code: 503, Status: "UNAVAILABLE"}
	fake := &fakeModels{errs: []error{overloaded, overloaded}}
	client := testClient(fake, 2)

	for i := 0; i < 2; i++ {
		if _, err := client.Generate(context.Background(), inference.Request{Model: "m"}); err == nil {
			t.Fatal("Expected error")
		}
	}

	_, err := client.Generate(context.Background(), inference.Request{Model: "m"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if inference.IsTransient(err) {
		t.Error("Expected an open circuit not to be retried")
	}
	if fake.calls != 2 {
		t.Errorf("Expected 2 remote calls, got %d", fake.calls)
	}
}

func TestClientGenerate_PermanentErrorsDoNotTrip(t *testing.T) {
	bad := genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}
	client := testClient(&fakeModels{errs: []error{bad, bad, bad}}, 2)

	for i := 0; i < 3; i++ {
		_, _ = client.Generate(context.Background(), inference.Request{Model: "m"})
	}
	if client.Breaker().GetState() != resilience.StateClosed {
		t.Errorf("Expected breaker closed, got %s", client.Breaker().GetState())
	}
}

func TestClientWithRetry(t *testing.T) {
	overloaded := genai.APIError{Code: 503, Status: "UNAVAILABLE"}
	fake := &fakeModels{
		errs: []error{overloaded, genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}},
		resp: textResponse(&genai.Part{Text: `{}`}),
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 4 * time.Millisecond

	gen := inference.WithRetry(testClient(fake, 10), cfg, zerolog.Nop())
	raw, err := gen.Generate(context.Background(), inference.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("Expected {}, got %s", raw)
	}
	if fake.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", fake.calls)
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(context.Background(), Options{}); err == nil {
		t.Error("Expected error for missing API key")
	}
}
