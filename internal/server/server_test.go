package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/lexiqai/speech-coach/internal/analysis"
	"github.com/lexiqai/speech-coach/internal/comparison"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/rs/zerolog"
)

type fakeAnalyzer struct {
	audio         analysis.Audio
	passes        int
	correlationID string
	err           error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, audio analysis.Audio, passCount int) (*analysis.Result, error) {
	f.audio = audio
	f.passes = passCount
	f.correlationID = observability.CorrelationIDFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{ID: "a1", OverallScore: 3.5, PassesRequested: passCount}, nil
}

type fakeComparer struct {
	older, newer *analysis.Result
	err          error
}

func (f *fakeComparer) Compare(ctx context.Context, older, newer *analysis.Result) (*comparison.Report, error) {
	f.older, f.newer = older, newer
	if f.err != nil {
		return nil, f.err
	}
	if older == nil || newer == nil {
		return nil, comparison.ErrMissingAnalysis
	}
	return &comparison.Report{ImprovementSummary: []string{"Better pacing"}}, nil
}

func newTestServer(a Analyzer, c Comparer, opts Options) http.Handler {
	opts.Logger = zerolog.Nop()
	return New(a, c, nil, opts).Handler()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error JSON %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestAnalyze_RawBody(t *testing.T) {
	a := &fakeAnalyzer{}
	h := newTestServer(a, &fakeComparer{}, Options{DefaultPasses: 3})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses?passes=2", strings.NewReader("RIFFdata"))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if a.passes != 2 {
		t.Errorf("Expected 2 passes, got %d", a.passes)
	}
	if string(a.audio.Data) != "RIFFdata" || a.audio.MIMEType != "audio/wav" {
		t.Errorf("Unexpected audio: %q %q", a.audio.Data, a.audio.MIMEType)
	}
	if id := rec.Header().Get(CorrelationHeader); id == "" || id != a.correlationID {
		t.Errorf("Expected generated correlation ID in header and context, got %q and %q", id, a.correlationID)
	}

	var result analysis.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid result JSON: %v", err)
	}
	if result.ID != "a1" || result.OverallScore != 3.5 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestAnalyze_Multipart(t *testing.T) {
	a := &fakeAnalyzer{}
	h := newTestServer(a, &fakeComparer{}, Options{DefaultPasses: 3})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="talk.mp3"`)
	header.Set("Content-Type", "audio/mpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	part.Write([]byte("ID3mp3"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(CorrelationHeader, "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if a.passes != 3 {
		t.Errorf("Expected default of 3 passes, got %d", a.passes)
	}
	if string(a.audio.Data) != "ID3mp3" || a.audio.MIMEType != "audio/mpeg" {
		t.Errorf("Unexpected audio: %q %q", a.audio.Data, a.audio.MIMEType)
	}
	if got := rec.Header().Get(CorrelationHeader); got != "corr-1" {
		t.Errorf("Expected correlation ID corr-1, got %q", got)
	}
	if a.correlationID != "corr-1" {
		t.Errorf("Expected correlation ID corr-1 in request context, got %q", a.correlationID)
	}
}

func TestAnalyze_OctetStreamIsSniffed(t *testing.T) {
	a := &fakeAnalyzer{}
	h := newTestServer(a, &fakeComparer{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader("data"))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if a.audio.MIMEType != "" {
		t.Errorf("Expected empty MIME type for sniffing, got %q", a.audio.MIMEType)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		contentType string
		body        string
		err         error
		code        int
		message     string
	}{
		{"non-numeric passes", "?passes=x", "audio/wav", "a", nil, http.StatusBadRequest, "passes must be an integer"},
		{"wrong content type", "", "text/plain", "a", nil, http.StatusBadRequest, errUnsupportedMedia.Error()},
		{"missing content type", "", "", "a", nil, http.StatusBadRequest, errUnsupportedMedia.Error()},
		{"invalid pass count", "?passes=4", "audio/wav", "a", analysis.ErrInvalidPassCount, http.StatusBadRequest, analysis.ErrInvalidPassCount.Error()},
		{"empty audio", "", "audio/wav", "", analysis.ErrEmptyAudio, http.StatusBadRequest, analysis.ErrEmptyAudio.Error()},
		{"analysis failed", "", "audio/wav", "a", fmt.Errorf("%w: boom", analysis.ErrAnalysisFailed), http.StatusBadGateway, analysis.FailureMessage},
		{"circuit open", "", "audio/wav", "a", fmt.Errorf("%w: gemini: %w", analysis.ErrAnalysisFailed, resilience.ErrCircuitOpen), http.StatusServiceUnavailable, analysis.FailureMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeAnalyzer{err: tt.err}, &fakeComparer{}, Options{})
			req := httptest.NewRequest(http.MethodPost, "/v1/analyses"+tt.query, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
			if got := decodeError(t, rec); got != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, got)
			}
		})
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, &fakeComparer{}, Options{MaxUploadBytes: 4})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestAnalyze_MethodNotAllowed(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, &fakeComparer{}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestCompare(t *testing.T) {
	c := &fakeComparer{}
	h := newTestServer(&fakeAnalyzer{}, c, Options{})

	body := `{"older": {"id": "o", "overallScore": 2}, "newer": {"id": "n", "overallScore": 4}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/comparisons", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if c.older.ID != "o" || c.newer.ID != "n" {
		t.Errorf("Expected analyses in order, got %q then %q", c.older.ID, c.newer.ID)
	}

	var report comparison.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid report JSON: %v", err)
	}
	if len(report.ImprovementSummary) != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestCompare_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		code    int
		message string
	}{
		{"malformed body", `{"older":`, nil, http.StatusBadRequest, ""},
		{"missing newer", `{"older": {"id": "o"}}`, nil, http.StatusBadRequest, "older and newer analyses are required"},
		{"comparison failed", `{"older": {}, "newer": {}}`, fmt.Errorf("%w: boom", comparison.ErrComparisonFailed), http.StatusBadGateway, comparison.FailureMessage},
		{"circuit open", `{"older": {}, "newer": {}}`, fmt.Errorf("%w: %w", comparison.ErrComparisonFailed, resilience.ErrCircuitOpen), http.StatusServiceUnavailable, comparison.FailureMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeAnalyzer{}, &fakeComparer{err: tt.err}, Options{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/comparisons", strings.NewReader(tt.body)))

			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
			if got := decodeError(t, rec); tt.message != "" && got != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, got)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, &fakeComparer{}, Options{MetricsEnabled: true})

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 for %s, got %d", path, rec.Code)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, &fakeComparer{}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestLiveRoute(t *testing.T) {
	called := false
	live := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	h := New(&fakeAnalyzer{}, &fakeComparer{}, live, Options{Logger: zerolog.Nop()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/live", nil))
	if !called {
		t.Error("Expected live handler to be called")
	}
}
