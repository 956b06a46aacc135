// Package server exposes batch analysis, comparison and the live browser
// bridge over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/speech-coach/internal/analysis"
	"github.com/lexiqai/speech-coach/internal/comparison"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// CorrelationHeader carries the request's correlation ID in both directions
const CorrelationHeader = "X-Correlation-ID"

// Analyzer runs merged multi-pass analyses
type Analyzer interface {
	Analyze(ctx context.Context, audio analysis.Audio, passCount int) (*analysis.Result, error)
}

// Comparer produces comparison reports
type Comparer interface {
	Compare(ctx context.Context, older, newer *analysis.Result) (*comparison.Report, error)
}

// Options configures the HTTP surface
type Options struct {
	DefaultPasses  int
	MaxUploadBytes int64
	MetricsEnabled bool
	Readiness      []observability.DependencyCheck
	Logger         zerolog.Logger
}

// Server routes HTTP requests to the coaching components
type Server struct {
	analyzer Analyzer
	comparer Comparer
	live     http.Handler
	opts     Options
	logger   zerolog.Logger
}

// New creates a server. live may be nil to disable the browser bridge.
func New(analyzer Analyzer, comparer Comparer, live http.Handler, opts Options) *Server {
	if opts.DefaultPasses <= 0 {
		opts.DefaultPasses = analysis.MaxPasses
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	return &Server{
		analyzer: analyzer,
		comparer: comparer,
		live:     live,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the routing mux
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/analyses", s.withLogging(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("POST /v1/comparisons", s.withLogging(http.HandlerFunc(s.handleCompare)))
	if s.live != nil {
		// the bridge hijacks the connection, so it bypasses the status recorder
		mux.Handle("GET /v1/live", s.live)
	}
	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(s.opts.Readiness...))
	if s.opts.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	passes := s.opts.DefaultPasses
	if raw := r.URL.Query().Get("passes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "passes must be an integer")
			return
		}
		passes = n
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	upload, err := readAudio(r)
	if err != nil {
		s.writeInputError(w, err)
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), upload, passes)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrInvalidPassCount), errors.Is(err, analysis.ErrEmptyAudio):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, resilience.ErrCircuitOpen):
			observability.RecordError("circuit_open", "analysis")
			writeError(w, http.StatusServiceUnavailable, analysis.FailureMessage)
		default:
			observability.RecordError("analysis_failed", "analysis")
			writeError(w, http.StatusBadGateway, analysis.FailureMessage)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ComparisonRequest is the body of POST /v1/comparisons
type ComparisonRequest struct {
	Older *analysis.Result `json:"older"`
	Newer *analysis.Result `json:"newer"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	var req ComparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeInputError(w, fmt.Errorf("invalid comparison request: %w", err))
		return
	}

	report, err := s.comparer.Compare(r.Context(), req.Older, req.Newer)
	if err != nil {
		switch {
		case errors.Is(err, comparison.ErrMissingAnalysis):
			writeError(w, http.StatusBadRequest, "older and newer analyses are required")
		case errors.Is(err, resilience.ErrCircuitOpen):
			observability.RecordError("circuit_open", "comparison")
			writeError(w, http.StatusServiceUnavailable, comparison.FailureMessage)
		default:
			observability.RecordError("comparison_failed", "comparison")
			writeError(w, http.StatusBadGateway, comparison.FailureMessage)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

var errUnsupportedMedia = errors.New("expected multipart form with an audio file or an audio/* body")

// readAudio accepts a multipart upload with an "audio" file field or a raw
// audio body.
func readAudio(r *http.Request) (analysis.Audio, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return analysis.Audio{}, errUnsupportedMedia
	}

	switch {
	case mediaType == "multipart/form-data":
		file, header, err := r.FormFile("audio")
		if err != nil {
			return analysis.Audio{}, fmt.Errorf("audio file: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return analysis.Audio{}, err
		}
		return analysis.Audio{Data: data, MIMEType: audioType(header.Header.Get("Content-Type"))}, nil

	case strings.HasPrefix(mediaType, "audio/"), mediaType == "application/octet-stream":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return analysis.Audio{}, err
		}
		return analysis.Audio{Data: data, MIMEType: audioType(mediaType)}, nil
	}
	return analysis.Audio{}, errUnsupportedMedia
}

// audioType keeps audio/* types; anything else is sniffed downstream
func audioType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		return ""
	}
	return mediaType
}

func (s *Server) writeInputError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging tags the request with a correlation ID and logs its outcome
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = observability.NewCorrelationID()
		}
		w.Header().Set(CorrelationHeader, correlationID)
		r = r.WithContext(observability.ContextWithCorrelationID(r.Context(), correlationID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		event := s.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("correlation_id", correlationID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}
