package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/speech-coach/internal/analysis"
	"github.com/lexiqai/speech-coach/internal/comparison"
	"github.com/lexiqai/speech-coach/internal/config"
	"github.com/lexiqai/speech-coach/internal/gemini"
	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/live"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/probe"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/lexiqai/speech-coach/internal/server"
	"github.com/lexiqai/speech-coach/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if cfg.TracingEnabled {
		shutdownTracing := observability.InitTracing()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("analysis_model", cfg.AnalysisModel).
		Str("live_model", cfg.LiveModel).
		Int("analysis_passes", cfg.AnalysisPasses).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech Coach Service starting")

	client, err := gemini.NewClient(context.Background(), gemini.Options{
		APIKey:                     cfg.GeminiAPIKey,
		CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout: cfg.CircuitBreakerResetTimeout,
		Logger:                     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	gen := inference.WithRetry(client, cfg.RetryConfig(), logger)

	aggregator := analysis.NewAggregator(gen, probe.New(logger), analysis.Options{
		Model:       cfg.AnalysisModel,
		Temperature: cfg.AnalysisTemperature,
		Policy:      analysis.PassPolicy{MinSuccessful: cfg.AnalysisMinSuccessfulPasses},
		Logger:      logger,
	})
	reporter := comparison.NewReporter(gen, cfg.ComparisonModel, cfg.AnalysisTemperature, logger)

	bridge := stream.NewHandler(
		gemini.NewLiveDialer(cfg.GeminiAPIKey, cfg.GeminiLiveURL, logger),
		stream.Options{
			Live: live.Options{
				Model:            cfg.LiveModel,
				Voice:            cfg.LiveVoice,
				InputSampleRate:  cfg.InputSampleRate,
				OutputSampleRate: cfg.OutputSampleRate,
				FrameSamples:     cfg.CaptureFrameSamples,
				QueueDepth:       cfg.OutboundQueueDepth,
			},
			DefaultLanguage: cfg.LiveDefaultLanguage,
		},
		logger,
	)

	// Readiness reports the Gemini circuit breaker; configuration was
	// validated at startup.
	breakerCheck := func(ctx context.Context) (bool, error) {
		if state := client.Breaker().GetState(); state == resilience.StateOpen {
			return false, fmt.Errorf("circuit breaker is %s", state)
		}
		return true, nil
	}

	srv := server.New(aggregator, reporter, bridge, server.Options{
		DefaultPasses:  cfg.AnalysisPasses,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MetricsEnabled: cfg.MetricsEnabled,
		Readiness: []observability.DependencyCheck{
			{Name: "gemini", Check: breakerCheck},
		},
		Logger: logger,
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Analyses upload audio and wait on several model passes
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("live_endpoint", fmt.Sprintf("ws://localhost:%s/v1/live", cfg.Port)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
