// Command coach runs speech analyses, comparisons and live practice
// sessions from the terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lexiqai/speech-coach/internal/config"
	"github.com/lexiqai/speech-coach/internal/gemini"
	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	output   string
	logLevel string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "coach",
		Short:        "Speech coaching from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "json", "output format: json or yaml")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newAnalyzeCommand(flags),
		newCompareCommand(flags),
		newLiveCommand(flags),
	)
	return root
}

// setup loads configuration and the console logger
func setup(flags *globalFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	// logs go to stderr so command output stays parseable
	observability.InitLogger(level, true)
	return cfg, observability.GetLogger(), nil
}

// newGenerator builds the retrying Gemini generator shared by batch commands
func newGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (inference.Generator, error) {
	client, err := gemini.NewClient(ctx, gemini.Options{
		APIKey:                     cfg.GeminiAPIKey,
		CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout: cfg.CircuitBreakerResetTimeout,
		Logger:                     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return inference.WithRetry(client, cfg.RetryConfig(), logger), nil
}
