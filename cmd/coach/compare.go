package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/lexiqai/speech-coach/internal/analysis"
	"github.com/lexiqai/speech-coach/internal/comparison"
	"github.com/spf13/cobra"
)

func newCompareCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compare OLDER.json NEWER.json",
		Short: "Compare two saved analyses of the same speaker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			older, err := readResult(args[0])
			if err != nil {
				return err
			}
			newer, err := readResult(args[1])
			if err != nil {
				return err
			}

			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			gen, err := newGenerator(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			reporter := comparison.NewReporter(gen, cfg.ComparisonModel, cfg.AnalysisTemperature, logger)
			report, err := reporter.Compare(cmd.Context(), older, newer)
			if err != nil {
				logger.Debug().Err(err).Msg("Comparison failed")
				return errors.New(comparison.FailureMessage)
			}
			return render(cmd.OutOrStdout(), flags.output, report)
		},
	}
}

// readResult loads an analysis previously written with --output json
func readResult(path string) (*analysis.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result analysis.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &result, nil
}
