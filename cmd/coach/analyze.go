package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/lexiqai/speech-coach/internal/analysis"
	"github.com/lexiqai/speech-coach/internal/probe"
	"github.com/spf13/cobra"
)

func newAnalyzeCommand(flags *globalFlags) *cobra.Command {
	var passes int
	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Analyze a recording and print the merged result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("passes") {
				passes = cfg.AnalysisPasses
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			gen, err := newGenerator(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			aggregator := analysis.NewAggregator(gen, probe.New(logger), analysis.Options{
				Model:       cfg.AnalysisModel,
				Temperature: cfg.AnalysisTemperature,
				Policy:      analysis.PassPolicy{MinSuccessful: cfg.AnalysisMinSuccessfulPasses},
				Logger:      logger,
			})

			result, err := aggregator.Analyze(cmd.Context(), analysis.Audio{
				Data:     data,
				MIMEType: mime.TypeByExtension(filepath.Ext(args[0])),
			}, passes)
			if err != nil {
				logger.Debug().Err(err).Msg("Analysis failed")
				return errors.New(analysis.FailureMessage)
			}
			return render(cmd.OutOrStdout(), flags.output, result)
		},
	}
	cmd.Flags().IntVarP(&passes, "passes", "p", analysis.MaxPasses,
		fmt.Sprintf("independent passes to merge (%d-%d)", analysis.MinPasses, analysis.MaxPasses))
	return cmd
}
