package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lexiqai/speech-coach/internal/device"
	"github.com/lexiqai/speech-coach/internal/gemini"
	"github.com/lexiqai/speech-coach/internal/live"
	"github.com/spf13/cobra"
)

func newLiveCommand(flags *globalFlags) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Practice a spoken conversation using the local microphone and speaker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			if language == "" {
				language = cfg.LiveDefaultLanguage
			}

			devices, err := device.Open(logger)
			if err != nil {
				return err
			}
			defer devices.Close()

			printer := newTranscriptPrinter(cmd.OutOrStdout())
			controller := live.NewController(
				gemini.NewLiveDialer(cfg.GeminiAPIKey, cfg.GeminiLiveURL, logger),
				devices,
				live.Options{
					Model:            cfg.LiveModel,
					Voice:            cfg.LiveVoice,
					InputSampleRate:  cfg.InputSampleRate,
					OutputSampleRate: cfg.OutputSampleRate,
					FrameSamples:     cfg.CaptureFrameSamples,
					QueueDepth:       cfg.OutboundQueueDepth,
					Observer:         printer,
					Logger:           logger,
				},
			)
			defer controller.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := controller.Start(ctx, language); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Practicing %s. Press Ctrl+C to finish.\n", language)

			select {
			case <-ctx.Done():
				controller.End()
			case <-printer.finished:
			}
			return controller.Err()
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "practice language (default LIVE_DEFAULT_LANGUAGE)")
	return cmd
}

// transcriptPrinter writes each turn once it is final, in transcript order
type transcriptPrinter struct {
	w        io.Writer
	printed  int
	finished chan struct{}
	once     sync.Once
}

func newTranscriptPrinter(w io.Writer) *transcriptPrinter {
	return &transcriptPrinter{w: w, finished: make(chan struct{})}
}

func (p *transcriptPrinter) StateChanged(state live.State, err error) {
	if state == live.StateEnded || state == live.StateError {
		p.once.Do(func() { close(p.finished) })
	}
}

func (p *transcriptPrinter) TranscriptChanged(turns []live.Turn) {
	if len(turns) < p.printed {
		p.printed = 0
	}
	for p.printed < len(turns) && turns[p.printed].IsFinal {
		t := turns[p.printed]
		fmt.Fprintf(p.w, "%-5s  %s\n", t.Speaker, t.Text)
		p.printed++
	}
}
