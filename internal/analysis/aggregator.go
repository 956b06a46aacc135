// Package analysis runs several independent model passes over one recording
// and reconciles them into a single stable result. Scores are averaged
// across passes; the overall score and speaking-time split are always
// derived locally from the merged data.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	MinPasses = 1
	MaxPasses = 3

	// FailureMessage is the user-facing text for ErrAnalysisFailed
	FailureMessage = "The analysis service is temporarily overloaded. Please try again in a moment."
)

var (
	// ErrAnalysisFailed wraps every failure to produce a merged result
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrInvalidPassCount is returned for a pass count outside MinPasses..MaxPasses
	ErrInvalidPassCount = fmt.Errorf("analysis: pass count must be between %d and %d", MinPasses, MaxPasses)
	// ErrEmptyAudio is returned when there is nothing to analyze
	ErrEmptyAudio = errors.New("analysis: audio is empty")
)

// Audio is a recording to analyze
type Audio struct {
	Data     []byte
	MIMEType string // sniffed from Data when empty
}

// DurationProber reports the length of a recording in seconds, or 0 when it
// cannot be determined.
type DurationProber interface {
	Duration(data []byte, mimeType string) float64
}

// DurationProberFunc adapts a function to DurationProber
type DurationProberFunc func(data []byte, mimeType string) float64

// Duration calls f
func (f DurationProberFunc) Duration(data []byte, mimeType string) float64 {
	return f(data, mimeType)
}

// PassPolicy decides how many failed passes an analysis tolerates
type PassPolicy struct {
	// MinSuccessful is the number of passes that must succeed. 0 means every
	// pass must succeed and the first failure cancels the rest. The
	// representative pass must always succeed.
	MinSuccessful int
}

// Options configures an Aggregator
type Options struct {
	Model       string
	Temperature float32
	Policy      PassPolicy
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Aggregator produces merged analyses
type Aggregator struct {
	gen    inference.Generator
	prober DurationProber
	opts   Options
	logger zerolog.Logger
}

// NewAggregator creates an aggregator. A nil prober reports every duration as unknown.
func NewAggregator(gen inference.Generator, prober DurationProber, opts Options) *Aggregator {
	if prober == nil {
		prober = DurationProberFunc(func([]byte, string) float64 { return 0 })
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		gen:    gen,
		prober: prober,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "analysis").Logger(),
	}
}

type passKey struct{}

// PassFromContext returns the dispatch index of the pass a generator call
// belongs to.
func PassFromContext(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(passKey{}).(int)
	return i, ok
}

// Analyze runs passCount passes over audio and merges them. Every failure
// other than invalid input wraps ErrAnalysisFailed.
func (a *Aggregator) Analyze(ctx context.Context, audio Audio, passCount int) (*Result, error) {
	if passCount < MinPasses || passCount > MaxPasses {
		return nil, ErrInvalidPassCount
	}
	if len(audio.Data) == 0 {
		return nil, ErrEmptyAudio
	}

	id := uuid.New().String()
	ctx, span := observability.StartSpan(ctx, "analysis.analyze",
		attribute.String("analysis.id", id),
		attribute.Int("analysis.passes", passCount))
	logger := observability.LoggerFromContext(ctx, a.logger).With().Str("analysis_id", id).Logger()
	start := time.Now()

	result, err := a.analyze(ctx, logger, audio, passCount)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Analysis failed")
	} else {
		result.ID = id
		logger.Info().
			Int("passes_merged", result.PassesMerged).
			Float64("overall_score", result.OverallScore).
			Dur("elapsed", time.Since(start)).
			Msg("Analysis complete")
	}
	observability.RecordAnalysis(err == nil, time.Since(start))
	observability.EndSpan(span, err)
	return result, err
}

func (a *Aggregator) analyze(ctx context.Context, logger zerolog.Logger, audio Audio, passCount int) (*Result, error) {
	var (
		duration float64
		mimeType string
	)
	var prep errgroup.Group
	prep.Go(func() error {
		duration = a.prober.Duration(audio.Data, audio.MIMEType)
		return nil
	})
	prep.Go(func() error {
		mimeType = mediaType(audio)
		return nil
	})
	_ = prep.Wait()

	req := inference.Request{
		Model: a.opts.Model,
		Parts: []inference.Part{
			inference.TextPart(analysisPrompt),
			inference.MediaPart(mimeType, audio.Data),
		},
		Schema:      passSchema(),
		Temperature: a.opts.Temperature,
	}

	passes, err := a.runPasses(ctx, logger, req, passCount)
	if err != nil {
		return nil, err
	}

	rep := passes[0]
	survivors := make([]*pass, 0, len(passes))
	for _, p := range passes {
		if p != nil {
			survivors = append(survivors, p)
		}
	}

	dims := mergeDimensions(survivors)
	turns := rep.turns()
	return &Result{
		Dimensions:                  dims,
		FluencySpeechRatePercentage: mergeFluency(survivors),
		OverallScore:                OverallScore(dims),
		SpeakingTimeDistribution:    SpeakingTime(turns, *rep.PrimarySpeakerLabel, duration),
		Conversation:                turns,
		PrimarySpeakerLabel:         *rep.PrimarySpeakerLabel,
		Feedback:                    rep.Feedback,
		FillerWords:                 rep.FillerWords,
		PersonalizedSuggestions:     rep.PersonalizedSuggestions,
		AudioDurationSeconds:        duration,
		PassesRequested:             passCount,
		PassesMerged:                len(survivors),
		AnalyzedAt:                  a.opts.Now().UTC(),
	}, nil
}

// runPasses issues passCount identical requests in parallel. The returned
// slice is indexed by dispatch order; failed passes are nil.
func (a *Aggregator) runPasses(ctx context.Context, logger zerolog.Logger, req inference.Request, passCount int) ([]*pass, error) {
	passes := make([]*pass, passCount)
	errs := make([]error, passCount)

	allOrNothing := a.opts.Policy.MinSuccessful <= 0
	g, gctx := errgroup.WithContext(ctx)
	if !allOrNothing {
		// siblings keep running when one fails
		g = &errgroup.Group{}
		gctx = ctx
	}

	for i := 0; i < passCount; i++ {
		g.Go(func() error {
			p, err := a.runPass(context.WithValue(gctx, passKey{}, i), req)
			if err != nil {
				logger.Warn().Err(err).Int("pass", i).Msg("Analysis pass failed")
				errs[i] = err
				return fmt.Errorf("pass %d: %w", i, err)
			}
			passes[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil && allOrNothing {
		return nil, err
	}

	if errs[0] != nil {
		return nil, fmt.Errorf("representative pass: %w", errs[0])
	}
	required := a.opts.Policy.MinSuccessful
	if required > passCount {
		required = passCount
	}
	var succeeded int
	for _, p := range passes {
		if p != nil {
			succeeded++
		}
	}
	if succeeded < required {
		return nil, fmt.Errorf("%d of %d passes succeeded, %d required: %w",
			succeeded, passCount, required, errors.Join(errs...))
	}
	return passes, nil
}

func (a *Aggregator) runPass(ctx context.Context, req inference.Request) (*pass, error) {
	i, _ := PassFromContext(ctx)
	ctx, span := observability.StartSpan(ctx, "analysis.pass", attribute.Int("analysis.pass", i))

	raw, err := a.gen.Generate(ctx, req)
	if err != nil {
		observability.RecordAnalysisPass("remote_error")
		observability.EndSpan(span, err)
		return nil, err
	}

	var p pass
	if err := inference.Decode(raw, &p); err != nil {
		observability.RecordAnalysisPass("invalid")
		observability.EndSpan(span, err)
		return nil, err
	}
	observability.RecordAnalysisPass("ok")
	observability.EndSpan(span, nil)
	return &p, nil
}

// mediaType returns the declared MIME type, sniffing generic or missing ones
func mediaType(audio Audio) string {
	declared := strings.TrimSpace(audio.MIMEType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	sniffed := http.DetectContentType(audio.Data)
	if strings.HasPrefix(sniffed, "audio/") || strings.HasPrefix(sniffed, "video/") {
		return sniffed
	}
	return "audio/wav"
}
