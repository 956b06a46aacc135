// Package comparison asks the model for a qualitative diff between two
// merged analyses of the same speaker.
package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/speech-coach/internal/analysis"
	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// FailureMessage is the user-facing text for ErrComparisonFailed
const FailureMessage = "Could not generate the comparison. Please try again."

var (
	// ErrComparisonFailed wraps every failure to produce a report
	ErrComparisonFailed = errors.New("comparison failed")
	// ErrMissingAnalysis is returned when either analysis is nil
	ErrMissingAnalysis = errors.New("comparison: both analyses are required")
)

// DimensionChange is one dimension's score in both analyses
type DimensionChange struct {
	Name     string  `json:"name"`
	OldScore float64 `json:"oldScore"`
	NewScore float64 `json:"newScore"`
}

// FluencyChange is the fluency percentage in both analyses
type FluencyChange struct {
	OldPercentage float64 `json:"oldPercentage"`
	NewPercentage float64 `json:"newPercentage"`
}

// Report is the model's comparison of two analyses
type Report struct {
	DimensionChanges   []DimensionChange `json:"dimensionChanges"`
	FluencyChange      FluencyChange     `json:"fluencyChange"`
	ImprovementSummary []string          `json:"improvementSummary"`
	AreasForNextFocus  []string          `json:"areasForNextFocus"`
}

// reportWire is the model's raw reply. Numbers are pointers so an absent
// score fails validation instead of decoding as zero.
type reportWire struct {
	DimensionChanges   []dimensionChangeWire `json:"dimensionChanges"`
	FluencyChange      *fluencyChangeWire    `json:"fluencyChange"`
	ImprovementSummary []string              `json:"improvementSummary"`
	AreasForNextFocus  []string              `json:"areasForNextFocus"`
}

type dimensionChangeWire struct {
	Name     string   `json:"name"`
	OldScore *float64 `json:"oldScore"`
	NewScore *float64 `json:"newScore"`
}

type fluencyChangeWire struct {
	OldPercentage *float64 `json:"oldPercentage"`
	NewPercentage *float64 `json:"newPercentage"`
}

// Validate implements inference.Validator
func (w *reportWire) Validate() error {
	if w.DimensionChanges == nil {
		return inference.SchemaError("dimensionChanges", "missing")
	}
	for i, c := range w.DimensionChanges {
		field := fmt.Sprintf("dimensionChanges[%d]", i)
		if c.Name == "" {
			return inference.SchemaError(field+".name", "missing")
		}
		if c.OldScore == nil {
			return inference.SchemaError(field+".oldScore", "missing")
		}
		if c.NewScore == nil {
			return inference.SchemaError(field+".newScore", "missing")
		}
	}
	if w.FluencyChange == nil {
		return inference.SchemaError("fluencyChange", "missing")
	}
	if w.FluencyChange.OldPercentage == nil {
		return inference.SchemaError("fluencyChange.oldPercentage", "missing")
	}
	if w.FluencyChange.NewPercentage == nil {
		return inference.SchemaError("fluencyChange.newPercentage", "missing")
	}
	if w.ImprovementSummary == nil {
		return inference.SchemaError("improvementSummary", "missing")
	}
	if w.AreasForNextFocus == nil {
		return inference.SchemaError("areasForNextFocus", "missing")
	}
	return nil
}

// report converts a validated reply
func (w *reportWire) report() *Report {
	changes := make([]DimensionChange, len(w.DimensionChanges))
	for i, c := range w.DimensionChanges {
		changes[i] = DimensionChange{Name: c.Name, OldScore: *c.OldScore, NewScore: *c.NewScore}
	}
	return &Report{
		DimensionChanges: changes,
		FluencyChange: FluencyChange{
			OldPercentage: *w.FluencyChange.OldPercentage,
			NewPercentage: *w.FluencyChange.NewPercentage,
		},
		ImprovementSummary: w.ImprovementSummary,
		AreasForNextFocus:  w.AreasForNextFocus,
	}
}

// Reporter produces comparison reports
type Reporter struct {
	gen         inference.Generator
	model       string
	temperature float32
	logger      zerolog.Logger
}

// NewReporter creates a reporter using model
func NewReporter(gen inference.Generator, model string, temperature float32, logger zerolog.Logger) *Reporter {
	return &Reporter{
		gen:         gen,
		model:       model,
		temperature: temperature,
		logger:      logger.With().Str("component", "comparison").Logger(),
	}
}

// Compare describes how newer differs from older. Any remote or parse
// failure wraps ErrComparisonFailed; there is no local fallback.
func (r *Reporter) Compare(ctx context.Context, older, newer *analysis.Result) (*Report, error) {
	if older == nil || newer == nil {
		return nil, ErrMissingAnalysis
	}

	ctx, span := observability.StartSpan(ctx, "comparison.compare",
		attribute.String("comparison.older", older.ID),
		attribute.String("comparison.newer", newer.ID))
	logger := observability.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	report, err := r.compare(ctx, older, newer)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrComparisonFailed, err)
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Comparison failed")
	} else {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("Comparison complete")
	}
	observability.RecordComparison(err == nil)
	observability.EndSpan(span, err)
	return report, err
}

func (r *Reporter) compare(ctx context.Context, older, newer *analysis.Result) (*Report, error) {
	olderJSON, err := json.Marshal(older)
	if err != nil {
		return nil, fmt.Errorf("encode older analysis: %w", err)
	}
	newerJSON, err := json.Marshal(newer)
	if err != nil {
		return nil, fmt.Errorf("encode newer analysis: %w", err)
	}

	raw, err := r.gen.Generate(ctx, inference.Request{
		Model: r.model,
		Parts: []inference.Part{
			inference.TextPart(comparisonPrompt),
			inference.TextPart("Older analysis:\n" + string(olderJSON)),
			inference.TextPart("Newer analysis:\n" + string(newerJSON)),
		},
		Schema:      reportSchema(),
		Temperature: r.temperature,
	})
	if err != nil {
		return nil, err
	}

	var reply reportWire
	if err := inference.Decode(raw, &reply); err != nil {
		return nil, err
	}
	return reply.report(), nil
}

const comparisonPrompt = `You are a speech coach comparing two analyses of the same speaker, an older one and a newer one.
For every dimension present in either analysis report the old and new score. Report the old and new fluency percentage.
Summarize what improved and list the areas to focus on next. Return JSON only, matching the response schema.`

func reportSchema() *genai.Schema {
	strList := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"dimensionChanges": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":     {Type: genai.TypeString},
						"oldScore": {Type: genai.TypeNumber},
						"newScore": {Type: genai.TypeNumber},
					},
					Required: []string{"name", "oldScore", "newScore"},
				},
			},
			"fluencyChange": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"oldPercentage": {Type: genai.TypeNumber},
					"newPercentage": {Type: genai.TypeNumber},
				},
				Required: []string{"oldPercentage", "newPercentage"},
			},
			"improvementSummary": strList,
			"areasForNextFocus":  strList,
		},
		Required: []string{"dimensionChanges", "fluencyChange", "improvementSummary", "areasForNextFocus"},
	}
}
