package inference

import (
	"context"
	"time"

	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/rs/zerolog"
)

// Retrying retries transient failures of the wrapped Generator. Overloaded,
// RateLimited and ServerError are retried; anything else propagates at once.
type Retrying struct {
	next   Generator
	config *resilience.RetryConfig
	logger zerolog.Logger
}

// WithRetry wraps next. A nil config uses resilience.DefaultRetryConfig.
func WithRetry(next Generator, config *resilience.RetryConfig, logger zerolog.Logger) *Retrying {
	if config == nil {
		config = resilience.DefaultRetryConfig()
	}
	return &Retrying{
		next:   next,
		config: config,
		logger: logger.With().Str("component", "inference_retry").Logger(),
	}
}

// Generate implements Generator
func (r *Retrying) Generate(ctx context.Context, req Request) ([]byte, error) {
	var out []byte
	err := resilience.RetryNotify(ctx, func(ctx context.Context) error {
		raw, err := r.next.Generate(ctx, req)
		if err != nil {
			return err
		}
		out = raw
		return nil
	}, r.config, IsTransient, func(err error, next int, delay time.Duration) {
		kind := KindOf(err)
		observability.RecordInferenceRetry(kind.String())
		r.logger.Warn().
			Err(err).
			Str("model", req.Model).
			Str("kind", kind.String()).
			Int("attempt", next+1).
			Dur("delay", delay).
			Msg("Transient inference failure, retrying")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
