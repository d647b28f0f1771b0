package paygate

import (
	"time"

	"github.com/x402labs/paygate/facilitator"
	"github.com/x402labs/paygate/logger"
	"github.com/x402labs/paygate/metrics"
)

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

// WithFacilitator supplies a pre-built facilitator client, replacing
// the one normally constructed from configuration.
func WithFacilitator(c *facilitator.Client) Option {
	return func(e *Engine) {
		e.fac = c
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}
