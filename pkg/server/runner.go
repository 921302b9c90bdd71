// Package server ties the oracle core to its periodic driver and API.
package server

import (
	"context"
	"errors"
	"time"

	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/oracle"
)

// Runner periodically invokes the aggregator's update cycle. The aggregator
// itself decides whether an epoch is due, so the interval only bounds how
// quickly a freshly elapsed epoch is picked up; premature calls are a normal
// part of operation.
type Runner struct {
	aggregator *oracle.Aggregator
	interval   time.Duration
	logger     *logging.Logger
}

// NewRunner creates an update-cycle driver.
func NewRunner(agg *oracle.Aggregator, interval time.Duration, logger *logging.Logger) *Runner {
	return &Runner{
		aggregator: agg,
		interval:   interval,
		logger:     logger,
	}
}

// Run drives update cycles until the context is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Starting update runner", "interval", r.interval.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Update runner stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	for {
		err := r.aggregator.Update(cycleCtx)
		switch {
		case err == nil:
		case errors.Is(err, oracle.ErrPrimaryBacklog):
			// Re-invoke immediately: each call consumes another batch of
			// rounds until the suspended epoch read completes.
			r.logger.Debug("Primary feed backlog, resuming", "detail", err.Error())
			if cycleCtx.Err() == nil {
				continue
			}
		case errors.Is(err, oracle.ErrEpochNotElapsed):
			r.logger.Debug("No epoch due", "detail", err.Error())
		default:
			r.logger.Error("Update cycle failed", "error", err.Error())
		}
		return
	}
}
