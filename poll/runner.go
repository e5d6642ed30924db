package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Alerter notifies operators about failed cycles.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Runner repeats a cycle forever: run it, log and alert on failure, then idle
// for a fixed interval. There is no backoff; a failed cycle is simply retried
// after the same interval as a successful one.
type Runner struct {
	name     string
	cycle    func(ctx context.Context) error
	interval time.Duration
	alerter  Alerter
	logger   *slog.Logger
	trigger  chan struct{}
}

// NewRunner creates a runner for cycle. alerter may be nil.
func NewRunner(name string, cycle func(ctx context.Context) error, interval time.Duration, alerter Alerter, logger *slog.Logger) *Runner {
	return &Runner{
		name:     name,
		cycle:    cycle,
		interval: interval,
		alerter:  alerter,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger cuts the current idle wait short. It never blocks.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run executes cycles until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner starting", "runner", r.name, "interval", r.interval.String())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.runOnce(ctx)

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("Runner stopping", "runner", r.name)
			return ctx.Err()
		case <-timer.C:
		case <-r.trigger:
			timer.Stop()
			r.logger.Info("Cycle triggered", "runner", r.name)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	err := r.cycle(ctx)
	if err == nil {
		r.logger.Info("Cycle completed", "runner", r.name, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	if ctx.Err() != nil {
		return
	}

	r.logger.Error("Cycle failed, retrying after interval",
		"runner", r.name,
		"interval", r.interval.String(),
		"error", err)

	if r.alerter == nil {
		return
	}
	if alertErr := r.alerter.Alert(ctx, fmt.Sprintf("%s cycle failed: %v", r.name, err)); alertErr != nil {
		r.logger.Warn("Failed to send alert", "runner", r.name, "error", alertErr)
	}
}
