// Package scheduler triggers check-capsules runs on a fixed interval
// inside the service process.
package scheduler

import (
	"context"
	"errors"
	"time"

	"capsule-notifier/internal/common/logger"
	checkcapsules "capsule-notifier/internal/workers/capsule/check-capsules"
)

type Runner interface {
	Execute(ctx context.Context, input *checkcapsules.Input) (*checkcapsules.Output, error)
}

type Ticker struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	logger   logger.Logger
}

// New returns a Ticker; each run is bounded by timeout when positive.
func New(runner Runner, interval, timeout time.Duration, log logger.Logger) *Ticker {
	return &Ticker{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// Run triggers a run every interval until ctx is cancelled. A tick that
// lands while a run is still in flight is dropped.
func (t *Ticker) Run(ctx context.Context) {
	t.logger.Info("scheduler started", map[string]interface{}{"interval": t.interval.String()})
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler stopped", nil)
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	output, err := t.runner.Execute(ctx, &checkcapsules.Input{Trigger: checkcapsules.TriggerScheduler})
	switch {
	case errors.Is(err, checkcapsules.ErrRunInProgress):
		t.logger.Debug("previous run still in progress, tick skipped", nil)
	case err != nil:
		t.logger.Error("scheduled run failed", map[string]interface{}{"error": err})
	default:
		t.logger.Debug("scheduled run finished", map[string]interface{}{"message": output.Message})
	}
}
