// Package worker runs the periodic background jobs (the "cron" loop).
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one sweep. Errors are logged and the loop keeps going.
type Job func(ctx context.Context) error

// Run calls job every interval until ctx is cancelled. It blocks, so start it
// in its own goroutine.
func Run(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, job Job) {
	if interval <= 0 {
		interval = time.Minute
	}
	log := logger.With(zap.String("job", name))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("background worker started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("background worker stopped")
			return
		case <-ticker.C:
			runOnce(ctx, log, job)
		}
	}
}

func runOnce(ctx context.Context, log *zap.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("background job panicked", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		log.Error("background job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	log.Debug("background job done", zap.Duration("took", time.Since(start)))
}
