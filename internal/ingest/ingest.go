package ingest

import (
	"context"
	"log/slog"
	"time"

	"soundfault/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Job, job model.Job, logger *slog.Logger) bool {
	select {
	case out <- job:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("job channel full, dropping job", "job_id", job.ID, "source", job.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
