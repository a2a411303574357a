package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wowmarket/internal/input"
	"wowmarket/internal/runlock"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// ReportWriter renders a finished run to a durable artifact and returns its path.
type ReportWriter interface {
	Write(report RunReport) (string, error)
}

// Job is one full ingestion as triggered by the CLI, cron or the ops API:
// take the lock, read the item list, run the pipeline, write the reports.
type Job struct {
	Service   *IngestService
	ItemsFile string
	Lock      runlock.Locker
	Writers   []ReportWriter
	Logger    *zap.Logger
}

func (j *Job) Run(ctx context.Context, trigger string) (RunReport, error) {
	if j == nil || j.Service == nil {
		return RunReport{}, fmt.Errorf("ingest job not configured")
	}
	if j.Lock != nil {
		ok, err := j.Lock.TryLock(ctx)
		if err != nil {
			return RunReport{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return RunReport{}, ErrRunInProgress
		}
		defer func() {
			// The run context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.Lock.Unlock(unlockCtx); err != nil && j.Logger != nil {
				j.Logger.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}

	entries, err := input.ReadItems(j.ItemsFile)
	if err != nil {
		return RunReport{}, fmt.Errorf("read items: %w", err)
	}
	if j.Logger != nil {
		j.Logger.Info("item list loaded", zap.String("file", j.ItemsFile), zap.Int("items", len(entries)))
	}

	report, runErr := j.Service.Run(ctx, trigger, entries)
	for _, w := range j.Writers {
		path, err := w.Write(report)
		if err != nil {
			if j.Logger != nil {
				j.Logger.Warn("write run report failed", zap.Error(err))
			}
			continue
		}
		if j.Logger != nil {
			j.Logger.Info("run report written", zap.String("path", path))
		}
	}
	return report, runErr
}
