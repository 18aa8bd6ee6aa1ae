package scheduling

import (
	"context"
	"errors"
	"log/slog"

	"coral-agents/internal/domain"
)

// Rechecker looks at one timed-out job again.
type Rechecker interface {
	Recheck(ctx context.Context, pj domain.PendingJob) (domain.JobOutcome, error)
}

// RecheckStats summarizes one sweep.
type RecheckStats struct {
	Checked   int
	Succeeded int
	// Unsaved counts finished jobs the catalog did not take. Their rows stay
	// and count an attempt, so the write is retried on the next sweep.
	Unsaved int
	Failed  int
	Pending int
	Dropped int
	Errors  int
}

// PendingRecheck sweeps jobs that outlived the poller's ceiling. Jobs that
// finished are stored and removed; jobs that stay pending past maxAttempts
// sweeps are given up on.
type PendingRecheck struct {
	store       domain.PendingJobStore
	poller      Rechecker
	batch       int
	maxAttempts int
	logger      *slog.Logger
}

// NewPendingRecheck creates the sweep. A non-positive maxAttempts never
// gives up on a job.
func NewPendingRecheck(store domain.PendingJobStore, poller Rechecker, batch, maxAttempts int, logger *slog.Logger) *PendingRecheck {
	if batch <= 0 {
		batch = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingRecheck{store: store, poller: poller, batch: batch, maxAttempts: maxAttempts, logger: logger}
}

// Task wraps the sweep for the Scheduler.
func (r *PendingRecheck) Task(schedule string) Task {
	return Task{
		Name:     "pending_recheck",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := r.Run(ctx)
			return err
		},
	}
}

// Run performs one sweep over the oldest pending jobs.
func (r *PendingRecheck) Run(ctx context.Context) (RecheckStats, error) {
	var stats RecheckStats
	jobs, err := r.store.ListPending(ctx, r.batch)
	if err != nil {
		return stats, domain.WrapOp("PendingRecheck.Run", err)
	}

	var errs []error
	for _, pj := range jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if r.maxAttempts > 0 && pj.Attempts >= r.maxAttempts {
			if err := r.store.DeletePending(ctx, pj.JobID); err != nil {
				errs = append(errs, err)
				continue
			}
			stats.Dropped++
			r.logger.Warn("giving up on pending generation job", "job_id", pj.JobID, "provider", pj.Provider, "attempts", pj.Attempts)
			continue
		}

		stats.Checked++
		out, err := r.poller.Recheck(ctx, pj)
		if err != nil {
			stats.Errors++
			errs = append(errs, err)
			r.logger.Warn("pending job recheck failed", "job_id", pj.JobID, "error", err)
			if terr := r.store.TouchPending(ctx, pj.JobID); terr != nil {
				r.logger.Debug("touch pending job", "job_id", pj.JobID, "error", terr)
			}
			continue
		}

		switch out.State {
		case domain.JobSucceeded:
			if out.Unsaved {
				stats.Unsaved++
				r.logger.Warn("late generation result not stored yet", "job_id", pj.JobID, "attempts", pj.Attempts+1)
				continue
			}
			stats.Succeeded++
			r.logger.Info("late generation result stored", "job_id", pj.JobID, "record_id", out.RecordID)
		case domain.JobFailed:
			stats.Failed++
			r.logger.Info("pending generation job failed", "job_id", pj.JobID, "reason", out.Reason)
		default:
			stats.Pending++
		}
	}

	if len(jobs) > 0 {
		r.logger.Info("pending job sweep finished",
			"checked", stats.Checked, "succeeded", stats.Succeeded, "unsaved", stats.Unsaved,
			"failed", stats.Failed, "pending", stats.Pending, "dropped", stats.Dropped)
	}
	return stats, errors.Join(errs...)
}
