// Package jobpoller drives long-running generation jobs from submission to a
// terminal result and records each success in the catalog at most once. The
// catalog keys songs by task id, so the guarantee holds across restarts.
package jobpoller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/tracer"
	"coral-agents/internal/usecase/backoff"
)

// pendingSaveTimeout bounds the bookkeeping write after a timeout.
const pendingSaveTimeout = 5 * time.Second

// Config holds the polling cadence.
type Config struct {
	// Grace is the wait before the first status check.
	Grace time.Duration
	// Interval is the fixed pause between status checks.
	Interval time.Duration
	// Ceiling bounds the polling phase in wall-clock time.
	Ceiling time.Duration
	// StatusRetry wraps each status call.
	StatusRetry backoff.Policy
}

// Defaults returns the observed provider timings.
func Defaults() Config {
	return Config{
		Grace:       30 * time.Second,
		Interval:    15 * time.Second,
		Ceiling:     300 * time.Second,
		StatusRetry: backoff.Policy{Kind: backoff.KindExponential, Base: 5 * time.Second, Cap: time.Minute, Max: 3},
	}
}

// Providers picks generation backends for a request and finds the backend
// that owns a job.
type Providers interface {
	For(req domain.GenerationRequest) []domain.GenerationProvider
	Get(name string) (domain.GenerationProvider, bool)
}

// Deps are the collaborators of a Poller. Pending, Sleep and Now are optional.
type Deps struct {
	Providers Providers
	Catalog   domain.Catalog
	Pending   domain.PendingJobStore
	Logger    *slog.Logger
	Sleep     backoff.SleepFunc
	Now       func() time.Time
}

// Poller submits jobs and waits for them.
type Poller struct {
	cfg       Config
	providers Providers
	catalog   domain.Catalog
	pending   domain.PendingJobStore
	logger    *slog.Logger
	sleep     backoff.SleepFunc
	now       func() time.Time

	// writes collapses concurrent inserts for one job.
	writes singleflight.Group

	bg   context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates a Poller.
func New(cfg Config, deps Deps) *Poller {
	if deps.Sleep == nil {
		deps.Sleep = backoff.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	bg, stop := context.WithCancel(context.Background())
	return &Poller{
		cfg:       cfg,
		providers: deps.Providers,
		catalog:   deps.Catalog,
		pending:   deps.Pending,
		logger:    deps.Logger,
		sleep:     deps.Sleep,
		now:       deps.Now,
		bg:        bg,
		stop:      stop,
	}
}

// Submit hands req to the first provider that accepts it. Only a synchronous
// rejection moves on to the next provider; any other error fails fast.
func (p *Poller) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationJob, error) {
	candidates := p.providers.For(req)
	if len(candidates) == 0 {
		return nil, domain.NewSubSystemError("generation", "Poller.Submit", domain.ErrNoProvider, "no provider configured")
	}

	var rejections []error
	for _, prov := range candidates {
		id, err := prov.Create(ctx, req)
		if err == nil {
			p.logger.Info("generation job accepted", "provider", prov.Name(), "job_id", id)
			return &domain.GenerationJob{
				ID:          id,
				Provider:    prov.Name(),
				SubmittedAt: p.now(),
				State:       domain.JobPending,
				Request:     req,
			}, nil
		}
		if !errors.Is(err, domain.ErrProviderRejected) {
			return nil, domain.WrapOp("Poller.Submit", err)
		}
		p.logger.Warn("generation provider rejected request", "provider", prov.Name(), "error", err)
		rejections = append(rejections, err)
	}
	return nil, domain.WrapOp("Poller.Submit", fmt.Errorf("%w: %w", domain.ErrNoProvider, errors.Join(rejections...)))
}

// AwaitResult polls job until it succeeds, fails or the ceiling passes. A
// success is written to the catalog once; a failed write still reports
// success with Unsaved set and leaves the job pending for a later sweep.
func (p *Poller) AwaitResult(ctx context.Context, job *domain.GenerationJob) domain.JobOutcome {
	ctx, span := tracer.StartSpan(ctx, "jobpoller.await",
		trace.WithAttributes(
			tracer.StringAttr("job.id", job.ID),
			tracer.StringAttr("job.provider", job.Provider),
		),
	)
	defer span.End()

	prov, ok := p.providers.Get(job.Provider)
	if !ok {
		err := domain.NewSubSystemError("generation", "Poller.AwaitResult", domain.ErrProviderNotFound, job.Provider)
		tracer.RecordError(span, err)
		job.State, job.Reason = domain.JobFailed, err.Error()
		return p.outcome(job)
	}

	if err := p.sleep(ctx, p.cfg.Grace); err != nil {
		return p.timedOut(ctx, job, err)
	}

	deadline := p.now().Add(p.cfg.Ceiling)
	lastProgress := -1
	for {
		st, err := p.status(ctx, prov, job.ID)
		switch {
		case err != nil && ctx.Err() != nil:
			return p.timedOut(ctx, job, ctx.Err())
		case err != nil:
			p.logger.Warn("generation status unavailable", "job_id", job.ID, "error", err)
		default:
			state := job.Apply(st)
			if job.Progress != lastProgress {
				lastProgress = job.Progress
				p.logger.Info("generation progress", "job_id", job.ID, "progress", job.Progress, "state", string(state))
			}
			if state.Terminal() {
				span.SetAttributes(tracer.StringAttr("job.state", string(state)))
				if state == domain.JobFailed {
					tracer.RecordError(span, fmt.Errorf("%w: %s", domain.ErrJobFailed, job.Reason))
					return p.outcome(job)
				}
				out := p.outcome(job)
				out.RecordID, out.Unsaved = p.store(ctx, job)
				if out.Unsaved {
					p.savePending(ctx, job)
				}
				tracer.SetOK(span)
				return out
			}
		}

		if !p.now().Add(p.cfg.Interval).Before(deadline) {
			return p.timedOut(ctx, job, nil)
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return p.timedOut(ctx, job, err)
		}
	}
}

// Run submits req and waits for the result.
func (p *Poller) Run(ctx context.Context, req domain.GenerationRequest) (domain.JobOutcome, error) {
	job, err := p.Submit(ctx, req)
	if err != nil {
		return domain.JobOutcome{State: domain.JobFailed, Reason: err.Error()}, err
	}
	return p.AwaitResult(ctx, job), nil
}

// Start submits req and waits for the result on its own goroutine, calling
// onDone with the outcome. Waiting is bound to the Poller, not to ctx, so it
// outlives the request that started it; Close stops it.
func (p *Poller) Start(ctx context.Context, req domain.GenerationRequest, onDone func(domain.JobOutcome)) (*domain.GenerationJob, error) {
	job, err := p.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		out := p.AwaitResult(p.bg, job)
		if onDone != nil {
			onDone(out)
		}
	}()
	return job, nil
}

// Close stops background waits and blocks until their callbacks return.
func (p *Poller) Close() {
	p.stop()
	p.wg.Wait()
}

// Check queries a job once. A success is recorded like in AwaitResult, and
// a job that reached a terminal state leaves the pending store.
func (p *Poller) Check(ctx context.Context, provider, jobID string) (domain.JobOutcome, error) {
	prov, ok := p.providers.Get(provider)
	if !ok {
		return domain.JobOutcome{}, domain.NewSubSystemError("generation", "Poller.Check", domain.ErrProviderNotFound, provider)
	}
	st, err := p.status(ctx, prov, jobID)
	if err != nil {
		return domain.JobOutcome{}, domain.WrapOp("Poller.Check", err)
	}

	job := &domain.GenerationJob{ID: jobID, Provider: provider, State: domain.JobPending}
	pj, tracked := p.lookupPending(ctx, jobID)
	if tracked {
		job.Request, job.SubmittedAt = pj.Request, pj.CreatedAt
	}
	job.Apply(st)
	out := p.outcome(job)

	switch {
	case out.State == domain.JobSucceeded:
		out.RecordID, out.Unsaved = p.store(ctx, job)
		if out.Unsaved {
			p.savePending(ctx, job)
		} else if tracked {
			p.forget(ctx, jobID)
		}
	case out.State == domain.JobFailed && tracked:
		p.forget(ctx, jobID)
	}
	return out, nil
}

// Recheck looks at one timed-out job again. Terminal jobs leave the pending
// store; others, and successes the catalog did not take, have their attempt
// count bumped so the sweep eventually gives up on them.
func (p *Poller) Recheck(ctx context.Context, pj domain.PendingJob) (domain.JobOutcome, error) {
	prov, ok := p.providers.Get(pj.Provider)
	if !ok {
		return domain.JobOutcome{}, domain.NewSubSystemError("generation", "Poller.Recheck", domain.ErrProviderNotFound, pj.Provider)
	}
	st, err := p.status(ctx, prov, pj.JobID)
	if err != nil {
		return domain.JobOutcome{}, domain.WrapOp("Poller.Recheck", err)
	}

	job := &domain.GenerationJob{ID: pj.JobID, Provider: pj.Provider, SubmittedAt: pj.CreatedAt, State: domain.JobPending, Request: pj.Request}
	state := job.Apply(st)
	out := p.outcome(job)
	switch state {
	case domain.JobSucceeded:
		out.RecordID, out.Unsaved = p.store(ctx, job)
		if out.Unsaved {
			return out, p.pending.TouchPending(ctx, pj.JobID)
		}
		return out, p.pending.DeletePending(ctx, pj.JobID)
	case domain.JobFailed:
		return out, p.pending.DeletePending(ctx, pj.JobID)
	default:
		out.State = domain.JobTimedOut
		return out, p.pending.TouchPending(ctx, pj.JobID)
	}
}

func (p *Poller) status(ctx context.Context, prov domain.GenerationProvider, jobID string) (domain.JobStatus, error) {
	var st domain.JobStatus
	err := backoff.Retry(ctx, p.cfg.StatusRetry, p.sleep, func(ctx context.Context) error {
		var err error
		st, err = prov.Status(ctx, jobID)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	})
	return st, err
}

// store writes the song row for job. Concurrent calls for the same job share
// one insert, and the catalog turns a repeat into the stored row's id. It
// returns the record id and whether the write failed.
func (p *Poller) store(ctx context.Context, job *domain.GenerationJob) (string, bool) {
	rec := songRecord(job)
	v, err, shared := p.writes.Do(job.ID, func() (any, error) {
		return p.catalog.InsertSong(context.WithoutCancel(ctx), rec)
	})
	if err != nil {
		p.logger.Error("generation succeeded but catalog write failed",
			"job_id", job.ID, "audio_url", rec.AudioURL, "error", err)
		return "", true
	}
	id := v.(string)
	if !shared {
		p.logger.Info("song stored", "job_id", job.ID, "record_id", id)
	}
	return id, false
}

func (p *Poller) timedOut(ctx context.Context, job *domain.GenerationJob, cause error) domain.JobOutcome {
	if !job.State.Terminal() {
		job.State = domain.JobTimedOut
		job.Reason = "still pending after the polling ceiling"
		if cause != nil {
			job.Reason = "polling stopped: " + cause.Error()
		}
	}
	p.logger.Warn("generation job timed out", "job_id", job.ID, "provider", job.Provider, "progress", job.Progress)

	p.savePending(ctx, job)
	return p.outcome(job)
}

// savePending records job for a later recheck. Saving a job twice is a no-op.
func (p *Poller) savePending(ctx context.Context, job *domain.GenerationJob) {
	if p.pending == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pendingSaveTimeout)
	defer cancel()
	err := p.pending.SavePending(saveCtx, domain.PendingJob{
		JobID:     job.ID,
		Provider:  job.Provider,
		Request:   job.Request,
		CreatedAt: job.SubmittedAt,
	})
	if err != nil {
		p.logger.Error("failed to record pending job", "job_id", job.ID, "error", err)
	}
}

func (p *Poller) lookupPending(ctx context.Context, jobID string) (domain.PendingJob, bool) {
	if p.pending == nil {
		return domain.PendingJob{}, false
	}
	pj, err := p.pending.GetPending(ctx, jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("pending job lookup failed", "job_id", jobID, "error", err)
		}
		return domain.PendingJob{}, false
	}
	return pj, true
}

// forget drops a finished job from the pending store. Failure only means a
// later sweep sees the job again.
func (p *Poller) forget(ctx context.Context, jobID string) {
	if err := p.pending.DeletePending(ctx, jobID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("pending job not removed", "job_id", jobID, "error", err)
	}
}

func (p *Poller) outcome(job *domain.GenerationJob) domain.JobOutcome {
	return domain.JobOutcome{
		JobID:    job.ID,
		Provider: job.Provider,
		State:    job.State,
		Result:   job.Result,
		Reason:   job.Reason,
	}
}

func songRecord(job *domain.GenerationJob) domain.SongRecord {
	req := job.Request
	rec := domain.SongRecord{
		Title:     req.Title,
		PersonaID: req.PersonaID,
		Lyrics:    req.Lyrics,
		APIUsed:   job.Provider,
		TaskID:    job.ID,
	}
	if r := job.Result; r != nil {
		rec.AudioURL, rec.VideoURL, rec.ImageURL, rec.Duration = r.AudioURL, r.VideoURL, r.ImageURL, r.Duration
		if r.Title != "" {
			rec.Title = r.Title
		}
	}
	params, _ := json.Marshal(map[string]any{
		"api_used":     job.Provider,
		"task_id":      job.ID,
		"generated_by": req.PersonaID,
		"style_tags":   req.Style,
		"genre":        req.Genre,
		"mood":         req.Mood,
		"instrumental": req.Instrumental,
	})
	rec.Params = params
	return rec
}
