package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/cache"
	"github.com/sakif/adprofit/internal/notify"
	"github.com/sakif/adprofit/internal/telemetry"
)

// Syncer is what a Runner executes in the background.
type Syncer interface {
	Validate(ctx context.Context, req Request) error
	Run(ctx context.Context, req Request) (*Result, error)
}

// Registry keeps run status for polling, plus per-user throttle marks set
// when a run ends on a provider rate limit. Run entries expire after ttl.
// Backed by a cache.Cache, so a Redis cache shares both across instances.
type Registry struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewRegistry(c cache.Cache, ttl time.Duration) *Registry {
	return &Registry{cache: c, ttl: ttl}
}

func runKey(id string) string { return "sync:run:" + id }

func throttleKey(userID string) string { return "sync:throttle:" + userID }

func (r *Registry) Put(ctx context.Context, run *Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("syncer: encoding run %s: %w", run.ID, err)
	}
	if err := r.cache.Set(ctx, runKey(run.ID), b, r.ttl); err != nil {
		return fmt.Errorf("syncer: storing run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns the run if it exists, has not expired and belongs to userID.
func (r *Registry) Get(ctx context.Context, userID, id string) (*Run, error) {
	b, err := r.cache.Get(ctx, runKey(id))
	if errors.Is(err, cache.ErrMiss) {
		return nil, apperror.NotFound("sync run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("syncer: loading run %s: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(b, &run); err != nil {
		return nil, fmt.Errorf("syncer: decoding run %s: %w", id, err)
	}
	if run.UserID != userID {
		return nil, apperror.NotFound("sync run", id)
	}
	return &run, nil
}

// Throttle blocks new runs for userID until d has passed.
func (r *Registry) Throttle(ctx context.Context, userID string, d time.Duration) error {
	until := time.Now().Add(d).UTC().Format(time.RFC3339Nano)
	if err := r.cache.Set(ctx, throttleKey(userID), []byte(until), d); err != nil {
		return fmt.Errorf("syncer: storing throttle of %s: %w", userID, err)
	}
	return nil
}

// Throttled returns how long userID must still wait. A cache failure reads
// as not throttled.
func (r *Registry) Throttled(ctx context.Context, userID string) (time.Duration, bool) {
	b, err := r.cache.Get(ctx, throttleKey(userID))
	if err != nil {
		return 0, false
	}
	until, err := time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return 0, false
	}
	wait := time.Until(until)
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

// Runner starts sync runs detached from the triggering request. Each run
// gets its own deadline; Shutdown cancels whatever is still running.
type Runner struct {
	syncer   Syncer
	registry *Registry
	notifier notify.Notifier
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(s Syncer, registry *Registry, notifier notify.Notifier, timeout time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Runner {
	base, cancel := context.WithCancel(context.Background())
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Runner{
		syncer:   s,
		registry: registry,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		base:     base,
		cancel:   cancel,
	}
}

// Start validates req and launches the run. It returns as soon as the run
// is registered; the caller polls Get for the outcome. While an earlier run's
// rate limit is in force, Start returns a RateLimited error with the
// remaining wait.
func (r *Runner) Start(ctx context.Context, req Request) (*Run, error) {
	if err := r.syncer.Validate(ctx, req); err != nil {
		return nil, err
	}
	if wait, ok := r.registry.Throttled(ctx, req.UserID); ok {
		return nil, apperror.RateLimited("sync", wait.Truncate(time.Second)+time.Second)
	}
	if r.base.Err() != nil {
		return nil, errors.New("syncer: runner is shut down")
	}

	run := &Run{
		ID:        xid.New().String(),
		UserID:    req.UserID,
		Status:    StatusRunning,
		StartedAt: r.now().UTC(),
	}
	if err := r.registry.Put(ctx, run); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go r.execute(*run, req)

	r.logger.Info("sync started", slog.String("run_id", run.ID), slog.String("user_id", run.UserID))
	return run, nil
}

func (r *Runner) Get(ctx context.Context, userID, runID string) (*Run, error) {
	return r.registry.Get(ctx, userID, runID)
}

func (r *Runner) execute(run Run, req Request) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()

	res, err := r.safeRun(ctx, req)

	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.Result = res
	switch {
	case err != nil:
		run.Status = StatusFailed
		run.Error = err.Error()
		run.ErrorKind, run.RetryAfterSeconds = classify(err)
	case res != nil:
		run.Status = res.Status()
	default:
		run.Status = StatusCompleted
	}

	// The run context may already be done; bookkeeping gets its own budget.
	bg, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	// Throttle first so a poller that sees the failure cannot start early.
	if wait, ok := apperror.RetryAfter(err); ok && wait > 0 {
		if err := r.registry.Throttle(bg, run.UserID, wait); err != nil {
			r.logger.Error("failed to store sync throttle", slog.String("user_id", run.UserID), slog.String("error", err.Error()))
		}
	}
	if err := r.registry.Put(bg, &run); err != nil {
		r.logger.Error("failed to store sync run status", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
	r.metrics.SyncFinished(run.Status, finished.Sub(run.StartedAt))

	ev := notify.SyncCompleted{
		RunID:      run.ID,
		UserID:     run.UserID,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
		FinishedAt: finished,
	}
	if res != nil {
		ev.Created = res.Products.Created + res.Records.Created
		ev.Updated = res.Products.Updated + res.Records.Updated
		ev.Skipped = res.Products.Skipped + res.Records.Skipped
		ev.Errored = res.Errored()
		ev.Warnings = len(res.Warnings)
	}
	_ = r.notifier.SyncCompleted(bg, ev)

	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("status", run.Status),
		slog.Duration("duration", finished.Sub(run.StartedAt)),
	}
	if err != nil {
		r.logger.Error("sync failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	r.logger.Info("sync finished", attrs...)
}

func (r *Runner) safeRun(ctx context.Context, req Request) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("syncer: run panicked: %v", p)
		}
	}()
	return r.syncer.Run(ctx, req)
}

// Shutdown cancels in-flight runs and waits for them to record their
// status, or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
