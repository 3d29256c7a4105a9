package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/cache"
	"github.com/sakif/adprofit/internal/notify"
)

type fakeSyncer struct {
	validateErr error
	run         func(ctx context.Context, req Request) (*Result, error)
}

func (f *fakeSyncer) Validate(context.Context, Request) error { return f.validateErr }

func (f *fakeSyncer) Run(ctx context.Context, req Request) (*Result, error) {
	return f.run(ctx, req)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.SyncCompleted
}

func (n *recordingNotifier) SyncCompleted(_ context.Context, ev notify.SyncCompleted) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestRunner(t *testing.T, s Syncer, timeout time.Duration) (*Runner, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	r := NewRunner(s, NewRegistry(cache.NewMemory(), time.Hour), n, timeout, discardLogger(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r, n
}

func waitFinished(t *testing.T, r *Runner, userID, runID string) *Run {
	t.Helper()
	var run *Run
	require.Eventually(t, func() bool {
		got, err := r.Get(context.Background(), userID, runID)
		if err != nil {
			return false
		}
		run = got
		return got.Status != StatusRunning
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestRunnerStartReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	s := &fakeSyncer{run: func(ctx context.Context, req Request) (*Result, error) {
		<-release
		res := &Result{Products: Counts{Created: 3}}
		res.fail("insight", "act1", errors.New("boom"))
		return res, nil
	}}
	r, n := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusRunning, run.Status)

	polled, err := r.Get(context.Background(), "u1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, polled.Status)

	close(release)
	done := waitFinished(t, r, "u1", run.ID)

	assert.Equal(t, StatusPartial, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.Products.Created)
	require.NotNil(t, done.FinishedAt)
	assert.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, n.events[0].Created)
	assert.Equal(t, 1, n.events[0].Errored)
}

func TestRunnerValidationFailsSynchronously(t *testing.T) {
	s := &fakeSyncer{validateErr: apperror.ValidationFailed("date_preset", "unknown date preset")}
	r, _ := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	assert.Nil(t, run)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestRunnerHidesOtherUsersRuns(t *testing.T) {
	s := &fakeSyncer{run: func(context.Context, Request) (*Result, error) { return &Result{}, nil }}
	r, _ := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	_, err = r.Get(context.Background(), "u2", run.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = r.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRunnerDeadline(t *testing.T) {
	s := &fakeSyncer{run: func(ctx context.Context, _ Request) (*Result, error) {
		<-ctx.Done()
		return &Result{}, ctx.Err()
	}}
	r, _ := newTestRunner(t, s, 20*time.Millisecond)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	done := waitFinished(t, r, "u1", run.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, context.DeadlineExceeded.Error())
}

func TestRunnerShutdownCancelsRuns(t *testing.T) {
	started := make(chan struct{})
	s := &fakeSyncer{run: func(ctx context.Context, _ Request) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r, _ := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	got, err := r.Get(context.Background(), "u1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, context.Canceled.Error())

	_, err = r.Start(context.Background(), Request{UserID: "u1"})
	assert.Error(t, err, "no new runs after shutdown")
}

func TestRunnerRecoversPanics(t *testing.T) {
	s := &fakeSyncer{run: func(context.Context, Request) (*Result, error) { panic("kaboom") }}
	r, _ := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	done := waitFinished(t, r, "u1", run.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "kaboom")
}

func TestRunnerRateLimitFailsRunAndThrottlesUser(t *testing.T) {
	s := &fakeSyncer{run: func(context.Context, Request) (*Result, error) {
		return &Result{}, fmt.Errorf("syncer: every integration was refused: %w", apperror.RateLimited("facebook", 7*time.Minute))
	}}
	r, _ := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	done := waitFinished(t, r, "u1", run.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "rate_limited", done.ErrorKind)
	assert.Equal(t, 420, done.RetryAfterSeconds)

	_, err = r.Start(context.Background(), Request{UserID: "u1"})
	require.ErrorIs(t, err, apperror.ErrRateLimited)
	wait, ok := apperror.RetryAfter(err)
	require.True(t, ok)
	assert.Greater(t, wait, 6*time.Minute)
	assert.LessOrEqual(t, wait, 7*time.Minute)

	_, err = r.Start(context.Background(), Request{UserID: "u2"})
	assert.NoError(t, err, "other users are not throttled")
}

func TestRunnerAuthFailureKind(t *testing.T) {
	s := &fakeSyncer{run: func(context.Context, Request) (*Result, error) {
		return &Result{}, apperror.Unauthorized("token revoked")
	}}
	r, _ := newTestRunner(t, s, time.Minute)

	run, err := r.Start(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	done := waitFinished(t, r, "u1", run.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "auth", done.ErrorKind)
	assert.Zero(t, done.RetryAfterSeconds)

	_, err = r.Start(context.Background(), Request{UserID: "u1"})
	assert.NoError(t, err, "auth failures do not throttle")
}
