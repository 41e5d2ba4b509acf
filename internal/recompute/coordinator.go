// Package recompute coalesces recommendation recompute triggers. The
// idle/running/running_pending state lives in the shared store so every
// server process sees the same lock.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/metrics"
	"horse.fit/newsfeed/internal/news"
)

const DefaultStateName = "recommend_articles"

// StateStore holds the shared run state. AcquireRun, RenewRun and
// ReleaseRun must be atomic with respect to each other across processes.
// RenewRun and ReleaseRun return news.ErrRunLockLost when owner no longer
// holds the lock.
type StateStore interface {
	AcquireRun(ctx context.Context, name, owner string, now time.Time, lease time.Duration) (news.Acquire, error)
	RenewRun(ctx context.Context, name, owner string, now time.Time) error
	ReleaseRun(ctx context.Context, name, owner string, now time.Time) (bool, error)
	RunState(ctx context.Context, name string) (news.RunState, error)
}

// Job is one recompute cycle.
type Job interface {
	Run(ctx context.Context) error
}

type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

type TriggerResult struct {
	Started   bool `json:"started"`
	Coalesced bool `json:"coalesced"`
}

type Options struct {
	Name  string
	Lease time.Duration
	// RenewEvery is how often a running job's lease is extended in the
	// background. It defaults to a quarter of Lease.
	RenewEvery time.Duration
	Now        func() time.Time
}

type Coordinator struct {
	state      StateStore
	job        Job
	logger     zerolog.Logger
	name       string
	lease      time.Duration
	renewEvery time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(state StateStore, job Job, logger zerolog.Logger, opts Options) *Coordinator {
	if opts.Name == "" {
		opts.Name = DefaultStateName
	}
	if opts.Now == nil {
		opts.Now = globaltime.UTC
	}
	if opts.RenewEvery <= 0 && opts.Lease > 0 {
		opts.RenewEvery = opts.Lease / 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		state:      state,
		job:        job,
		logger:     logger.With().Str("component", "recompute").Str("state", opts.Name).Logger(),
		name:       opts.Name,
		lease:      opts.Lease,
		renewEvery: opts.RenewEvery,
		now:        opts.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Trigger starts a recompute in the background, or folds the request into
// the pending rerun of the active one. It never waits for the job.
func (c *Coordinator) Trigger(ctx context.Context) (TriggerResult, error) {
	acquired, owner, err := c.acquire(ctx)
	if err != nil || !acquired.Started {
		return acquired, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.loop(c.ctx, owner); err != nil {
			c.logger.Error().Err(err).Msg("background recompute failed")
		}
	}()
	return acquired, nil
}

// RunNow runs a recompute in the caller's goroutine and returns its error.
// When another run holds the lock the request is coalesced and RunNow
// returns immediately.
func (c *Coordinator) RunNow(ctx context.Context) (TriggerResult, error) {
	acquired, owner, err := c.acquire(ctx)
	if err != nil || !acquired.Started {
		return acquired, err
	}
	return acquired, c.loop(ctx, owner)
}

// State reports the shared run state.
func (c *Coordinator) State(ctx context.Context) (news.RunState, error) {
	return c.state.RunState(ctx, c.name)
}

// Shutdown cancels background runs and waits for them to release the lock.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background runs finish without cancelling them.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) acquire(ctx context.Context) (TriggerResult, string, error) {
	owner := uuid.NewString()
	got, err := c.state.AcquireRun(ctx, c.name, owner, c.now(), c.lease)
	if err != nil {
		metrics.RecomputeTriggers.WithLabelValues("error").Inc()
		return TriggerResult{}, "", fmt.Errorf("acquire recompute lock: %w", err)
	}
	if !got.Acquired {
		metrics.RecomputeTriggers.WithLabelValues("coalesced").Inc()
		c.logger.Info().Bool("pending", got.Pending).Msg("recompute already running; trigger coalesced")
		return TriggerResult{Coalesced: got.Pending}, "", nil
	}
	metrics.RecomputeTriggers.WithLabelValues("started").Inc()
	return TriggerResult{Started: true}, owner, nil
}

type leaseKey struct{}

// runLease is the lock held by one loop. It travels in the job's context so
// long steps can renew it.
type runLease struct {
	c      *Coordinator
	owner  string
	cancel context.CancelCauseFunc
}

func (l *runLease) renew(ctx context.Context) error {
	err := l.c.state.RenewRun(context.WithoutCancel(ctx), l.c.name, l.owner, l.c.now())
	if errors.Is(err, news.ErrRunLockLost) {
		l.cancel(err)
	}
	return err
}

// Renew extends the recompute lock held by the run that ctx belongs to. It
// is a no-op outside a run. When the lock was lost the run's context is
// cancelled and news.ErrRunLockLost is returned.
func Renew(ctx context.Context) error {
	l, ok := ctx.Value(leaseKey{}).(*runLease)
	if !ok {
		return nil
	}
	return l.renew(ctx)
}

// keepAlive renews the lease every renewEvery until stop is called.
func (c *Coordinator) keepAlive(ctx context.Context, l *runLease) (stop func()) {
	if c.renewEvery <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := l.renew(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("renew recompute lock failed")
				if errors.Is(err, news.ErrRunLockLost) {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// loop runs the job until no rerun is pending. The lock is released after
// every cycle, failed or not. The first cycle's error is returned; later
// cycle errors are logged. A lock taken over by another owner ends the loop
// without touching the new holder's state.
func (c *Coordinator) loop(ctx context.Context, owner string) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	lease := &runLease{c: c, owner: owner, cancel: cancel}
	runCtx = context.WithValue(runCtx, leaseKey{}, lease)
	stop := c.keepAlive(runCtx, lease)
	defer stop()

	var firstErr error
	for cycle := 1; ; cycle++ {
		started := c.now()
		c.logger.Info().Int("cycle", cycle).Msg("recompute started")

		err := c.job.Run(runCtx)
		metrics.RecomputeRuns.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			c.logger.Error().Err(err).Int("cycle", cycle).Msg("recompute failed")
			if cycle == 1 {
				firstErr = err
			}
		} else {
			c.logger.Info().Int("cycle", cycle).Dur("elapsed", c.now().Sub(started)).Msg("recompute finished")
		}

		rerun, releaseErr := c.release(runCtx, owner)
		if releaseErr != nil {
			return errors.Join(firstErr, releaseErr)
		}
		if !rerun {
			return firstErr
		}
		if runCtx.Err() != nil {
			// The rerun kept the lock; hand it back so a later trigger can start.
			if _, err := c.release(runCtx, owner); err != nil {
				return errors.Join(firstErr, err)
			}
			return errors.Join(firstErr, context.Cause(runCtx))
		}
		c.logger.Info().Msg("running deferred recompute")
	}
}

func (c *Coordinator) release(ctx context.Context, owner string) (bool, error) {
	rerun, err := c.state.ReleaseRun(context.WithoutCancel(ctx), c.name, owner, c.now())
	if errors.Is(err, news.ErrRunLockLost) {
		c.logger.Warn().Msg("recompute lock was taken over before release; leaving it to the new holder")
		return false, fmt.Errorf("release recompute lock: %w", err)
	}
	if err != nil {
		return false, fmt.Errorf("release recompute lock: %w", err)
	}
	return rerun, nil
}
