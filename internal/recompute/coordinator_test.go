package recompute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/kvstore"
	"horse.fit/newsfeed/internal/news"
)

func openState(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// gatedJob blocks each run until the test releases it.
type gatedJob struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func newGatedJob() *gatedJob {
	return &gatedJob{started: make(chan struct{}, 8), release: make(chan struct{}, 8)}
}

func (j *gatedJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	j.started <- struct{}{}
	select {
	case <-j.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return j.err
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for job to start")
	}
}

func TestTriggersDuringRunCoalesceIntoOneRerun(t *testing.T) {
	t.Parallel()

	store := openState(t)
	job := newGatedJob()
	c := NewCoordinator(store, job, zerolog.Nop(), Options{Lease: time.Hour})
	ctx := context.Background()

	first, err := c.Trigger(ctx)
	if err != nil || !first.Started {
		t.Fatalf("expected first trigger to start: %+v %v", first, err)
	}
	waitFor(t, job.started)

	for i := 0; i < 2; i++ {
		got, err := c.Trigger(ctx)
		if err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
		if got.Started || !got.Coalesced {
			t.Fatalf("trigger %d should coalesce: %+v", i, got)
		}
	}

	job.release <- struct{}{}
	waitFor(t, job.started)
	job.release <- struct{}{}
	c.Wait()

	if runs := job.runs.Load(); runs != 2 {
		t.Fatalf("expected exactly one extra run, got %d runs", runs)
	}
	state, err := c.State(ctx)
	if err != nil || state.Status != news.RunIdle {
		t.Fatalf("expected idle state after runs: %+v %v", state, err)
	}
}

func TestTriggerAfterIdleStartsAgain(t *testing.T) {
	t.Parallel()

	store := openState(t)
	var runs atomic.Int32
	c := NewCoordinator(store, JobFunc(func(context.Context) error {
		runs.Add(1)
		return nil
	}), zerolog.Nop(), Options{Lease: time.Hour})

	for i := 0; i < 2; i++ {
		got, err := c.Trigger(context.Background())
		if err != nil || !got.Started {
			t.Fatalf("trigger %d: %+v %v", i, got, err)
		}
		c.Wait()
	}
	if runs.Load() != 2 {
		t.Fatalf("expected two runs, got %d", runs.Load())
	}
}

func TestRunNowReturnsFailureAndReleasesLock(t *testing.T) {
	t.Parallel()

	store := openState(t)
	boom := errors.New("ranking job failed")
	c := NewCoordinator(store, JobFunc(func(context.Context) error { return boom }), zerolog.Nop(), Options{Lease: time.Hour})

	got, err := c.RunNow(context.Background())
	if !errors.Is(err, boom) || !got.Started {
		t.Fatalf("expected run error to propagate: %+v %v", got, err)
	}
	state, err := c.State(context.Background())
	if err != nil || state.Status != news.RunIdle {
		t.Fatalf("failed run must release the lock: %+v %v", state, err)
	}

	got, err = c.RunNow(context.Background())
	if !got.Started || !errors.Is(err, boom) {
		t.Fatalf("expected a fresh run after failure: %+v %v", got, err)
	}
}

func TestFailedRunStillHonorsPendingRerun(t *testing.T) {
	t.Parallel()

	store := openState(t)
	job := newGatedJob()
	job.err = errors.New("dead")
	c := NewCoordinator(store, job, zerolog.Nop(), Options{Lease: time.Hour})

	if _, err := c.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitFor(t, job.started)
	if got, _ := c.Trigger(context.Background()); !got.Coalesced {
		t.Fatalf("expected coalesced trigger, got %+v", got)
	}
	job.release <- struct{}{}
	waitFor(t, job.started)
	job.release <- struct{}{}
	c.Wait()

	if job.runs.Load() != 2 {
		t.Fatalf("expected the pending rerun after a failure, got %d runs", job.runs.Load())
	}
}

func TestCoordinatorsShareState(t *testing.T) {
	t.Parallel()

	store := openState(t)
	job := newGatedJob()
	var otherRuns atomic.Int32
	a := NewCoordinator(store, job, zerolog.Nop(), Options{Lease: time.Hour})
	b := NewCoordinator(store, JobFunc(func(context.Context) error {
		otherRuns.Add(1)
		return nil
	}), zerolog.Nop(), Options{Lease: time.Hour})

	if got, err := a.Trigger(context.Background()); err != nil || !got.Started {
		t.Fatalf("trigger a: %+v %v", got, err)
	}
	waitFor(t, job.started)

	got, err := b.Trigger(context.Background())
	if err != nil || got.Started || !got.Coalesced {
		t.Fatalf("second process must coalesce: %+v %v", got, err)
	}

	// The rerun is picked up by the process that held the lock.
	job.release <- struct{}{}
	waitFor(t, job.started)
	job.release <- struct{}{}
	a.Wait()
	b.Wait()

	if job.runs.Load() != 2 || otherRuns.Load() != 0 {
		t.Fatalf("unexpected runs: a=%d b=%d", job.runs.Load(), otherRuns.Load())
	}
}

func TestConcurrentTriggersStartOneRun(t *testing.T) {
	t.Parallel()

	store := openState(t)
	job := newGatedJob()
	c := NewCoordinator(store, job, zerolog.Nop(), Options{Lease: time.Hour})

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Trigger(context.Background())
			if err != nil {
				t.Errorf("trigger: %v", err)
				return
			}
			if got.Started {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if started.Load() != 1 {
		t.Fatalf("expected one started run, got %d", started.Load())
	}

	waitFor(t, job.started)
	job.release <- struct{}{}
	waitFor(t, job.started)
	job.release <- struct{}{}
	c.Wait()
	if job.runs.Load() != 2 {
		t.Fatalf("expected one run plus one rerun, got %d", job.runs.Load())
	}
}

func TestShutdownCancelsBackgroundRun(t *testing.T) {
	t.Parallel()

	store := openState(t)
	job := newGatedJob()
	c := NewCoordinator(store, job, zerolog.Nop(), Options{Lease: time.Hour})

	if _, err := c.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitFor(t, job.started)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	state, err := c.State(context.Background())
	if err != nil || state.Status != news.RunIdle {
		t.Fatalf("cancelled run must release the lock: %+v %v", state, err)
	}
}

// fakeClock is a manually advanced clock shared between coordinators.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRenewedRunOutlivesLeaseWithoutSecondStart(t *testing.T) {
	t.Parallel()

	store := openState(t)
	clock := newFakeClock()
	opts := Options{Lease: 2 * time.Hour, RenewEvery: time.Hour, Now: clock.Now}
	other := NewCoordinator(store, JobFunc(func(context.Context) error {
		t.Errorf("second process must not start while the first renews")
		return nil
	}), zerolog.Nop(), opts)

	var (
		runs  atomic.Int32
		inner TriggerResult
	)
	first := NewCoordinator(store, JobFunc(func(ctx context.Context) error {
		if runs.Add(1) > 1 {
			return nil
		}
		clock.Advance(40 * time.Minute)
		if err := Renew(ctx); err != nil {
			return err
		}
		clock.Advance(85 * time.Minute)
		got, err := other.RunNow(context.Background())
		if err != nil {
			return err
		}
		inner = got
		return nil
	}), zerolog.Nop(), opts)

	got, err := first.RunNow(context.Background())
	if err != nil || !got.Started {
		t.Fatalf("first run: %+v %v", got, err)
	}
	if inner.Started || !inner.Coalesced {
		t.Fatalf("run past the original lease must still coalesce: %+v", inner)
	}
	if runs.Load() != 2 {
		t.Fatalf("expected the coalesced request to rerun, got %d runs", runs.Load())
	}
	state, err := first.State(context.Background())
	if err != nil || state.Status != news.RunIdle || state.Owner != "" {
		t.Fatalf("expected idle lock after the rerun: %+v %v", state, err)
	}
}

func TestBackgroundRenewalKeepsLongRunActive(t *testing.T) {
	t.Parallel()

	store := openState(t)
	clock := newFakeClock()
	other := NewCoordinator(store, JobFunc(func(context.Context) error { return nil }), zerolog.Nop(),
		Options{Lease: 2 * time.Hour, Now: clock.Now})

	var inner TriggerResult
	first := NewCoordinator(store, JobFunc(func(ctx context.Context) error {
		if inner.Coalesced {
			return nil
		}
		clock.Advance(3 * time.Hour)
		want := clock.Now()
		deadline := time.Now().Add(5 * time.Second)
		for {
			state, err := store.RunState(ctx, DefaultStateName)
			if err != nil {
				return err
			}
			if state.UpdatedAt.Equal(want) {
				break
			}
			if time.Now().After(deadline) {
				return errors.New("lease was never renewed in the background")
			}
			time.Sleep(5 * time.Millisecond)
		}
		got, err := other.RunNow(context.Background())
		inner = got
		return err
	}), zerolog.Nop(), Options{Lease: 2 * time.Hour, RenewEvery: 10 * time.Millisecond, Now: clock.Now})

	if _, err := first.RunNow(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if inner.Started || !inner.Coalesced {
		t.Fatalf("renewed run must block a second start: %+v", inner)
	}
}

func TestReleaseAfterTakeoverLeavesNewHolder(t *testing.T) {
	t.Parallel()

	store := openState(t)
	clock := newFakeClock()
	takeover := newGatedJob()
	next := NewCoordinator(store, takeover, zerolog.Nop(), Options{Lease: 2 * time.Hour, Now: clock.Now})

	stale := NewCoordinator(store, JobFunc(func(context.Context) error {
		// No renewal: the lease lapses and the other process recovers it.
		clock.Advance(3 * time.Hour)
		got, err := next.Trigger(context.Background())
		if err != nil || !got.Started {
			t.Errorf("expired lease must be recoverable: %+v %v", got, err)
		}
		waitFor(t, takeover.started)
		return nil
	}), zerolog.Nop(), Options{Lease: 2 * time.Hour, RenewEvery: time.Hour, Now: clock.Now})

	_, err := stale.RunNow(context.Background())
	if !errors.Is(err, news.ErrRunLockLost) {
		t.Fatalf("expected lost lock on release, got %v", err)
	}

	state, err := store.RunState(context.Background(), DefaultStateName)
	if err != nil {
		t.Fatalf("run state: %v", err)
	}
	if state.Status != news.RunRunning || state.Owner == "" {
		t.Fatalf("new holder's run must stay active: %+v", state)
	}

	takeover.release <- struct{}{}
	next.Wait()
	state, err = store.RunState(context.Background(), DefaultStateName)
	if err != nil || state.Status != news.RunIdle {
		t.Fatalf("new holder must release normally: %+v %v", state, err)
	}
}

func TestRenewAfterTakeoverCancelsRun(t *testing.T) {
	t.Parallel()

	store := openState(t)
	clock := newFakeClock()
	var renewErr, ctxErr error
	c := NewCoordinator(store, JobFunc(func(ctx context.Context) error {
		clock.Advance(3 * time.Hour)
		got, err := store.AcquireRun(context.Background(), DefaultStateName, "someone-else", clock.Now(), 2*time.Hour)
		if err != nil || !got.Acquired {
			t.Errorf("takeover: %+v %v", got, err)
		}
		renewErr = Renew(ctx)
		ctxErr = context.Cause(ctx)
		return renewErr
	}), zerolog.Nop(), Options{Lease: 2 * time.Hour, RenewEvery: time.Hour, Now: clock.Now})

	_, err := c.RunNow(context.Background())
	if !errors.Is(renewErr, news.ErrRunLockLost) {
		t.Fatalf("expected lost lock from renew, got %v", renewErr)
	}
	if !errors.Is(ctxErr, news.ErrRunLockLost) {
		t.Fatalf("run context must be cancelled with the lost lock, got %v", ctxErr)
	}
	if !errors.Is(err, news.ErrRunLockLost) {
		t.Fatalf("expected RunNow to report the lost lock, got %v", err)
	}

	state, err := store.RunState(context.Background(), DefaultStateName)
	if err != nil || state.Owner != "someone-else" || state.Status != news.RunRunning {
		t.Fatalf("takeover state must be untouched: %+v %v", state, err)
	}
}

func TestRenewOutsideRunIsNoop(t *testing.T) {
	t.Parallel()

	if err := Renew(context.Background()); err != nil {
		t.Fatalf("renew outside a run: %v", err)
	}
}
