package recompute

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/batchjob"
	"horse.fit/newsfeed/internal/corpus"
	"horse.fit/newsfeed/internal/kvstore"
	"horse.fit/newsfeed/internal/news"
)

type stringSource string

func (s stringSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(s))), nil
}

func (s stringSource) Describe() string { return "inline" }

type recordingLoader struct {
	opts corpus.Options
	body string
}

func (l *recordingLoader) Load(_ context.Context, r io.Reader, opts corpus.Options) (corpus.Summary, error) {
	raw, _ := io.ReadAll(r)
	l.body = string(raw)
	l.opts = opts
	return corpus.Summary{Loaded: 1}, nil
}

type scriptedRunner struct {
	mu        sync.Mutex
	submitted []batchjob.JobSpec
	states    []batchjob.JobState
	polled    []batchjob.Job
	submitErr error
}

func (r *scriptedRunner) Submit(_ context.Context, spec batchjob.JobSpec) (batchjob.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, spec)
	if r.submitErr != nil {
		return batchjob.Job{Name: spec.Name, State: batchjob.StateSubmissionFailed}, r.submitErr
	}
	return batchjob.Job{ID: 1, Name: spec.Name, State: batchjob.StateSubmitted}, nil
}

func (r *scriptedRunner) Status(_ context.Context, job batchjob.Job) (batchjob.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polled = append(r.polled, job)
	if len(r.states) == 0 {
		return batchjob.StateRunning, nil
	}
	next := r.states[0]
	if len(r.states) > 1 {
		r.states = r.states[1:]
	}
	return next, nil
}

var pipelineNow = time.Date(2026, 5, 2, 6, 0, 0, 0, time.UTC)

func newPipeline(loader CorpusLoader, runner batchjob.Runner) *Pipeline {
	return &Pipeline{
		Source:       stringSource("{}\n"),
		Loader:       loader,
		Runner:       runner,
		Spec:         batchjob.JobSpec{Name: "recommend-articles", File: "rank.jar"},
		Lookback:     24 * time.Hour,
		PollInterval: time.Millisecond,
		JobTimeout:   5 * time.Second,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return pipelineNow },
	}
}

func TestPipelineLoadsSinceLookbackThenWaitsForJob(t *testing.T) {
	t.Parallel()

	loader := &recordingLoader{}
	runner := &scriptedRunner{states: []batchjob.JobState{batchjob.StateRunning, batchjob.StateRunning, batchjob.StateCompleted}}
	if err := newPipeline(loader, runner).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if loader.opts.MinDate == nil || !loader.opts.MinDate.Equal(pipelineNow.Add(-24*time.Hour)) {
		t.Fatalf("unexpected min date: %v", loader.opts.MinDate)
	}
	if loader.body != "{}\n" {
		t.Fatalf("loader did not read the source: %q", loader.body)
	}
	if len(runner.submitted) != 1 || runner.submitted[0].Name != "recommend-articles" {
		t.Fatalf("unexpected submissions: %+v", runner.submitted)
	}
	for _, job := range runner.polled {
		if job.ID != 1 {
			t.Fatalf("status must poll the submitted batch, got %+v", job)
		}
	}
}

func TestPipelineTreatsNotFoundAsDone(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{states: []batchjob.JobState{batchjob.StateNotFound}}
	if err := newPipeline(&recordingLoader{}, runner).Run(context.Background()); err != nil {
		t.Fatalf("expected NotFound to end polling cleanly, got %v", err)
	}
}

func TestPipelineReportsFailedJob(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{states: []batchjob.JobState{batchjob.StateFailed}}
	err := newPipeline(&recordingLoader{}, runner).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Failed") {
		t.Fatalf("expected failed job error, got %v", err)
	}
}

func TestPipelineReportsSubmissionFailure(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{submitErr: errors.New("livy unavailable")}
	err := newPipeline(&recordingLoader{}, runner).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "livy unavailable") {
		t.Fatalf("expected submission error, got %v", err)
	}
}

func TestPipelineTimesOut(t *testing.T) {
	t.Parallel()

	p := newPipeline(&recordingLoader{}, &scriptedRunner{})
	p.JobTimeout = 20 * time.Millisecond
	err := p.Run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPipelineWithoutRunnerOnlyLoads(t *testing.T) {
	t.Parallel()

	loader := &recordingLoader{}
	p := newPipeline(loader, nil)
	p.Runner = nil
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if loader.opts.MinDate == nil {
		t.Fatalf("expected corpus load")
	}
}

// takeoverLoader lets the recompute lock lapse and hands it to another owner
// while the corpus is loading.
type takeoverLoader struct {
	store *kvstore.Store
	clock *fakeClock
}

func (l *takeoverLoader) Load(ctx context.Context, r io.Reader, _ corpus.Options) (corpus.Summary, error) {
	_, _ = io.ReadAll(r)
	l.clock.Advance(3 * time.Hour)
	if _, err := l.store.AcquireRun(ctx, DefaultStateName, "other-process", l.clock.Now(), 2*time.Hour); err != nil {
		return corpus.Summary{}, err
	}
	return corpus.Summary{Loaded: 1}, nil
}

func TestPipelineStopsWhenLockIsTakenOver(t *testing.T) {
	t.Parallel()

	store := openState(t)
	clock := newFakeClock()
	runner := &scriptedRunner{}
	p := newPipeline(&takeoverLoader{store: store, clock: clock}, runner)
	c := NewCoordinator(store, p, zerolog.Nop(), Options{Lease: 2 * time.Hour, RenewEvery: time.Hour, Now: clock.Now})

	_, err := c.RunNow(context.Background())
	if !errors.Is(err, news.ErrRunLockLost) {
		t.Fatalf("expected lost lock, got %v", err)
	}
	if len(runner.submitted) != 0 {
		t.Fatalf("ranking job must not be submitted after losing the lock: %+v", runner.submitted)
	}
	state, err := store.RunState(context.Background(), DefaultStateName)
	if err != nil || state.Owner != "other-process" {
		t.Fatalf("other process must keep the lock: %+v %v", state, err)
	}
}
