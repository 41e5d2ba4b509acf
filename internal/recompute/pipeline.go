package recompute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/batchjob"
	"horse.fit/newsfeed/internal/corpus"
	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/metrics"
	"horse.fit/newsfeed/internal/news"
)

// CorpusLoader is satisfied by *corpus.Loader.
type CorpusLoader interface {
	Load(ctx context.Context, r io.Reader, opts corpus.Options) (corpus.Summary, error)
}

// Pipeline loads recent articles, then runs the offline ranking job and
// waits for it to reach a terminal state.
type Pipeline struct {
	Source corpus.Source
	Loader CorpusLoader
	Runner batchjob.Runner
	Spec   batchjob.JobSpec

	Lookback     time.Duration
	PollInterval time.Duration
	JobTimeout   time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

func (p *Pipeline) Run(ctx context.Context) error {
	now := globaltime.UTC
	if p.Now != nil {
		now = p.Now
	}

	if p.Source != nil && p.Loader != nil {
		minDate := now().Add(-p.Lookback)
		if err := p.load(ctx, minDate); err != nil {
			return err
		}
		if err := p.renew(ctx); err != nil {
			return fmt.Errorf("after corpus load: %w", err)
		}
	} else {
		p.Logger.Info().Msg("no corpus source configured; skipping incremental load")
	}

	if p.Runner == nil {
		p.Logger.Info().Msg("no batch runner configured; skipping ranking job")
		return nil
	}
	job, err := p.Runner.Submit(ctx, p.Spec)
	if err != nil {
		return fmt.Errorf("submit ranking job: %w", err)
	}
	return p.wait(ctx, job)
}

func (p *Pipeline) load(ctx context.Context, minDate time.Time) error {
	rc, err := p.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open corpus %s: %w", p.Source.Describe(), err)
	}
	defer rc.Close()

	summary, err := p.Loader.Load(ctx, rc, corpus.Options{MinDate: &minDate})
	if err != nil {
		return fmt.Errorf("load corpus since %s: %w", minDate.Format(time.RFC3339), err)
	}
	p.Logger.Info().
		Str("source", p.Source.Describe()).
		Time("min_date", minDate).
		Int("loaded", summary.Loaded).
		Int("skipped", summary.Skipped).
		Msg("incremental corpus load finished")
	return nil
}

// wait polls until the job is terminal. Status errors are logged and
// polling continues until JobTimeout.
func (p *Pipeline) wait(ctx context.Context, job batchjob.Job) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if p.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.JobTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	state := job.State
	for {
		if state.Terminal() {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ranking job %s did not finish (last state %s): %w", job.Name, state, ctx.Err())
		case <-ticker.C:
		}

		if err := p.renew(ctx); err != nil {
			return fmt.Errorf("waiting for ranking job %s: %w", job.Name, err)
		}

		next, err := p.Runner.Status(ctx, job)
		if err != nil {
			metrics.BatchJobPolls.WithLabelValues("error").Inc()
			p.Logger.Warn().Err(err).Str("job", job.Name).Msg("ranking job status poll failed")
			continue
		}
		metrics.BatchJobPolls.WithLabelValues(string(next)).Inc()
		if next != state {
			p.Logger.Info().Str("job", job.Name).Str("state", string(next)).Msg("ranking job state changed")
		}
		state = next
	}

	if state.Failed() {
		return fmt.Errorf("ranking job %s ended in state %s", job.Name, state)
	}
	return nil
}

// renew extends the recompute lock. Only losing the lock is fatal; other
// renewal errors are retried at the next step.
func (p *Pipeline) renew(ctx context.Context) error {
	err := Renew(ctx)
	if err == nil || errors.Is(err, news.ErrRunLockLost) {
		return err
	}
	p.Logger.Warn().Err(err).Msg("renew recompute lock failed")
	return nil
}
