package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/batchjob"
	"horse.fit/newsfeed/internal/config"
	"horse.fit/newsfeed/internal/corpus"
	"horse.fit/newsfeed/internal/langdetect"
	"horse.fit/newsfeed/internal/recompute"
	"horse.fit/newsfeed/internal/storage"
)

func newLoader(cfg *config.Config, store storage.Backend, logger zerolog.Logger) (*corpus.Loader, error) {
	opts := corpus.LoaderOptions{
		BatchSize: cfg.CorpusBatchSize,
		DateShift: cfg.DateShift(),
		Namespace: cfg.Namespace(),
		Retry:     retryPolicy(cfg),
	}
	if cfg.CorpusDetectLanguage {
		detector, err := langdetect.New(langdetect.ParseCodes(cfg.CorpusLanguages))
		if err != nil {
			return nil, fmt.Errorf("CORPUS_LANGUAGES: %w", err)
		}
		opts.DetectLanguage = detector.Detect
	}
	return corpus.NewLoader(store, logger.With().Str("component", "loader").Logger(), opts), nil
}

// newPipeline builds the recompute job. Steps without configuration are
// skipped when the job runs.
func newPipeline(cfg *config.Config, store storage.Backend, logger zerolog.Logger) (*recompute.Pipeline, error) {
	pipeline := &recompute.Pipeline{
		Lookback:     cfg.RecomputeLookback,
		PollInterval: cfg.RecomputePollInterval,
		JobTimeout:   cfg.RecomputeJobTimeout,
		Logger:       logger.With().Str("component", "pipeline").Logger(),
	}

	if location := strings.TrimSpace(cfg.CorpusURL); location != "" {
		source, err := corpus.SourceFor(location)
		if err != nil {
			return nil, fmt.Errorf("CORPUS_URL: %w", err)
		}
		loader, err := newLoader(cfg, store, logger)
		if err != nil {
			return nil, err
		}
		pipeline.Source = source
		pipeline.Loader = loader
	}

	if livyURL := strings.TrimSpace(cfg.LivyURL); livyURL != "" {
		spec, err := batchjob.LoadJobSpec(cfg.LivyJobSpecFile)
		if err != nil {
			return nil, fmt.Errorf("LIVY_JOB_SPEC_FILE: %w", err)
		}
		client, err := batchjob.NewClient(livyURL, logger.With().Str("component", "livy").Logger(), batchjob.ClientOptions{})
		if err != nil {
			return nil, err
		}
		pipeline.Runner = client
		pipeline.Spec = spec
	}
	return pipeline, nil
}

func newCoordinator(cfg *config.Config, store storage.Backend, logger zerolog.Logger) (*recompute.Coordinator, error) {
	pipeline, err := newPipeline(cfg, store, logger)
	if err != nil {
		return nil, err
	}
	return recompute.NewCoordinator(store, pipeline, logger, recompute.Options{
		Lease: cfg.RecomputeLease,
	}), nil
}
