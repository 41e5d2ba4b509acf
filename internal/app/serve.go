package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/newsfeed/internal/cli"
	"horse.fit/newsfeed/internal/feed"
	"horse.fit/newsfeed/internal/httpapi"
	"horse.fit/newsfeed/internal/search"
	"horse.fit/newsfeed/internal/storage"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer openCancel()

	store, err := storage.Open(openCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to open storage")
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		return 1
	}
	defer store.Close()

	coordinator, err := newCoordinator(cfg, store, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to build recompute job")
		fmt.Fprintf(os.Stderr, "Failed to build recompute job: %v\n", err)
		return 1
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer drainCancel()
		if err := coordinator.Shutdown(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("recompute did not stop before shutdown timeout")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	policy := retryPolicy(cfg)
	srv := httpapi.NewServer(httpapi.Deps{
		Search:     search.NewEngine(store, logger, search.Options{Retry: policy}),
		Feed:       feed.NewServer(store, logger, policy),
		Categories: feed.NewCategoryCache(store, cfg.CategoryCacheTTL),
		Likes:      feed.NewLikes(store, logger),
		Recompute:  coordinator,
		Health:     store,
	}, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
