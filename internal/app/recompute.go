package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newsfeed/internal/cli"
	"horse.fit/newsfeed/internal/globaltime"
)

func runRecompute(args []string) int {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 3*time.Hour, "Command timeout")
	status := fs.Bool("status", false, "Print the shared run state and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel, rt, err := openRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	coordinator, err := newCoordinator(rt.cfg, rt.store, rt.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build recompute job: %v\n", err)
		return 1
	}

	if *status {
		state, err := coordinator.State(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read run state: %v\n", err)
			return 1
		}
		active := state.Active(globaltime.UTC(), rt.cfg.RecomputeLease)
		if err := printJSON(map[string]any{"state": state, "active": active}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	result, err := coordinator.RunNow(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("recompute failed")
		fmt.Fprintf(os.Stderr, "Recompute failed: %v\n", err)
		return 1
	}
	if result.Coalesced {
		fmt.Println("ok: a recompute is already running; a rerun was queued")
		return 0
	}
	fmt.Println("ok: recompute finished")
	return 0
}
