package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newsfeed/internal/cli"
	"horse.fit/newsfeed/internal/feed"
	"horse.fit/newsfeed/internal/search"
)

func runFeed(args []string) int {
	fs := flag.NewFlagSet("feed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	user := fs.String("user", "", "Username whose feed to show")
	page := fs.String("page", "", "Cursor: rec UUID of the last item already shown")
	limit := fs.Int("limit", search.DefaultLimit, "Maximum items to return")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	username := strings.TrimSpace(*user)
	if username == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		return 2
	}
	if _, err := search.ResolveLimit(*limit); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --limit: %v\n", err)
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, rt, err := openRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	server := feed.NewServer(rt.store, rt.logger, rt.retryPolicy())
	result, err := server.GetFeed(ctx, username, strings.TrimSpace(*page), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load feed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(result.Items))
	for _, item := range result.Items {
		rows = append(rows, articleRow(item.RecUUID, item.Article))
	}
	if err := writeTable(append([]string{"REC_UUID"}, articleHeaders...), rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	if result.NextCursor != "" {
		fmt.Printf("\nnext page: --page %s\n", result.NextCursor)
	}
	return 0
}

func runLike(args []string, like bool) int {
	name := "unlike"
	if like {
		name = "like"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	user := fs.String("user", "", "Username")
	article := fs.String("article", "", "Article UUID")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	username := strings.TrimSpace(*user)
	articleUUID := strings.TrimSpace(*article)
	if username == "" || articleUUID == "" {
		fmt.Fprintln(os.Stderr, "--user and --article are required")
		return 2
	}

	ctx, cancel, rt, err := openRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	likes := feed.NewLikes(rt.store, rt.logger)
	if like {
		if _, err := likes.Like(ctx, username, articleUUID); err != nil {
			fmt.Fprintf(os.Stderr, "Like failed: %v\n", err)
			return 1
		}
		fmt.Printf("ok: %s likes %s\n", username, articleUUID)
		return 0
	}
	if err := likes.Unlike(ctx, username, articleUUID); err != nil {
		fmt.Fprintf(os.Stderr, "Unlike failed: %v\n", err)
		return 1
	}
	fmt.Printf("ok: %s no longer likes %s\n", username, articleUUID)
	return 0
}
