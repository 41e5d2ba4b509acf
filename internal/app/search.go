package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newsfeed/internal/cli"
	"horse.fit/newsfeed/internal/search"
)

func runSearch(args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	user := fs.String("user", "", "Username whose ranking weights order ties")
	query := fs.String("query", "", "Free-text keyword query")
	page := fs.String("page", "", "Cursor: last article UUID of the previous page")
	limit := fs.Int("limit", search.DefaultLimit, "Maximum articles to return")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "search does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "--query is required")
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

	engine := search.NewEngine(rt.store, rt.logger, search.Options{Retry: rt.retryPolicy()})
	result, err := engine.Search(ctx, search.Request{
		Username: strings.TrimSpace(*user),
		Query:    *query,
		Cursor:   strings.TrimSpace(*page),
		Limit:    *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeTable(articleHeaders, articleRows(result.Articles)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	if result.NextCursor != "" {
		fmt.Printf("\nnext page: --page %s\n", result.NextCursor)
	}
	return 0
}

func runCategories(args []string) int {
	fs := flag.NewFlagSet("categories", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	categories, err := rt.store.ListCategories(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list categories: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(categories); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(categories))
	for _, category := range categories {
		rows = append(rows, []string{category})
	}
	if err := writeTable([]string{"CATEGORY"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
