package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newsfeed/internal/cli"
	"horse.fit/newsfeed/internal/corpus"
)

func runLoad(args []string) int {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Hour, "Command timeout")
	file := fs.String("file", "", "Path to a JSON-lines corpus file")
	url := fs.String("url", "", "HTTP(S) URL of a JSON-lines corpus (defaults to CORPUS_URL)")
	minDate := fs.String("min-date", "", "Skip articles published before this UTC day (YYYY-MM-DD)")
	full := fs.Bool("full", false, "Clear the keyword index before loading")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "load does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*file) != "" && strings.TrimSpace(*url) != "" {
		fmt.Fprintln(os.Stderr, "--file and --url are mutually exclusive")
		return 2
	}

	opts := corpus.Options{Full: *full}
	if strings.TrimSpace(*minDate) != "" {
		day, err := parseUTCDate(*minDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --min-date: %v\n", err)
			return 2
		}
		opts.MinDate = &day
	}
	if opts.Full && opts.MinDate != nil {
		fmt.Fprintln(os.Stderr, "--full cannot be combined with --min-date")
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

	location := strings.TrimSpace(*file)
	if location == "" {
		location = strings.TrimSpace(*url)
	}
	if location == "" {
		location = strings.TrimSpace(rt.cfg.CorpusURL)
	}
	source, err := corpus.SourceFor(location)
	if err != nil {
		fmt.Fprintln(os.Stderr, "one of --file, --url or CORPUS_URL is required")
		return 2
	}

	loader, err := newLoader(rt.cfg, rt.store, rt.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build loader: %v\n", err)
		return 1
	}

	rc, err := source.Open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open corpus %s: %v\n", source.Describe(), err)
		return 1
	}
	defer rc.Close()

	summary, err := loader.Load(ctx, rc, opts)
	if err != nil {
		rt.logger.Error().Err(err).Str("source", source.Describe()).Msg("corpus load failed")
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(summary); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeTable(
		[]string{"LINES", "LOADED", "SKIPPED", "INVALID", "FUTURE", "BEFORE_MIN", "POSTINGS", "CATEGORIES", "BATCHES"},
		[][]string{summaryRow(summary)},
	); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func summaryRow(s corpus.Summary) []string {
	values := []int{s.Lines, s.Loaded, s.Skipped, s.Invalid, s.Future, s.BeforeMin, s.Postings, s.Categories, s.Batches}
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	return row
}
