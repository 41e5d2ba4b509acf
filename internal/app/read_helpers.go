package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/cli"
	"horse.fit/newsfeed/internal/config"
	"horse.fit/newsfeed/internal/logging"
	"horse.fit/newsfeed/internal/news"
	"horse.fit/newsfeed/internal/retry"
	"horse.fit/newsfeed/internal/storage"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// runtime is the config, logger and open store shared by every command.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  storage.Backend
}

func (r *runtime) Close() {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("close storage failed")
	}
}

func (r *runtime) retryPolicy() retry.Policy {
	return retryPolicy(r.cfg)
}

func retryPolicy(cfg *config.Config) retry.Policy {
	policy := retry.DefaultPolicy
	if cfg == nil {
		return policy
	}
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialInterval > 0 {
		policy.InitialInterval = cfg.RetryInitialInterval
	}
	return policy
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// openRuntime loads config and opens storage. The returned context carries
// the command timeout.
func openRuntime(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *runtime, error) {
	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		return nil, nil, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Backend(), err)
	}

	return ctx, cancel, &runtime{cfg: cfg, logger: logger, store: store}, nil
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func parseUTCDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	day, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), nil
}

func truncateForTable(value string, maxLen int) string {
	trimmed := strings.TrimSpace(value)
	if maxLen <= 0 {
		return trimmed
	}
	if utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}

	runes := []rune(trimmed)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func pointerStringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func formatUTCDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format("2006-01-02")
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func articleRows(articles []news.Article) [][]string {
	rows := make([][]string, 0, len(articles))
	for _, article := range articles {
		rows = append(rows, articleRow("", article))
	}
	return rows
}

func articleRow(prefix string, article news.Article) []string {
	row := []string{
		article.ArticleUUID,
		formatUTCDate(article.PublishedAt),
		truncateForTable(pointerStringOrEmpty(article.Category), 16),
		truncateForTable(pointerStringOrEmpty(article.Headline), 72),
	}
	if prefix != "" {
		row = append([]string{prefix}, row...)
	}
	return row
}

var articleHeaders = []string{"ARTICLE_UUID", "PUBLISHED", "CATEGORY", "HEADLINE"}
