package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL" default:""`
	DBMinConns   int32  `envconfig:"NP_DB_MIN_CONNS" default:"1"`
	DBMaxConns   int32  `envconfig:"NP_DB_MAX_CONNS" default:"8"`
	BadgerDir    string `envconfig:"BADGER_DIR" default:"data/badger"`

	ArticleUUIDNamespace string `envconfig:"ARTICLE_UUID_NAMESPACE" default:"6ba7b811-9dad-11d1-80b4-00c04fd430c8"`
	CorpusDateShift      string `envconfig:"CORPUS_DATE_SHIFT" default:"0"`
	CorpusBatchSize      int    `envconfig:"CORPUS_BATCH_SIZE" default:"1000"`
	CorpusURL            string `envconfig:"CORPUS_URL" default:""`
	CorpusDetectLanguage bool   `envconfig:"CORPUS_DETECT_LANGUAGE" default:"false"`
	CorpusLanguages      string `envconfig:"CORPUS_LANGUAGES" default:""`

	CategoryCacheTTL time.Duration `envconfig:"CATEGORY_CACHE_TTL" default:"1h"`

	RecomputeLookback     time.Duration `envconfig:"RECOMPUTE_LOOKBACK" default:"24h"`
	RecomputeLease        time.Duration `envconfig:"RECOMPUTE_LEASE" default:"2h"`
	RecomputePollInterval time.Duration `envconfig:"RECOMPUTE_POLL_INTERVAL" default:"10s"`
	RecomputeJobTimeout   time.Duration `envconfig:"RECOMPUTE_JOB_TIMEOUT" default:"90m"`
	LivyURL               string        `envconfig:"LIVY_URL" default:""`
	LivyJobSpecFile       string        `envconfig:"LIVY_JOB_SPEC_FILE" default:""`

	RetryMaxAttempts     int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"4"`
	RetryInitialInterval time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"200ms"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend() {
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case BackendBadger:
		if strings.TrimSpace(c.BadgerDir) == "" {
			return fmt.Errorf("BADGER_DIR is required when STORE_BACKEND=badger")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or badger")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NP_DB_MIN_CONNS (%d) cannot exceed NP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := uuid.Parse(strings.TrimSpace(c.ArticleUUIDNamespace)); err != nil {
		return fmt.Errorf("ARTICLE_UUID_NAMESPACE must be a UUID: %w", err)
	}
	if _, err := ParseDateShift(c.CorpusDateShift); err != nil {
		return fmt.Errorf("CORPUS_DATE_SHIFT: %w", err)
	}
	if c.CorpusBatchSize < 1 || c.CorpusBatchSize > 10000 {
		return fmt.Errorf("CORPUS_BATCH_SIZE must be between 1 and 10000")
	}
	if c.CategoryCacheTTL <= 0 {
		return fmt.Errorf("CATEGORY_CACHE_TTL must be > 0")
	}
	if c.RecomputeLookback <= 0 {
		return fmt.Errorf("RECOMPUTE_LOOKBACK must be > 0")
	}
	if c.RecomputePollInterval <= 0 {
		return fmt.Errorf("RECOMPUTE_POLL_INTERVAL must be > 0")
	}
	if c.RecomputeJobTimeout < c.RecomputePollInterval {
		return fmt.Errorf("RECOMPUTE_JOB_TIMEOUT must be >= RECOMPUTE_POLL_INTERVAL")
	}
	if c.RecomputeLease > 0 && c.RecomputeLease <= c.RecomputeJobTimeout {
		return fmt.Errorf("RECOMPUTE_LEASE must exceed RECOMPUTE_JOB_TIMEOUT")
	}
	if strings.TrimSpace(c.LivyURL) != "" && strings.TrimSpace(c.LivyJobSpecFile) == "" {
		return fmt.Errorf("LIVY_JOB_SPEC_FILE is required when LIVY_URL is set")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

func (c *Config) Backend() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.StoreBackend))
}

func (c *Config) Namespace() uuid.UUID {
	ns, err := uuid.Parse(strings.TrimSpace(c.ArticleUUIDNamespace))
	if err != nil {
		return uuid.NameSpaceURL
	}
	return ns
}

// DateShift is a calendar offset applied to every ingested publish date.
// The zero value leaves dates untouched.
type DateShift struct {
	Years  int
	Months int
	Days   int
}

func (d DateShift) Apply(t time.Time) time.Time {
	return t.AddDate(d.Years, d.Months, d.Days)
}

func (d DateShift) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Days == 0
}

func (c *Config) DateShift() DateShift {
	shift, _ := ParseDateShift(c.CorpusDateShift)
	return shift
}

// ParseDateShift accepts "0", or a sequence of signed integer + unit pairs
// with units y, m and d, for example "4y", "-1y6m" or "30d".
func ParseDateShift(raw string) (DateShift, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" || trimmed == "0" {
		return DateShift{}, nil
	}

	var shift DateShift
	seen := map[byte]bool{}
	rest := trimmed
	for rest != "" {
		end := 0
		if rest[0] == '-' || rest[0] == '+' {
			end = 1
		}
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == len(rest) {
			return DateShift{}, fmt.Errorf("%q is missing a unit (y, m or d)", raw)
		}
		value, err := strconv.Atoi(rest[:end])
		if err != nil {
			return DateShift{}, fmt.Errorf("%q has an invalid number", raw)
		}
		unit := rest[end]
		if seen[unit] {
			return DateShift{}, fmt.Errorf("%q repeats unit %q", raw, string(unit))
		}
		seen[unit] = true
		switch unit {
		case 'y':
			shift.Years = value
		case 'm':
			shift.Months = value
		case 'd':
			shift.Days = value
		default:
			return DateShift{}, fmt.Errorf("%q has unknown unit %q", raw, string(unit))
		}
		rest = rest[end+1:]
	}
	return shift, nil
}
