package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// overrideVars name env files that win over the --env flag.
var overrideVars = []string{"NEWSFEED_ENV_FILE", "HORSE_ENV_FILE"}

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

type envCandidate struct {
	path     string
	source   string
	override bool
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// candidates lists env files in load order: override variables, the flag
// value, its basename in the working directory, then the default path.
func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	seen := map[string]bool{}
	add := func(path, source string, override bool) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, envCandidate{path: path, source: source, override: override})
	}

	for _, envVar := range overrideVars {
		add(os.Getenv(envVar), envVar, true)
	}

	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = strings.TrimSpace(*l.value)
	}
	add(requested, "--env", false)
	add(filepath.Base(requested), "basename fallback", false)
	add(l.defaultPath, "default", false)
	return out
}

// Load overloads the first candidate that parses and returns its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	candidates := l.candidates()
	for _, candidate := range candidates {
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.override {
				log.Printf("Warning: failed to load %s=%s", candidate.source, candidate.path)
			}
			continue
		}
		log.Printf("Loaded environment from %s: %s", candidate.source, candidate.path)
		return candidate.path, nil
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("no env file configured")
	}
	return "", fmt.Errorf("failed to load env file from %s", l.requested(candidates))
}

func (l *EnvLoader) requested(candidates []envCandidate) string {
	for _, candidate := range candidates {
		if candidate.source == "--env" {
			return candidate.path
		}
	}
	return l.defaultPath
}
