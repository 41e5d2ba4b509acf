// Package langdetect tags headlines with an ISO 639-1 language code.
package langdetect

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

var (
	defaultOnce     sync.Once
	defaultDetector *Detector
)

// Detector wraps a lingua detector restricted to a set of languages.
type Detector struct {
	once      sync.Once
	languages []lingua.Language
	detector  lingua.LanguageDetector
}

// New builds a detector for the given ISO 639-1 codes. An empty list means
// every language lingua knows.
func New(codes []string) (*Detector, error) {
	d := &Detector{}
	for _, raw := range codes {
		code := NormalizeCode(raw)
		if code == "" {
			continue
		}
		lang := lingua.GetLanguageFromIsoCode639_1(lingua.GetIsoCode639_1FromValue(code))
		if lang == lingua.Unknown {
			return nil, fmt.Errorf("unsupported language code %q", raw)
		}
		d.languages = append(d.languages, lang)
	}
	if len(d.languages) == 1 {
		return nil, fmt.Errorf("at least two languages are required, got %q", codes[0])
	}
	return d, nil
}

// ParseCodes splits a comma separated language list.
func ParseCodes(raw string) []string {
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		if code := NormalizeCode(part); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// DetectISO6391 uses a shared detector over all languages.
func DetectISO6391(text string) string {
	defaultOnce.Do(func() {
		defaultDetector = &Detector{}
	})
	return defaultDetector.Detect(text)
}

// Detect returns "" when the text is too short or no language is confident.
func (d *Detector) Detect(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := d.get().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func (d *Detector) get() lingua.LanguageDetector {
	d.once.Do(func() {
		builder := lingua.NewLanguageDetectorBuilder()
		var configured lingua.LanguageDetectorBuilder
		if len(d.languages) > 0 {
			configured = builder.FromLanguages(d.languages...)
		} else {
			configured = builder.FromAllLanguages()
		}
		d.detector = configured.WithPreloadedLanguageModels().Build()
	})
	return d.detector
}

// NormalizeCode returns the lowercase primary subtag ("en" from "EN_us"),
// or "" when the value is not alphabetic.
func NormalizeCode(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(trimmed, "-_"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return ""
	}
	for _, r := range trimmed {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return trimmed
}
