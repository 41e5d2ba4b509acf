package corpus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source opens the raw corpus stream. Callers close the reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Describe() string
}

// FileSource reads a local newline-delimited JSON file.
type FileSource struct {
	Path string
}

func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file %q: %w", s.Path, err)
	}
	return f, nil
}

func (s FileSource) Describe() string { return "file:" + s.Path }

// HTTPSource downloads the corpus from an object-store URL (for example a
// presigned bucket link).
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(rawURL string) HTTPSource {
	return HTTPSource{
		URL:    strings.TrimSpace(rawURL),
		Client: &http.Client{Timeout: 30 * time.Minute},
	}
}

func (s HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build corpus request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch corpus: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch corpus: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s HTTPSource) Describe() string { return "url:" + s.URL }

// SourceFor picks a file or URL source from a location string.
func SourceFor(location string) (Source, error) {
	trimmed := strings.TrimSpace(location)
	switch {
	case trimmed == "":
		return nil, fmt.Errorf("corpus location is empty")
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		return NewHTTPSource(trimmed), nil
	default:
		return FileSource{Path: strings.TrimPrefix(trimmed, "file://")}, nil
	}
}
