package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/config"
)

func TestOpenBadgerBackend(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{StoreBackend: "Badger", BadgerDir: t.TempDir()}
	backend, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open badger backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), &config.Config{StoreBackend: "mysql"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
	if _, err := Open(context.Background(), nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected nil config to fail")
	}
}
