package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	err := Conflict("user %s already liked %s", "alice", "a1")
	if got := KindOf(err); got != KindConflict {
		t.Fatalf("expected conflict kind, got %q", got)
	}
	if err.Error() != "user alice already liked a1" {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	wrapped := fmt.Errorf("outer: %w", NotFound("missing"))
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected wrapped not found to be detected")
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty kind for plain error, got %q", got)
	}
	if Is(nil, KindBadRequest) {
		t.Fatalf("nil error must not match any kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Kind]int{
		KindBadRequest:          http.StatusBadRequest,
		KindNotFound:            http.StatusNotFound,
		KindConflict:            http.StatusConflict,
		KindUnprocessableEntity: http.StatusUnprocessableEntity,
		"":                      http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Fatalf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}
