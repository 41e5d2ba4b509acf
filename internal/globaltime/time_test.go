package globaltime

import (
	"testing"
	"time"
)

func TestSetMockTime(t *testing.T) {
	pinned := time.Date(2022, 9, 23, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	restore := SetMockTime(pinned)

	if !Now().Equal(pinned) {
		t.Fatalf("expected pinned time, got %s", Now())
	}
	if got := UTC(); got.Location() != time.UTC || !got.Equal(pinned) {
		t.Fatalf("expected pinned time in UTC, got %s", got)
	}

	restore()
	if time.Since(Now()) > time.Minute {
		t.Fatalf("expected the real clock after restore, got %s", Now())
	}
}
