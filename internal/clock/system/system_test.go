// Package system exercises the clock adapters.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestFixedClockAndToday(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BST", 3600)
	clk := Fixed(time.Date(2024, 5, 1, 0, 30, 0, 0, loc))

	if got := clk.Now(); !got.Equal(time.Date(2024, 4, 30, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected fixed time %v", got)
	}
	if got := Today(clk); got != "2024-04-30" {
		t.Fatalf("expected UTC date 2024-04-30, got %s", got)
	}
}
