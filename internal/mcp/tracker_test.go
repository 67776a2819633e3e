package mcp

import (
	"fmt"
	"testing"
	"time"
)

func TestFocusTracker_RecordAndCurrent(t *testing.T) {
	tracker := newFocusTracker(time.Hour)

	if _, ok := tracker.Current("client-1"); ok {
		t.Fatal("expected no focus before any Record")
	}

	tracker.Record("client-1", "s1")
	tracker.Record("client-1", "s2")

	got, ok := tracker.Current("client-1")
	if !ok || got != "s2" {
		t.Fatalf("expected latest session s2, got %q (ok=%v)", got, ok)
	}
	if _, ok := tracker.Current("client-2"); ok {
		t.Fatal("focus must not leak across clients")
	}
}

func TestFocusTracker_IgnoresAnonymousClients(t *testing.T) {
	tracker := newFocusTracker(time.Hour)
	tracker.Record("", "s1")
	if _, ok := tracker.Current(""); ok {
		t.Fatal("clients without a session id are not tracked")
	}
}

func TestFocusTracker_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := newFocusTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	tracker.Record("client-1", "s1")
	now = now.Add(2 * time.Minute)

	if _, ok := tracker.Current("client-1"); ok {
		t.Fatal("expected focus to expire after the window")
	}
	if len(tracker.entries) != 0 {
		t.Fatal("expired entry should be removed on read")
	}
}

func TestFocusTracker_Forget(t *testing.T) {
	tracker := newFocusTracker(time.Hour)
	tracker.Record("a", "s1")
	tracker.Record("b", "s1")
	tracker.Record("c", "s2")

	tracker.Forget("s1")

	if _, ok := tracker.Current("a"); ok {
		t.Fatal("a should have lost focus")
	}
	if got, _ := tracker.Current("c"); got != "s2" {
		t.Fatalf("c should keep s2, got %q", got)
	}
}

func TestFocusTracker_PurgeStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := newFocusTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	for i := range 1000 {
		tracker.Record(fmt.Sprintf("old-%d", i), "s")
	}
	now = now.Add(time.Hour)
	tracker.Record("fresh", "s")

	if len(tracker.entries) != 1 {
		t.Fatalf("expected stale entries purged, got %d", len(tracker.entries))
	}
}
