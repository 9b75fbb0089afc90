package cache

import (
	"testing"
	"time"
)

func TestContainsAfterMark(t *testing.T) {
	s := NewValidatedSet(time.Minute, 10)
	if s.Contains(`Platform\Sprint 12`) {
		t.Fatal("empty set should not contain anything")
	}
	s.Mark(`Platform\Sprint 12`)
	if !s.Contains(`Platform\Sprint 12`) {
		t.Fatal("marked key missing")
	}
	if s.Contains(`Platform\Sprint 13`) {
		t.Fatal("unmarked key present")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := NewValidatedSet(time.Minute, 10)
	base := time.Now()
	s.markAt("path", base)

	if !s.containsAt("path", base.Add(30*time.Second)) {
		t.Fatal("entry expired too early")
	}
	if s.containsAt("path", base.Add(2*time.Minute)) {
		t.Fatal("entry survived past TTL")
	}
}

func TestHitRefreshesEntry(t *testing.T) {
	s := NewValidatedSet(time.Minute, 10)
	base := time.Now()
	s.markAt("path", base)

	// A hit at 45s pushes the expiry window forward.
	if !s.containsAt("path", base.Add(45*time.Second)) {
		t.Fatal("expected hit")
	}
	if !s.containsAt("path", base.Add(100*time.Second)) {
		t.Fatal("refreshed entry expired")
	}
}

func TestMaxSizeEvictsOldest(t *testing.T) {
	s := NewValidatedSet(0, 2)
	base := time.Now()
	s.markAt("a", base)
	s.markAt("b", base.Add(time.Second))
	s.markAt("c", base.Add(2*time.Second))

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if s.containsAt("a", base.Add(3*time.Second)) {
		t.Fatal("oldest entry should have been evicted")
	}
	if !s.containsAt("c", base.Add(3*time.Second)) {
		t.Fatal("newest entry missing")
	}
}

func TestZeroMaxSizeDisables(t *testing.T) {
	s := NewValidatedSet(time.Minute, 0)
	s.Mark("path")
	if s.Contains("path") {
		t.Fatal("disabled set should never hit")
	}
}

func TestEmptyKeyIgnored(t *testing.T) {
	s := NewValidatedSet(time.Minute, 10)
	s.Mark("")
	if s.Len() != 0 || s.Contains("") {
		t.Fatal("empty key must be ignored")
	}
}

func TestClear(t *testing.T) {
	s := NewValidatedSet(time.Minute, 10)
	s.Mark("a")
	s.Mark("b")
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("len = %d after clear", s.Len())
	}
}
