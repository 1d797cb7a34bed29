package gateway

import (
	"testing"
	"time"
)

func TestCooldownTracker_TripsAtThreshold(t *testing.T) {
	tr := NewCooldownTracker(30*time.Second, 3)

	tr.RecordFailure("openai", "gpt-4o")
	tr.RecordFailure("openai", "gpt-4o")
	if tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("cooling after 2 failures, threshold is 3")
	}

	tr.RecordFailure("openai", "gpt-4o")
	if !tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("expected cooldown after 3 failures")
	}
}

func TestCooldownTracker_ExpiresAfterWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr := NewCooldownTracker(30*time.Second, 3)
	tr.SetClock(func() time.Time { return now })

	tr.ForceCooldown("openai", "gpt-4o")
	if !tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("expected cooldown immediately after trip")
	}

	now = base.Add(29 * time.Second)
	if !tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("cooldown ended before the window elapsed")
	}

	now = base.Add(31 * time.Second)
	if tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("cooldown persisted past the window")
	}
}

func TestCooldownTracker_SuccessClearsState(t *testing.T) {
	tr := NewCooldownTracker(30*time.Second, 3)

	tr.RecordFailure("openai", "gpt-4o")
	tr.RecordFailure("openai", "gpt-4o")
	tr.RecordSuccess("openai", "gpt-4o")

	// Counter restarted, so two more failures must not trip.
	tr.RecordFailure("openai", "gpt-4o")
	tr.RecordFailure("openai", "gpt-4o")
	if tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("success did not reset the failure count")
	}
}

func TestCooldownTracker_WindowResetsFailureCount(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr := NewCooldownTracker(30*time.Second, 3)
	tr.SetClock(func() time.Time { return now })

	tr.RecordFailure("openai", "gpt-4o")
	tr.RecordFailure("openai", "gpt-4o")

	// Old failures age out of the counting window.
	now = base.Add(45 * time.Second)
	tr.RecordFailure("openai", "gpt-4o")
	if tr.InCooldown("openai", "gpt-4o") {
		t.Fatal("stale failures counted toward the threshold")
	}
}

func TestCooldownTracker_PairsAreIndependent(t *testing.T) {
	tr := NewCooldownTracker(30*time.Second, 3)

	tr.ForceCooldown("openai", "gpt-4o")
	if tr.InCooldown("openai", "gpt-4o-mini") {
		t.Fatal("cooldown leaked to a sibling model")
	}
	if tr.InCooldown("anthropic", "gpt-4o") {
		t.Fatal("cooldown leaked to another provider")
	}
}

func TestCooldownTracker_CoolingPairs(t *testing.T) {
	tr := NewCooldownTracker(30*time.Second, 3)

	tr.ForceCooldown("openai", "gpt-4o")
	tr.RecordFailure("anthropic", "claude-sonnet-4")

	pairs := tr.CoolingPairs()
	if len(pairs) != 1 || pairs[0] != "openai/gpt-4o" {
		t.Fatalf("cooling pairs = %v, want [openai/gpt-4o]", pairs)
	}
}
