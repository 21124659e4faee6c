package notify

import (
	"testing"
	"time"
)

func TestFixedCooldownSuppressesWithinWindow(t *testing.T) {
	c := NewFixedCooldown()
	now := time.Unix(1000, 0)

	if !c.Allow("BTCUSDT", 60, now) {
		t.Fatal("first fire should always be allowed")
	}
	if c.Allow("BTCUSDT", 60, now.Add(30*time.Second)) {
		t.Fatal("fire within the cooldown window should be suppressed")
	}
	if !c.Allow("BTCUSDT", 60, now.Add(61*time.Second)) {
		t.Fatal("fire past the cooldown window should be allowed")
	}
}

func TestFixedCooldownPurgeDiscardsStaleKeys(t *testing.T) {
	c := NewFixedCooldown()
	now := time.Unix(1000, 0)
	c.Allow("BTCUSDT", 60, now)

	c.Purge(time.Hour, now.Add(2*time.Hour))

	if len(c.lastFire) != 0 {
		t.Fatalf("expected stale key purged, got %d entries", len(c.lastFire))
	}
}

func TestBackoffCooldownGrowsMultiplierOnConsecutiveFires(t *testing.T) {
	b := NewBackoffCooldown()
	now := time.Unix(0, 0)

	if !b.Allow("BTCUSDT", 10, now) {
		t.Fatal("first fire should always be allowed")
	}

	// 14s later: base cooldown (10s * 1.5^1 = 15s) not yet elapsed.
	if b.Allow("BTCUSDT", 10, now.Add(14*time.Second)) {
		t.Fatal("fire before the backed-off cooldown elapses should be suppressed")
	}
	if !b.Allow("BTCUSDT", 10, now.Add(16*time.Second)) {
		t.Fatal("fire after the backed-off cooldown elapses should be allowed")
	}
}

func TestBackoffCooldownCapsMultiplierAtEight(t *testing.T) {
	b := NewBackoffCooldown()
	now := time.Unix(0, 0)

	e := &backoffEntry{lastFire: now, consecutive: 20}
	b.entries["BTCUSDT"] = e

	if b.Allow("BTCUSDT", 10, now.Add(79*time.Second)) {
		t.Fatal("fire before the capped 8x cooldown (80s) elapses should be suppressed")
	}
	if !b.Allow("BTCUSDT", 10, now.Add(81*time.Second)) {
		t.Fatal("fire after the capped 8x cooldown elapses should be allowed")
	}
}

func TestBackoffCooldownPurge(t *testing.T) {
	b := NewBackoffCooldown()
	now := time.Unix(0, 0)
	b.Allow("BTCUSDT", 10, now)

	b.Purge(time.Hour, now.Add(2*time.Hour))

	if len(b.entries) != 0 {
		t.Fatalf("expected stale entry purged, got %d", len(b.entries))
	}
}
