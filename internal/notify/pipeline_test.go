package notify

import (
	"testing"

	"oisentry/internal/model"
	"oisentry/internal/obs"
)

type recordingSink struct {
	sent []string
	fail bool
}

func (s *recordingSink) SendMessage(chatID, text string) bool {
	if s.fail {
		return false
	}
	s.sent = append(s.sent, chatID+":"+text)
	return true
}

func TestPriorityOfThresholds(t *testing.T) {
	cases := []struct {
		abs  float64
		want Priority
	}{
		{4.9, PriorityLow},
		{5.0, PriorityNormal},
		{9.9, PriorityNormal},
		{10.0, PriorityHigh},
		{25.0, PriorityHigh},
	}
	for _, c := range cases {
		if got := PriorityOf(c.abs); got != c.want {
			t.Fatalf("PriorityOf(%v) = %v, want %v", c.abs, got, c.want)
		}
	}
}

func signal(symbol string, oiChange float64) *model.Signal {
	return &model.Signal{Symbol: symbol, OIChangePercent: oiChange}
}

func TestEnqueueDeduplicatesWithinWindow(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, obs.GetLogger())

	if !p.Enqueue("chat1", "first", signal("BTCUSDT", 12.345)) {
		t.Fatal("first enqueue should succeed")
	}
	if p.Enqueue("chat1", "duplicate", signal("BTCUSDT", 12.349)) {
		t.Fatal("second enqueue with the same rounded oi change should be deduplicated")
	}

	stats := p.Stats()
	if stats.Enqueued != 1 || stats.Deduplicated != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEnqueueWithoutSignalIsNeverDeduplicated(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, obs.GetLogger())

	p.Enqueue("chat1", "a", nil)
	p.Enqueue("chat1", "b", nil)

	stats := p.Stats()
	if stats.Enqueued != 2 {
		t.Fatalf("expected both non-signal messages enqueued, got %+v", stats)
	}
}

func TestEnforceCapacityDropsLowBeforeHigh(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, obs.GetLogger())

	for i := 0; i < maxQueueDepth; i++ {
		p.Enqueue("chat1", "low", signal(symbolFor(i), 1))
	}
	p.Enqueue("chat1", "high", signal("OVERFLOW", 50))

	stats := p.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("expected exactly one drop once capacity is exceeded, got %+v", stats)
	}
	if stats.QueueDepth != maxQueueDepth {
		t.Fatalf("expected queue depth capped at %d, got %d", maxQueueDepth, stats.QueueDepth)
	}
}

func symbolFor(i int) string {
	return "SYM" + string(rune('A'+i%26)) + string(rune('A'+(i/26)%26)) + string(rune('A'+(i/676)%26))
}

func TestDrainOnceDeliversHighestPriorityFirst(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, obs.GetLogger())

	p.Enqueue("chat1", "low-msg", signal("A", 1))
	p.Enqueue("chat1", "high-msg", signal("B", 20))

	p.drainOnce()

	if len(sink.sent) != 2 {
		t.Fatalf("expected both messages delivered, got %d", len(sink.sent))
	}
	if sink.sent[0] != "chat1:high-msg" {
		t.Fatalf("expected high priority message delivered first, got %v", sink.sent)
	}
}

func TestDeliverRetriesThenMarksFailed(t *testing.T) {
	sink := &recordingSink{fail: true}
	p := NewPipeline(sink, obs.GetLogger())

	p.Enqueue("chat1", "msg", signal("A", 1))
	p.drainOnce()

	stats := p.Stats()
	if stats.Failed != 1 {
		t.Fatalf("expected message to be marked failed after exhausting retries, got %+v", stats)
	}
}

func TestPurgeDedupDiscardsOldEntries(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, obs.GetLogger())

	p.Enqueue("chat1", "a", signal("A", 5))
	if len(p.dedup) != 1 {
		t.Fatalf("expected one dedup entry, got %d", len(p.dedup))
	}

	p.PurgeDedup(0)
	if len(p.dedup) != 0 {
		t.Fatalf("expected dedup map purged, got %d entries", len(p.dedup))
	}
}
