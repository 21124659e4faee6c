package trigger

import (
	"context"
	"testing"
	"time"

	"oisentry/internal/bucket"
	"oisentry/internal/market"
	"oisentry/internal/metrics"
	"oisentry/internal/model"
	"oisentry/internal/notify"
	"oisentry/internal/obs"
	"oisentry/internal/store"
)

type fakeChatSink struct {
	sent []string
}

func (f *fakeChatSink) SendMessage(chatID, text string) bool {
	f.sent = append(f.sent, chatID+":"+text)
	return true
}

func testRenderer(t model.Trigger, symbol string, m *model.Metrics, signalNumber int) (string, string) {
	return t.UserID, symbol
}

func feedOI(store *bucket.Store, state *market.State, symbol string, startMs int64, points []float64, stepMs int64) {
	for i, oi := range points {
		ts := startMs + int64(i)*stepMs
		u := &model.MarketUpdate{Symbol: symbol, TimestampMs: ts, OpenInterest: model.Ptr(oi)}
		ooo := store.AddPoint(symbol, u, nil, nil)
		state.Update(symbol, ts, nil, model.Ptr(oi), ooo)
	}
}

func newTestEvaluator(t *testing.T, nowMs int64) (*Evaluator, *bucket.Store, *market.State, *store.MemorySignalStore, *fakeChatSink) {
	t.Helper()
	bstore := bucket.New(300, 70)
	mstate := market.New(10)
	calc := metrics.New(bstore, mstate, 2)
	calc.NowFunc = func() time.Time { return time.UnixMilli(nowMs) }

	signals := store.NewMemorySignalStore()
	sink := &fakeChatSink{}
	pipeline := notify.NewPipeline(sink, obs.GetLogger())

	triggerRepo := store.NewMemoryTriggerStore()
	registry := NewRegistry(triggerRepo)

	e := NewEvaluator(Config{}, registry, calc, signals, pipeline, notify.NewFixedCooldown(), testRenderer, obs.GetLogger())
	return e, bstore, mstate, signals, sink
}

func TestDynamicIntervalGrowsAfterDebounceThreshold(t *testing.T) {
	cases := []struct {
		n    int
		want int64
	}{
		{0, 1000},
		{2, 1000},
		{3, 2000},
		{4, 4000},
		{11, 256000},
		{20, 256000}, // capped at 2^8
	}
	for _, c := range cases {
		if got := dynamicInterval(1000, c.n, 3); got != c.want {
			t.Fatalf("dynamicInterval(1000, %d, 3) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestEvaluateFiresAndPersistsSignalOnThresholdCross(t *testing.T) {
	e, bstore, mstate, signals, _ := newTestEvaluator(t, 60_000)

	points := make([]float64, 60)
	for i := range points {
		points[i] = 100 + float64(i)*(6.0/59.0)
	}
	feedOI(bstore, mstate, "BTCUSDT", 0, points, 1000)

	ctx := context.Background()
	e.registry.repo.Save(ctx, model.Trigger{ID: "t1", UserID: "u1", Direction: model.DirectionUp, OIChangePercent: 5, TimeIntervalMinutes: 1, IsActive: true})
	e.registry.Init(ctx)

	trig := e.registry.GetAllActive()[0]
	e.evaluate(trig, "BTCUSDT", 50000)

	saved, _ := signals.RecentBySymbol(ctx, "BTCUSDT", 1)
	if len(saved) != 1 {
		t.Fatalf("expected one persisted signal, got %d", len(saved))
	}
	if got := e.pipeline.Stats().Enqueued; got != 1 {
		t.Fatalf("expected one rendered notification enqueued, got %d", got)
	}
}

func TestEvaluateDoesNotFireBelowThreshold(t *testing.T) {
	e, bstore, mstate, signals, sink := newTestEvaluator(t, 60_000)

	points := make([]float64, 60)
	for i := range points {
		points[i] = 100 + float64(i)*(1.0/59.0) // ~1% change, below the 5% threshold
	}
	feedOI(bstore, mstate, "BTCUSDT", 0, points, 1000)

	ctx := context.Background()
	trig := model.Trigger{ID: "t1", UserID: "u1", Direction: model.DirectionUp, OIChangePercent: 5, TimeIntervalMinutes: 1, IsActive: true}
	e.evaluate(trig, "BTCUSDT", 50000)

	saved, _ := signals.RecentBySymbol(ctx, "BTCUSDT", 1)
	if len(saved) != 0 {
		t.Fatalf("expected no signal below threshold, got %d", len(saved))
	}
	if len(sink.sent) != 0 {
		t.Fatalf("expected no notification below threshold, got %d", len(sink.sent))
	}
}

func TestEvaluateRespectsDebounceInterval(t *testing.T) {
	e, bstore, mstate, _, _ := newTestEvaluator(t, 60_000)

	points := make([]float64, 60)
	for i := range points {
		points[i] = 100 + float64(i)*(6.0/59.0)
	}
	feedOI(bstore, mstate, "BTCUSDT", 0, points, 1000)

	trig := model.Trigger{ID: "t1", UserID: "u1", Direction: model.DirectionUp, OIChangePercent: 5, TimeIntervalMinutes: 1, IsActive: true}
	e.cfg.BaseIntervalMs = 60_000

	e.evaluate(trig, "BTCUSDT", 50000)
	firstCount := e.fireCount[checkKey(trig.ID, "BTCUSDT")]

	// Re-evaluating immediately must be suppressed by the debounce interval.
	e.evaluate(trig, "BTCUSDT", 50000)
	secondCount := e.fireCount[checkKey(trig.ID, "BTCUSDT")]

	if firstCount != 1 || secondCount != 1 {
		t.Fatalf("expected the second evaluation within the debounce window to be a no-op, got first=%d second=%d", firstCount, secondCount)
	}
}

func TestStopClearsPendingAndCache(t *testing.T) {
	e, _, _, _, _ := newTestEvaluator(t, 0)
	e.pending["BTCUSDT"] = 50000
	e.cache["BTCUSDT|1"] = cacheEntry{}

	e.Stop()

	if len(e.pending) != 0 {
		t.Fatal("expected pending map cleared on stop")
	}
	if len(e.cache) != 0 {
		t.Fatal("expected metric cache cleared on stop")
	}
	if !e.stopped {
		t.Fatal("expected stopped flag set")
	}
}

func TestOnPriceUpdateIgnoredAfterStop(t *testing.T) {
	e, _, _, _, _ := newTestEvaluator(t, 0)
	e.Stop()
	e.OnPriceUpdate("BTCUSDT", 50000)

	if len(e.pending) != 0 {
		t.Fatal("expected price updates to be ignored after stop")
	}
}
