package ingest

import (
	"context"
	"testing"
	"time"

	"oisentry/internal/bucket"
	"oisentry/internal/market"
	"oisentry/internal/model"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
)

type fakeProvider struct {
	*provider.Base
	connectErr error
}

func newFakeProvider(id string, connectErr error) *fakeProvider {
	return &fakeProvider{Base: provider.NewBase(id), connectErr: connectErr}
}

func (f *fakeProvider) Connect(ctx context.Context) error {
	if f.connectErr == nil {
		f.SetState(provider.StateConnected)
	}
	return f.connectErr
}
func (f *fakeProvider) Disconnect()                          { f.SetState(provider.StateDisconnected) }
func (f *fakeProvider) Subscribe(symbols []string) error      { f.MarkSubscribed(symbols); return nil }
func (f *fakeProvider) Unsubscribe(symbols []string) error    { f.MarkUnsubscribed(symbols); return nil }
func (f *fakeProvider) AvailableSymbols() []string            { return []string{"BTCUSDT"} }

type recordingNotifier struct {
	prices map[string]float64
}

func (r *recordingNotifier) OnPriceUpdate(symbol string, price float64) {
	if r.prices == nil {
		r.prices = make(map[string]float64)
	}
	r.prices[symbol] = price
}

func newTestGateway(notifier SymbolNotifier) *Gateway {
	return New(obs.GetLogger(), bucket.New(300, 70), market.New(10), 4, notifier)
}

func TestConnectSucceedsIfAnyProviderConnects(t *testing.T) {
	g := newTestGateway(nil)
	g.RegisterProvider(newFakeProvider("ok", nil))
	g.RegisterProvider(newFakeProvider("bad", context.Canceled))

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("expected success when at least one provider connects, got %v", err)
	}
	g.Disconnect()
}

func TestConnectFailsWhenEveryProviderFails(t *testing.T) {
	g := newTestGateway(nil)
	g.RegisterProvider(newFakeProvider("bad1", context.Canceled))
	g.RegisterProvider(newFakeProvider("bad2", context.Canceled))

	if err := g.Connect(context.Background()); err == nil {
		t.Fatal("expected error when every provider fails to connect")
	}
	g.Disconnect()
}

func TestRouteDeliversUpdateToSharedState(t *testing.T) {
	notifier := &recordingNotifier{}
	g := newTestGateway(notifier)
	p := newFakeProvider("ok", nil)
	g.RegisterProvider(p)

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer g.Disconnect()

	p.Emit(model.MarketUpdate{
		ProviderID:  "ok",
		Symbol:      "BTCUSDT",
		TimestampMs: 1000,
		Price:       model.Ptr(50000.0),
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := notifier.prices["BTCUSDT"]; ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if notifier.prices["BTCUSDT"] != 50000.0 {
		t.Fatalf("expected notifier to observe price update, got %+v", notifier.prices)
	}
}

func TestRouteDropsInvalidUpdatesSilently(t *testing.T) {
	g := newTestGateway(nil)
	p := newFakeProvider("ok", nil)
	g.RegisterProvider(p)

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer g.Disconnect()

	// Empty symbol fails validation; this must not panic and must not
	// reach the notifier.
	p.Emit(model.MarketUpdate{ProviderID: "ok", Symbol: "", TimestampMs: 1000})
	time.Sleep(10 * time.Millisecond)
}

func TestActiveProvidersReflectsConnectionState(t *testing.T) {
	g := newTestGateway(nil)
	g.RegisterProvider(newFakeProvider("ok", nil))
	g.RegisterProvider(newFakeProvider("bad", context.Canceled))

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer g.Disconnect()

	active := g.ActiveProviders()
	if len(active) != 1 || active[0] != "ok" {
		t.Fatalf("expected only the connected provider listed active, got %v", active)
	}
}

// t, t+1s, t-500ms, t+2s: exactly one of the four points (t-500ms) arrives
// behind the latest timestamp already seen, so OutOfOrderCount must land on
// 1, not 3 (which is what an inverted out-of-order signal would produce).
func TestProcessCountsOutOfOrderPointsCorrectly(t *testing.T) {
	g := newTestGateway(nil)
	// Aligned well inside a 15s bucket boundary so all four points land in
	// the same bucket regardless of the raw epoch value chosen.
	base := (int64(1_700_000_000_000)/15000)*15000 + 7000

	for _, ts := range []int64{base, base + 1000, base - 500, base + 2000} {
		g.process(model.MarketUpdate{
			ProviderID:  "ok",
			Symbol:      "BTCUSDT",
			TimestampMs: ts,
			Price:       model.Ptr(50000.0),
		})
	}

	st := g.state.Get("BTCUSDT")
	if st == nil {
		t.Fatal("expected symbol state to be tracked")
	}
	if st.OutOfOrderCount != 1 {
		t.Fatalf("expected exactly one out-of-order point, got %d", st.OutOfOrderCount)
	}
}

func TestLaneForIsStablePerSymbol(t *testing.T) {
	a := laneFor("BTCUSDT", 8)
	b := laneFor("BTCUSDT", 8)
	if a != b {
		t.Fatalf("expected stable lane assignment, got %d then %d", a, b)
	}
}
