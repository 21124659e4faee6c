package bucket

import (
	"testing"

	"oisentry/internal/model"
)

func update(ts int64, oi float64) *model.MarketUpdate {
	return &model.MarketUpdate{
		Symbol:       "BTCUSDT",
		TimestampMs:  ts,
		OpenInterest: model.Ptr(oi),
	}
}

func TestAddPointOpenCloseHighLow(t *testing.T) {
	s := New(300, 70)

	s.AddPoint("BTCUSDT", update(1000, 100), nil, nil)
	s.AddPoint("BTCUSDT", update(2000, 120), nil, nil)
	s.AddPoint("BTCUSDT", update(3000, 90), nil, nil)

	snaps := s.BucketsInRange("BTCUSDT", 0, 4000, model.Resolution15s)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(snaps))
	}
	b := snaps[0].Bucket
	if b.OIOpen != 100 || b.OIClose != 90 {
		t.Fatalf("open/close wrong: open=%v close=%v", b.OIOpen, b.OIClose)
	}
	if b.OIHigh != 120 || b.OILow != 90 {
		t.Fatalf("high/low wrong: high=%v low=%v", b.OIHigh, b.OILow)
	}
	if b.Count != 3 {
		t.Fatalf("count wrong: %d", b.Count)
	}
}

func TestAddPointOutOfOrder(t *testing.T) {
	s := New(300, 70)

	base := int64(10_000)
	s.AddPoint("BTCUSDT", update(base, 100), nil, nil)
	ooo1 := s.AddPoint("BTCUSDT", update(base+1000, 101), nil, nil)
	ooo2 := s.AddPoint("BTCUSDT", update(base-500, 99), nil, nil)
	ooo3 := s.AddPoint("BTCUSDT", update(base+2000, 102), nil, nil)

	if ooo1 || ooo3 {
		t.Fatalf("expected in-order points to report no out-of-order")
	}
	if !ooo2 {
		t.Fatalf("expected out-of-order point to be detected")
	}

	snaps := s.BucketsInRange("BTCUSDT", 0, base+3000, model.Resolution15s)
	if len(snaps) != 1 {
		t.Fatalf("expected points to land in one 15s bucket, got %d", len(snaps))
	}
	b := snaps[0].Bucket
	if b.FirstTs != base-500 {
		t.Fatalf("firstTs wrong: %d", b.FirstTs)
	}
	if b.LastTs != base+2000 {
		t.Fatalf("lastTs wrong: %d", b.LastTs)
	}
	if b.OIHigh != 102 || b.OILow != 99 {
		t.Fatalf("high/low should reflect all four samples: high=%v low=%v", b.OIHigh, b.OILow)
	}
}

func TestRetentionEviction(t *testing.T) {
	s := New(3, 70)
	for i := int64(0); i < 10; i++ {
		s.AddPoint("ETHUSDT", update(i*15_000, float64(100+i)), nil, nil)
	}
	if got := s.HistoryLength("ETHUSDT"); got != 3 {
		t.Fatalf("expected retention cap of 3, got %d", got)
	}
}

func TestCleanupSymbolRemovesAllState(t *testing.T) {
	s := New(300, 70)
	s.AddPoint("BTCUSDT", update(1000, 100), nil, nil)
	s.CleanupSymbol("BTCUSDT")
	if got := s.HistoryLength("BTCUSDT"); got != 0 {
		t.Fatalf("expected no history after cleanup, got %d", got)
	}
	if snaps := s.BucketsInRange("BTCUSDT", 0, 100_000, model.Resolution15s); len(snaps) != 0 {
		t.Fatalf("expected no buckets after cleanup, got %d", len(snaps))
	}
}

func TestVolumeTotalsRederivedFromComponents(t *testing.T) {
	s := New(300, 70)
	u := &model.MarketUpdate{
		Symbol:         "BTCUSDT",
		TimestampMs:    1000,
		VolumeBuy:      model.Ptr(1.5),
		VolumeSell:     model.Ptr(0.5),
		VolumeBuyQuote: model.Ptr(150.0),
		VolumeSellQuote: model.Ptr(50.0),
	}
	s.AddPoint("BTCUSDT", u, nil, nil)
	s.AddPoint("BTCUSDT", u, nil, nil)

	snaps := s.BucketsInRange("BTCUSDT", 0, 2000, model.Resolution15s)
	b := snaps[0].Bucket
	if b.TotalVolume != b.VolumeBuy+b.VolumeSell {
		t.Fatalf("total volume not rederived correctly")
	}
	if b.TotalQuoteVolume != b.VolumeBuyQuote+b.VolumeSellQuote {
		t.Fatalf("total quote volume not rederived correctly")
	}
	if b.VolumeBuy != 3.0 || b.VolumeSell != 1.0 {
		t.Fatalf("volume components not accumulated: buy=%v sell=%v", b.VolumeBuy, b.VolumeSell)
	}
}
