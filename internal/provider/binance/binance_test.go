package binance

import (
	"testing"
	"time"

	"oisentry/internal/config"
	"oisentry/internal/model"
	"oisentry/internal/obs"
)

func newTestProvider() *Provider {
	return New(obs.GetLogger(), &config.VenueAllowlist{})
}

func testUpdate(symbol string) model.MarketUpdate {
	return model.MarketUpdate{Symbol: symbol, TimestampMs: time.Now().UnixMilli()}
}

func TestAttachOIUsesFreshCachedReading(t *testing.T) {
	p := newTestProvider()
	now := time.Now().UnixMilli()
	p.recordOI("BTCUSDT", 12345.6, now)

	u := testUpdate("BTCUSDT")
	p.attachOI(&u)

	if u.OpenInterest == nil || *u.OpenInterest != 12345.6 {
		t.Fatalf("expected fresh OI attached, got %+v", u.OpenInterest)
	}
}

func TestAttachOIIgnoresStaleReading(t *testing.T) {
	p := newTestProvider()
	stale := time.Now().Add(-91 * time.Second).UnixMilli()
	p.recordOI("BTCUSDT", 12345.6, stale)

	u := testUpdate("BTCUSDT")
	p.attachOI(&u)

	if u.OpenInterest != nil {
		t.Fatalf("expected stale OI not attached, got %v", *u.OpenInterest)
	}
}

func TestAttachOIIgnoresUnknownSymbol(t *testing.T) {
	p := newTestProvider()
	p.recordOI("BTCUSDT", 1, time.Now().UnixMilli())

	u := testUpdate("ETHUSDT")
	p.attachOI(&u)

	if u.OpenInterest != nil {
		t.Fatal("expected no OI attached for a symbol with no cached reading")
	}
}
