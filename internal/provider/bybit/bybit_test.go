package bybit

import (
	"testing"

	"oisentry/internal/config"
	"oisentry/internal/model"
	"oisentry/internal/obs"
)

func TestParseInstrumentSymbolsFiltersNonTradingAndNonUSDT(t *testing.T) {
	resp := map[string]interface{}{
		"result": map[string]interface{}{
			"list": []interface{}{
				map[string]interface{}{"symbol": "BTCUSDT", "status": "Trading", "quoteCoin": "USDT"},
				map[string]interface{}{"symbol": "ETHUSDT", "status": "Closed", "quoteCoin": "USDT"},
				map[string]interface{}{"symbol": "BTCUSDC", "status": "Trading", "quoteCoin": "USDC"},
				map[string]interface{}{"symbol": "SOLUSDT", "status": "Trading", "quoteCoin": "USDT"},
			},
		},
	}

	out, err := parseInstrumentSymbols(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 tradable USDT symbols, got %v", out)
	}
	if out[0] != "BTCUSDT" || out[1] != "SOLUSDT" {
		t.Fatalf("unexpected symbol set: %v", out)
	}
}

func TestParseInstrumentSymbolsEmptyList(t *testing.T) {
	resp := map[string]interface{}{"result": map[string]interface{}{"list": []interface{}{}}}
	out, err := parseInstrumentSymbols(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no symbols, got %v", out)
	}
}

func newTestProvider() *Provider {
	return New(obs.GetLogger(), &config.VenueAllowlist{})
}

func TestHandleMessageIgnoresNonTickerFrames(t *testing.T) {
	p := newTestProvider()
	var got *model.MarketUpdate
	p.OnUpdate(func(u model.MarketUpdate) { got = &u })

	p.handleMessage([]byte(`{"topic":"orderbook.50.BTCUSDT","data":{}}`))
	if got != nil {
		t.Fatalf("expected no update for a non-ticker frame, got %+v", got)
	}
}

func TestHandleMessageEmitsValidTicker(t *testing.T) {
	p := newTestProvider()
	var got *model.MarketUpdate
	p.OnUpdate(func(u model.MarketUpdate) { got = &u })

	p.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"50000.5","markPrice":"50001","openInterest":"12345.6","fundingRate":"0.0001"}}`))

	if got == nil {
		t.Fatal("expected an emitted update for a valid ticker frame")
	}
	if got.Price == nil || *got.Price != 50000.5 {
		t.Fatalf("expected price 50000.5, got %+v", got.Price)
	}
	if got.OpenInterest == nil || *got.OpenInterest != 12345.6 {
		t.Fatalf("expected OI 12345.6, got %+v", got.OpenInterest)
	}
	if got.OpenInterestTimestampMs == nil {
		t.Fatal("expected OI timestamp set alongside OI value")
	}
}

func TestHandleMessageDropsInvalidSymbolSilently(t *testing.T) {
	p := newTestProvider()
	var got *model.MarketUpdate
	p.OnUpdate(func(u model.MarketUpdate) { got = &u })

	// lower-case symbol fails isValidSymbol, so the update must be dropped,
	// not emitted.
	p.handleMessage([]byte(`{"topic":"tickers.btcusdt","data":{"symbol":"btcusdt","lastPrice":"50000"}}`))
	if got != nil {
		t.Fatalf("expected invalid symbol to be dropped, got %+v", got)
	}
}

func TestHandleMessageIgnoresEmptySymbol(t *testing.T) {
	p := newTestProvider()
	var got *model.MarketUpdate
	p.OnUpdate(func(u model.MarketUpdate) { got = &u })

	p.handleMessage([]byte(`{"topic":"tickers.","data":{"symbol":""}}`))
	if got != nil {
		t.Fatalf("expected no update for an empty symbol, got %+v", got)
	}
}
