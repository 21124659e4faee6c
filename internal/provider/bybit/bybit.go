// Package bybit implements the Bybit linear-perpetual venue provider over
// "v5/public/linear tickers.<SYMBOL>" and "/v5/market/instruments-info".
// REST instrument-catalog construction uses the bybit.go.api client; the
// websocket ticker stream reuses internal/provider/wsconn's reconnect+ping
// loop. Bybit's v5 linear ticker payload carries openInterest directly, so
// unlike Binance this provider needs no separate REST OI poller.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	bybitapi "github.com/bybit-exchange/bybit.go.api"
	"github.com/gorilla/websocket"

	"oisentry/internal/config"
	"oisentry/internal/model"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
	"oisentry/internal/provider/wsconn"
)

const (
	providerID = "bybit-futures"
	wsURL      = "wss://stream.bybit.com/v5/public/linear"
)

// Provider connects to Bybit USDT perpetual linear futures.
type Provider struct {
	*provider.Base

	client    *bybitapi.Client
	allowlist *config.VenueAllowlist
	log       *obs.Log

	available []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds an unconnected Bybit provider.
func New(log *obs.Log, allowlist *config.VenueAllowlist) *Provider {
	return &Provider{
		Base:      provider.NewBase(providerID),
		client:    bybitapi.NewBybitHttpClient("", "", bybitapi.WithBaseURL(bybitapi.MAINNET)),
		allowlist: allowlist,
		log:       log,
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	p.SetState(provider.StateConnecting)

	symbols, err := provider.FetchCatalogWithRetry(ctx, time.Second, p.fetchCatalog)
	if err != nil {
		p.RecordError(err)
		return fmt.Errorf("bybit: fetch instrument catalog: %w", err)
	}
	p.available = provider.FilterValidSymbols(symbols)

	p.SetState(provider.StateConnected)
	p.log.WithComponent(providerID).WithField("symbols", len(p.available)).Info("connected")
	return nil
}

func (p *Provider) fetchCatalog(ctx context.Context) ([]string, error) {
	params := map[string]interface{}{"category": "linear"}
	resp, err := p.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, err
	}
	return parseInstrumentSymbols(resp)
}

// parseInstrumentSymbols extracts symbol names from the generic
// map[string]interface{} response shape the bybit.go.api client returns.
func parseInstrumentSymbols(resp interface{}) ([]string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result struct {
			List []struct {
				Symbol string `json:"symbol"`
				Status string `json:"status"`
				QuoteCoin string `json:"quoteCoin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	var out []string
	for _, item := range parsed.Result.List {
		if item.Status != "Trading" || item.QuoteCoin != "USDT" {
			continue
		}
		out = append(out, item.Symbol)
	}
	return out, nil
}

func (p *Provider) Disconnect() {
	p.SetIntentionalDisconnect(true)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.SetState(provider.StateDisconnected)
}

func (p *Provider) AvailableSymbols() []string { return p.available }

// Subscribe opens one websocket connection carrying a batched
// tickers.<SYMBOL> topic per chosen symbol (<=50 per batch), reconnecting
// and re-subscribing automatically via wsconn.
func (p *Provider) Subscribe(symbols []string) error {
	filtered := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if p.allowlist.Allowed("bybit", s) {
			filtered = append(filtered, s)
		}
	}
	p.MarkSubscribed(filtered)

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go wsconn.Run(ctx, wsconn.Config{
		URL: wsURL,
		Subscribe: func(conn *websocket.Conn) error {
			return subscribeTopics(conn, filtered)
		},
		OnMessage:    p.handleMessage,
		OnConnected:  func() { p.SetState(provider.StateConnected) },
		PingInterval: 20 * time.Second,
		BaseDelay:    5 * time.Second,
		MaxDelay:     60 * time.Second,
		Log:          p.log,
		Intentional:  p.IsIntentionalDisconnect,
	})

	return nil
}

func subscribeTopics(conn *websocket.Conn, symbols []string) error {
	const batchSize = 50
	for i := 0; i < len(symbols); i += batchSize {
		end := i + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		topics := make([]string, 0, end-i)
		for _, s := range symbols[i:end] {
			topics = append(topics, "tickers."+s)
		}
		msg := map[string]interface{}{"op": "subscribe", "args": topics}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Unsubscribe(symbols []string) error {
	p.MarkUnsubscribed(symbols)
	return nil
}

type tickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol          string `json:"symbol"`
		LastPrice       string `json:"lastPrice"`
		MarkPrice       string `json:"markPrice"`
		OpenInterest    string `json:"openInterest"`
		FundingRate     string `json:"fundingRate"`
		Volume24h       string `json:"volume24h"`
		Turnover24h     string `json:"turnover24h"`
	} `json:"data"`
}

func (p *Provider) handleMessage(raw []byte) {
	if !strings.Contains(string(raw), "\"topic\":\"tickers.") {
		return
	}
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.RecordError(err)
		return
	}
	if msg.Data.Symbol == "" {
		return
	}

	u := model.MarketUpdate{
		ProviderID:  providerID,
		MarketType:  model.MarketFutures,
		Symbol:      msg.Data.Symbol,
		TimestampMs: time.Now().UnixMilli(),
	}
	if price, err := strconv.ParseFloat(msg.Data.LastPrice, 64); err == nil && price > 0 {
		u.Price = model.Ptr(price)
	}
	if mark, err := strconv.ParseFloat(msg.Data.MarkPrice, 64); err == nil && mark > 0 {
		u.MarkPrice = model.Ptr(mark)
	}
	if oi, err := strconv.ParseFloat(msg.Data.OpenInterest, 64); err == nil {
		u.OpenInterest = model.Ptr(oi)
		u.OpenInterestTimestampMs = model.Ptr(u.TimestampMs)
	}
	if fr, err := strconv.ParseFloat(msg.Data.FundingRate, 64); err == nil {
		u.FundingRate = model.Ptr(fr)
	}

	if u.Valid() {
		p.Emit(u)
	} else {
		obs.EmitDrop(p.log, obs.DropMarketUpdateBadData, providerID, "futures", msg.Data.Symbol, "ticker")
	}
}
