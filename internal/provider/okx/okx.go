// Package okx implements the OKX USDT-margined swap venue provider over
// "ws/v5/public" tickers + open-interest channels and
// "/api/v5/public/instruments". The websocket plumbing (dial, JSON
// subscribe, ping/pong framing) is routed through the shared
// internal/provider/wsconn reconnect loop instead of a bespoke per-reader
// dial loop; the REST instrument-catalog fetch uses a custom User-Agent
// RoundTripper.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"oisentry/internal/config"
	"oisentry/internal/model"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
	"oisentry/internal/provider/wsconn"
)

const (
	providerID      = "okx-futures"
	wsURL           = "wss://ws.okx.com:8443/ws/v5/public"
	instrumentsURL  = "https://www.okx.com/api/v5/public/instruments?instType=SWAP"
	userAgentString = "oisentry/1.0"
)

// userAgentTransport tags outbound REST calls with a stable User-Agent.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// Provider connects to OKX USDT-margined perpetual swaps.
type Provider struct {
	*provider.Base

	httpClient *http.Client
	allowlist  *config.VenueAllowlist
	log        *obs.Log

	available []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds an unconnected OKX provider.
func New(log *obs.Log, allowlist *config.VenueAllowlist) *Provider {
	return &Provider{
		Base:      provider.NewBase(providerID),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: userAgentTransport{agent: userAgentString},
		},
		allowlist: allowlist,
		log:       log,
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	p.SetState(provider.StateConnecting)

	symbols, err := provider.FetchCatalogWithRetry(ctx, time.Second, p.fetchCatalog)
	if err != nil {
		p.RecordError(err)
		return fmt.Errorf("okx: fetch instrument catalog: %w", err)
	}
	p.available = provider.FilterValidSymbols(normalizeToUSDTTSymbols(symbols))

	p.SetState(provider.StateConnected)
	p.log.WithComponent(providerID).WithField("symbols", len(p.available)).Info("connected")
	return nil
}

type instrumentsResponse struct {
	Data []struct {
		InstID    string `json:"instId"`
		State     string `json:"state"`
		SettleCcy string `json:"settleCcy"`
		CtType    string `json:"ctType"`
	} `json:"data"`
}

func (p *Provider) fetchCatalog(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instrumentsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed instrumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	var out []string
	for _, inst := range parsed.Data {
		if inst.State != "live" || inst.SettleCcy != "USDT" || inst.CtType != "linear" {
			continue
		}
		out = append(out, inst.InstID)
	}
	return out, nil
}

// normalizeToUSDTTSymbols converts OKX's "BTC-USDT-SWAP" instId shape into
// the flat "BTCUSDT" form used everywhere else in the engine; outbound
// subscribe/unsubscribe calls rebuild the instId with toInstID.
func normalizeToUSDTTSymbols(instIDs []string) []string {
	out := make([]string, 0, len(instIDs))
	for _, id := range instIDs {
		out = append(out, toFlatSymbol(id))
	}
	return out
}

func toFlatSymbol(instID string) string {
	flat := ""
	for i := 0; i < len(instID); i++ {
		c := instID[i]
		if c == '-' {
			continue
		}
		flat += string(c)
	}
	if len(flat) > 4 && flat[len(flat)-4:] == "SWAP" {
		flat = flat[:len(flat)-4]
	}
	return flat
}

func toInstID(flatSymbol string) string {
	if len(flatSymbol) < 5 || flatSymbol[len(flatSymbol)-4:] != "USDT" {
		return flatSymbol
	}
	base := flatSymbol[:len(flatSymbol)-4]
	return base + "-USDT-SWAP"
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

// Subscribe opens one websocket connection carrying both the tickers and
// open-interest channel args for every chosen symbol: price and OI share
// one public stream on this venue.
func (p *Provider) Subscribe(symbols []string) error {
	filtered := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if p.allowlist.Allowed("okx", s) {
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
			return subscribeChannels(conn, filtered)
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

func subscribeChannels(conn *websocket.Conn, symbols []string) error {
	args := make([]map[string]string, 0, len(symbols)*2)
	for _, s := range symbols {
		instID := toInstID(s)
		args = append(args,
			map[string]string{"channel": "tickers", "instId": instID},
			map[string]string{"channel": "open-interest", "instId": instID},
		)
	}
	return conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args})
}

func (p *Provider) Unsubscribe(symbols []string) error {
	p.MarkUnsubscribed(symbols)
	return nil
}

type channelEnvelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Event string            `json:"event"`
	Data  []json.RawMessage `json:"data"`
}

type tickerPayload struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

type oiPayload struct {
	InstID string `json:"instId"`
	OI     string `json:"oi"`
	Ts     string `json:"ts"`
}

func (p *Provider) handleMessage(raw []byte) {
	var env channelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Event != "" {
		return
	}
	if len(env.Data) == 0 {
		return
	}

	switch env.Arg.Channel {
	case "tickers":
		p.handleTicker(env.Data[0])
	case "open-interest":
		p.handleOpenInterest(env.Data[0])
	}
}

func (p *Provider) handleTicker(raw json.RawMessage) {
	var t tickerPayload
	if err := json.Unmarshal(raw, &t); err != nil {
		p.RecordError(err)
		return
	}
	price, err := strconv.ParseFloat(t.Last, 64)
	if err != nil || price <= 0 {
		return
	}
	ts, _ := strconv.ParseInt(t.Ts, 10, 64)
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	symbol := toFlatSymbol(t.InstID)
	u := model.MarketUpdate{
		ProviderID:  providerID,
		MarketType:  model.MarketFutures,
		Symbol:      symbol,
		TimestampMs: ts,
		Price:       model.Ptr(price),
	}
	if u.Valid() {
		p.Emit(u)
	} else {
		obs.EmitDrop(p.log, obs.DropMarketUpdateBadData, providerID, "futures", symbol, "ticker")
	}
}

func (p *Provider) handleOpenInterest(raw json.RawMessage) {
	var o oiPayload
	if err := json.Unmarshal(raw, &o); err != nil {
		p.RecordError(err)
		return
	}
	oi, err := strconv.ParseFloat(o.OI, 64)
	if err != nil {
		return
	}
	ts, _ := strconv.ParseInt(o.Ts, 10, 64)
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	symbol := toFlatSymbol(o.InstID)
	u := model.MarketUpdate{
		ProviderID:              providerID,
		MarketType:              model.MarketFutures,
		Symbol:                  symbol,
		TimestampMs:             ts,
		OpenInterest:            model.Ptr(oi),
		OpenInterestTimestampMs: model.Ptr(ts),
	}
	if u.Valid() {
		p.Emit(u)
	} else {
		obs.EmitDrop(p.log, obs.DropMarketUpdateBadData, providerID, "futures", symbol, "open-interest")
	}
}
