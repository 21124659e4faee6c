// Package binance implements the Binance futures venue provider over
// "!ticker@arr" and "@aggTrade" per symbol, "/fapi/v1/exchangeInfo", and
// "/fapi/v1/openInterest". REST instrument catalog and OI polling use the
// go-binance/v2/futures REST client; the aggTrade/ticker streaming uses
// its Ws*Serve family, applied to ticker price and signed aggressive
// volume rather than order-book deltas.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"oisentry/internal/config"
	"oisentry/internal/model"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
)

const providerID = "binance-futures"

// Provider connects to Binance USDT-M futures.
type Provider struct {
	*provider.Base

	client    *futures.Client
	allowlist *config.VenueAllowlist
	log       *obs.Log

	available []string

	oiMu    sync.RWMutex
	oiCache map[string]oiEntry

	volumeAcc *provider.VolumeAccumulator
	poller    *provider.OIPoller

	wsDone []chan struct{}
	wsStop []chan struct{}
}

type oiEntry struct {
	value float64
	atMs  int64
}

// New builds an unconnected Binance futures provider.
func New(log *obs.Log, allowlist *config.VenueAllowlist) *Provider {
	p := &Provider{
		Base:      provider.NewBase(providerID),
		client:    futures.NewClient("", ""),
		allowlist: allowlist,
		log:       log,
		oiCache:   make(map[string]oiEntry),
	}
	return p
}

// Connect fetches and validates the instrument catalog (retrying up to 5
// times with linear backoff) and marks the provider Connected on success.
func (p *Provider) Connect(ctx context.Context) error {
	p.SetState(provider.StateConnecting)

	symbols, err := provider.FetchCatalogWithRetry(ctx, time.Second, p.fetchCatalog)
	if err != nil {
		p.RecordError(err)
		return fmt.Errorf("binance: fetch instrument catalog: %w", err)
	}
	p.available = provider.FilterValidSymbols(symbols)

	p.volumeAcc = provider.NewVolumeAccumulator(250, 120*time.Millisecond, p.emitVolume)

	p.SetState(provider.StateConnected)
	p.log.WithComponent(providerID).WithField("symbols", len(p.available)).Info("connected")
	return nil
}

func (p *Provider) fetchCatalog(ctx context.Context) ([]string, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.Status != "TRADING" {
			continue
		}
		if s.QuoteAsset != "USDT" {
			continue
		}
		out = append(out, s.Symbol)
	}
	return out, nil
}

func (p *Provider) Disconnect() {
	p.SetIntentionalDisconnect(true)
	for _, done := range p.wsStop {
		close(done)
	}
	p.wsStop = nil
	p.wsDone = nil
	p.SetState(provider.StateDisconnected)
}

func (p *Provider) AvailableSymbols() []string { return p.available }

// Subscribe opens one aggTrade stream per symbol (in batches of <=50 with a
// small gap) plus a single all-market ticker stream for price, and starts
// the REST OI poller for the same symbol set.
func (p *Provider) Subscribe(symbols []string) error {
	filtered := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if p.allowlist.Allowed("binance", s) {
			filtered = append(filtered, s)
		}
	}

	const batchSize = 50
	for i := 0; i < len(filtered); i += batchSize {
		end := i + batchSize
		if end > len(filtered) {
			end = len(filtered)
		}
		for _, symbol := range filtered[i:end] {
			p.subscribeAggTrade(symbol)
		}
		time.Sleep(20 * time.Millisecond)
	}

	p.subscribeTickerArray()

	p.MarkSubscribed(filtered)

	ctx, cancel := context.WithCancel(context.Background())
	p.wsStop = append(p.wsStop, make(chan struct{}))
	stopIdx := len(p.wsStop) - 1
	go func() {
		<-p.wsStop[stopIdx]
		cancel()
	}()

	p.poller = provider.NewOIPoller(providerID, p.fetchOpenInterest, 5*time.Second, p.log, p.recordOI)
	go p.poller.Run(ctx, filtered)
	go p.volumeAcc.Run(ctx.Done())

	return nil
}

func (p *Provider) subscribeAggTrade(symbol string) {
	handler := func(event *futures.WsAggTradeEvent) {
		qty, _ := strconv.ParseFloat(event.Quantity, 64)
		price, _ := strconv.ParseFloat(event.Price, 64)
		p.volumeAcc.Add(symbol, qty, qty*price, event.Maker)
	}
	errHandler := func(err error) {
		p.RecordError(err)
	}
	doneC, stopC, err := futures.WsAggTradeServe(symbol, handler, errHandler)
	if err != nil {
		p.log.WithComponent(providerID).WithError(err).WithField("symbol", symbol).Warn("subscription rejected")
		obs.EmitDrop(p.log, obs.DropSubscriptionRejected, providerID, "futures", symbol, "aggtrade")
		return
	}
	p.wsDone = append(p.wsDone, doneC)
	p.wsStop = append(p.wsStop, stopC)
}

func (p *Provider) subscribeTickerArray() {
	handler := func(event futures.WsMarketTickerEvent) {
		price, err := strconv.ParseFloat(event.LastPrice, 64)
		if err != nil || price <= 0 {
			return
		}
		u := model.MarketUpdate{
			ProviderID:  providerID,
			MarketType:  model.MarketFutures,
			Symbol:      event.Symbol,
			TimestampMs: time.Now().UnixMilli(),
			Price:       model.Ptr(price),
		}
		p.attachOI(&u)
		if u.Valid() {
			p.Emit(u)
		} else {
			obs.EmitDrop(p.log, obs.DropMarketUpdateBadData, providerID, "futures", event.Symbol, "ticker")
		}
	}
	errHandler := func(err error) { p.RecordError(err) }
	doneC, stopC, err := futures.WsAllMarketTickerServe(handler, errHandler)
	if err != nil {
		p.log.WithComponent(providerID).WithError(err).Warn("ticker array subscription failed")
		return
	}
	p.wsDone = append(p.wsDone, doneC)
	p.wsStop = append(p.wsStop, stopC)
}

func (p *Provider) Unsubscribe(symbols []string) error {
	p.MarkUnsubscribed(symbols)
	return nil
}

func (p *Provider) emitVolume(symbol string, buy, sell, buyQuote, sellQuote float64) {
	u := model.MarketUpdate{
		ProviderID:      providerID,
		MarketType:      model.MarketFutures,
		Symbol:          symbol,
		TimestampMs:     time.Now().UnixMilli(),
		VolumeBuy:       model.Ptr(buy),
		VolumeSell:      model.Ptr(sell),
		VolumeBuyQuote:  model.Ptr(buyQuote),
		VolumeSellQuote: model.Ptr(sellQuote),
	}
	p.attachOI(&u)
	if u.Valid() {
		p.Emit(u)
	}
}

func (p *Provider) recordOI(symbol string, oi float64, ts int64) {
	p.oiMu.Lock()
	p.oiCache[symbol] = oiEntry{value: oi, atMs: ts}
	p.oiMu.Unlock()

	p.Emit(model.MarketUpdate{
		ProviderID:              providerID,
		MarketType:              model.MarketFutures,
		Symbol:                  symbol,
		TimestampMs:             ts,
		OpenInterest:            model.Ptr(oi),
		OpenInterestTimestampMs: model.Ptr(ts),
	})
}

// attachOI carries the latest non-stale cached OI reading onto an
// otherwise OI-less update, so each emitted update carries the latest
// non-stale OI, if any.
func (p *Provider) attachOI(u *model.MarketUpdate) {
	p.oiMu.RLock()
	entry, ok := p.oiCache[u.Symbol]
	p.oiMu.RUnlock()
	if !ok {
		return
	}
	if time.Now().UnixMilli()-entry.atMs > (90 * time.Second).Milliseconds() {
		return
	}
	u.OpenInterest = model.Ptr(entry.value)
	u.OpenInterestTimestampMs = model.Ptr(entry.atMs)
}

func (p *Provider) fetchOpenInterest(ctx context.Context, symbol string) (float64, error) {
	resp, err := p.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(resp.OpenInterest, 64)
	if err != nil {
		return 0, err
	}
	return value, nil
}
