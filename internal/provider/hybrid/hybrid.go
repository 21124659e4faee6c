// Package hybrid composes two independently-connected venue providers into
// one logical feed: a trade-stream venue supplies price and signed
// aggressive volume, a ticker/REST venue supplies open interest, and the
// two are joined per-symbol with a 10s staleness window. This package is
// not itself a venue client, so its fan-in/merge bookkeeping follows the
// send-with-drop-counter channel idiom used elsewhere in this codebase,
// generalized from "one channel pair per data kind" to "merge-state per
// symbol, guarded by one mutex".
package hybrid

import (
	"context"
	"sync"
	"time"

	"oisentry/internal/model"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
)

const staleness = 10 * time.Second

// Provider merges a price/volume venue and an OI venue into one combined
// update stream. It implements provider.Provider by delegating lifecycle
// calls to both inner providers and fanning their callbacks through a
// per-symbol join.
type Provider struct {
	*provider.Base

	id    string
	price provider.Provider
	oi    provider.Provider
	log   *obs.Log

	mu    sync.Mutex
	state map[string]*symbolJoin
}

type symbolJoin struct {
	price      *float64
	priceTs    int64
	volBuy     *float64
	volSell    *float64
	volBuyQ    *float64
	volSellQ   *float64
	volTs      int64
	oi         *float64
	oiTs       int64
}

// New builds a hybrid provider identified by id (e.g.
// "binance-price+okx-oi"), composing priceVenue (price & volume source)
// and oiVenue (open-interest source).
func New(id string, log *obs.Log, priceVenue, oiVenue provider.Provider) *Provider {
	return &Provider{
		Base:  provider.NewBase(id),
		id:    id,
		price: priceVenue,
		oi:    oiVenue,
		log:   log,
		state: make(map[string]*symbolJoin),
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	p.SetState(provider.StateConnecting)

	p.price.OnUpdate(p.onPriceUpdate)
	p.oi.OnUpdate(p.onOIUpdate)

	if err := p.price.Connect(ctx); err != nil {
		p.RecordError(err)
		return err
	}
	if err := p.oi.Connect(ctx); err != nil {
		p.RecordError(err)
		return err
	}

	p.SetState(provider.StateConnected)
	return nil
}

func (p *Provider) Disconnect() {
	p.SetIntentionalDisconnect(true)
	p.price.Disconnect()
	p.oi.Disconnect()
	p.SetState(provider.StateDisconnected)
}

// AvailableSymbols is the intersection of both inner providers' catalogs,
// since a merged update needs both sides able to serve a symbol.
func (p *Provider) AvailableSymbols() []string {
	oiSet := make(map[string]bool)
	for _, s := range p.oi.AvailableSymbols() {
		oiSet[s] = true
	}
	var out []string
	for _, s := range p.price.AvailableSymbols() {
		if oiSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func (p *Provider) Subscribe(symbols []string) error {
	p.MarkSubscribed(symbols)
	if err := p.price.Subscribe(symbols); err != nil {
		return err
	}
	return p.oi.Subscribe(symbols)
}

func (p *Provider) Unsubscribe(symbols []string) error {
	p.MarkUnsubscribed(symbols)
	if err := p.price.Unsubscribe(symbols); err != nil {
		return err
	}
	return p.oi.Unsubscribe(symbols)
}

func (p *Provider) join(symbol string) *symbolJoin {
	j, ok := p.state[symbol]
	if !ok {
		j = &symbolJoin{}
		p.state[symbol] = j
	}
	return j
}

func (p *Provider) onPriceUpdate(u model.MarketUpdate) {
	p.mu.Lock()
	j := p.join(u.Symbol)
	if u.Price != nil {
		j.price = u.Price
		j.priceTs = u.TimestampMs
	}
	if u.VolumeBuy != nil || u.VolumeSell != nil {
		j.volBuy, j.volSell = u.VolumeBuy, u.VolumeSell
		j.volBuyQ, j.volSellQ = u.VolumeBuyQuote, u.VolumeSellQuote
		j.volTs = u.TimestampMs
	}
	merged := p.mergeLocked(u.Symbol, u.TimestampMs, j)
	p.mu.Unlock()

	if merged.Valid() {
		p.Emit(*merged)
	}
}

func (p *Provider) onOIUpdate(u model.MarketUpdate) {
	p.mu.Lock()
	j := p.join(u.Symbol)
	if u.OpenInterest != nil {
		j.oi = u.OpenInterest
		j.oiTs = u.TimestampMs
	}
	merged := p.mergeLocked(u.Symbol, u.TimestampMs, j)
	p.mu.Unlock()

	if merged.Valid() {
		p.Emit(*merged)
	}
}

// mergeLocked builds the combined update carrying every component of j
// that is still within the staleness window of nowMs, emitting a merged
// update on either input as soon as any fresh component is available.
// Caller holds p.mu.
func (p *Provider) mergeLocked(symbol string, nowMs int64, j *symbolJoin) *model.MarketUpdate {
	out := &model.MarketUpdate{
		ProviderID:  p.id,
		MarketType:  model.MarketFutures,
		Symbol:      symbol,
		TimestampMs: nowMs,
	}
	if j.price != nil && fresh(nowMs, j.priceTs) {
		out.Price = j.price
	}
	if j.volTs != 0 && fresh(nowMs, j.volTs) {
		out.VolumeBuy, out.VolumeSell = j.volBuy, j.volSell
		out.VolumeBuyQuote, out.VolumeSellQuote = j.volBuyQ, j.volSellQ
	}
	if j.oi != nil && fresh(nowMs, j.oiTs) {
		out.OpenInterest = j.oi
		out.OpenInterestTimestampMs = model.Ptr(j.oiTs)
	}
	return out
}

func fresh(nowMs, tsMs int64) bool {
	return time.Duration(nowMs-tsMs)*time.Millisecond <= staleness
}
