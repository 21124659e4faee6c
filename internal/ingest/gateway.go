// Package ingest implements the Ingestion Gateway: the component that
// owns every registered venue provider, fans their normalized updates
// into the aggregation pipeline, and reports combined health. It composes
// readers into a shared channel set using a send-with-drop-counter idiom,
// generalized from "one channel pair per data kind" into "one fan-in
// channel of model.MarketUpdate, sharded into a fixed worker pool keyed
// by symbol hash" for lane-per-symbol partitioning.
package ingest

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"oisentry/internal/bucket"
	"oisentry/internal/market"
	"oisentry/internal/model"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
)

// SymbolNotifier is notified once per processed update that carries a
// price, so the Trigger
// Evaluator can debounce-and-flush the affected symbol .
type SymbolNotifier interface {
	OnPriceUpdate(symbol string, price float64)
}

// Gateway owns the registered providers and routes their callbacks into
// the shared bucket store and market state.
type Gateway struct {
	log   *obs.Log
	store *bucket.Store
	state *market.State
	lanes int

	notifier SymbolNotifier

	mu        sync.Mutex
	providers []provider.Provider

	laneCh []chan model.MarketUpdate
	wg     sync.WaitGroup

	dropped int64
}

// New builds a Gateway with the given lane count (worker pool size), the
// shared bucket store, and the shared market state. notifier may be nil
// during early wiring (e.g. tests); set via SetNotifier before Connect.
func New(log *obs.Log, store *bucket.Store, state *market.State, lanes int, notifier SymbolNotifier) *Gateway {
	if lanes <= 0 {
		lanes = 8
	}
	return &Gateway{
		log:      log,
		store:    store,
		state:    state,
		lanes:    lanes,
		notifier: notifier,
	}
}

func (g *Gateway) SetNotifier(n SymbolNotifier) { g.notifier = n }

// RegisterProvider adds p to the gateway's provider list and wires its
// update callback into the sharded ingestion lanes. Must be called before
// Connect.
func (g *Gateway) RegisterProvider(p provider.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers = append(g.providers, p)
	p.OnUpdate(func(u model.MarketUpdate) {
		g.route(u)
	})
}

func (g *Gateway) route(u model.MarketUpdate) {
	if len(g.laneCh) == 0 {
		return
	}
	lane := laneFor(u.Symbol, len(g.laneCh))
	select {
	case g.laneCh[lane] <- u:
	default:
		g.dropped++
		obs.EmitDrop(g.log, obs.DropIngestLaneFull, u.ProviderID, string(u.MarketType), u.Symbol, "ingest")
	}
}

// laneFor hashes symbol to a stable lane index so all updates for a given
// symbol are always processed by the same worker, in submission order.
func laneFor(symbol string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32()) % lanes
}

// Connect starts the lane workers and connects every registered provider
// concurrently; success is declared if at least one provider connects.
func (g *Gateway) Connect(ctx context.Context) error {
	g.laneCh = make([]chan model.MarketUpdate, g.lanes)
	for i := range g.laneCh {
		g.laneCh[i] = make(chan model.MarketUpdate, 1024)
		g.wg.Add(1)
		go g.runLane(ctx, g.laneCh[i])
	}

	g.mu.Lock()
	providers := append([]provider.Provider(nil), g.providers...)
	g.mu.Unlock()

	results := make(chan error, len(providers))
	for _, p := range providers {
		go func(p provider.Provider) {
			results <- p.Connect(ctx)
		}(p)
	}

	var connected int
	for range providers {
		if err := <-results; err == nil {
			connected++
		}
	}

	go g.reportHealthPeriodically(ctx)

	if connected == 0 && len(providers) > 0 {
		return errNoProviderConnected
	}
	g.log.WithComponent("ingest").WithField("connected", connected).WithField("total", len(providers)).Info("gateway connected")
	return nil
}

func (g *Gateway) runLane(ctx context.Context, ch chan model.MarketUpdate) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			g.process(u)
		}
	}
}

func (g *Gateway) process(u model.MarketUpdate) {
	if !u.Valid() {
		obs.EmitDrop(g.log, obs.DropMarketUpdateBadData, u.ProviderID, string(u.MarketType), u.Symbol, "ingest")
		return
	}

	lastPrice, lastOI := g.state.GetPrice(u.Symbol), g.state.GetOI(u.Symbol)
	outOfOrder := g.store.AddPoint(u.Symbol, &u, lastPrice, lastOI)
	g.state.Update(u.Symbol, u.TimestampMs, u.Price, u.OpenInterest, outOfOrder)

	if g.notifier != nil && u.Price != nil {
		g.notifier.OnPriceUpdate(u.Symbol, *u.Price)
	}
}

// ActiveProviders returns the IDs of every connected provider.
func (g *Gateway) ActiveProviders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, p := range g.providers {
		if p.IsConnected() {
			out = append(out, p.ID())
		}
	}
	return out
}

// ProvidersHealth returns a health snapshot for every registered provider.
func (g *Gateway) ProvidersHealth() []provider.Health {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]provider.Health, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p.HealthStatus())
	}
	return out
}

func (g *Gateway) reportHealthPeriodically(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range g.ProvidersHealth() {
				g.log.WithComponent("ingest").WithFields(obs.Fields{
					"provider":   h.ProviderID,
					"state":      h.State.String(),
					"subscribed": h.SubscribedCount,
					"errors":     h.ErrorCount,
				}).Info("provider health")
			}
		}
	}
}

// Disconnect concurrently disconnects every registered provider and stops
// the lane workers.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	providers := append([]provider.Provider(nil), g.providers...)
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p provider.Provider) {
			defer wg.Done()
			p.Disconnect()
		}(p)
	}
	wg.Wait()

	for _, ch := range g.laneCh {
		close(ch)
	}
	g.wg.Wait()
}

var errNoProviderConnected = gatewayError("ingest: no provider connected")

type gatewayError string

func (e gatewayError) Error() string { return string(e) }
