package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"oisentry/internal/obs"
)

// OIFetcher fetches one symbol's current open interest. Implementations
// wrap a venue's REST client (go-binance/v2/futures, bybit.go.api, or a
// raw OKX HTTP call).
type OIFetcher func(ctx context.Context, symbol string) (float64, error)

// OIPoller batches REST open-interest polling across a symbol set: it
// requests /openInterest per configured symbol in batches of 25 with
// ~60ms inter-batch spacing. The poll loop is rate.Limiter-gated and runs
// in a single goroutine, visiting the groups in order and calling onResult
// synchronously for each reading; a failed fetch is counted as a drop. The
// poller keeps no cache itself: Staleness reports the 90s window that the
// caller's cache applies.
type OIPoller struct {
	fetch           OIFetcher
	limiter         *rate.Limiter
	interval        time.Duration
	batchSize       int
	interBatchDelay time.Duration
	staleness       time.Duration
	log             *obs.Log
	providerID      string

	onResult func(symbol string, oi float64, ts int64)
}

// NewOIPoller builds a poller. interval is the per-symbol poll cadence;
// defaults to a batch of 25, 60ms inter-batch gap, 90s staleness.
func NewOIPoller(providerID string, fetch OIFetcher, interval time.Duration, log *obs.Log, onResult func(symbol string, oi float64, ts int64)) *OIPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OIPoller{
		fetch:           fetch,
		limiter:         rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		interval:        interval,
		batchSize:       25,
		interBatchDelay: 60 * time.Millisecond,
		staleness:       90 * time.Second,
		log:             log,
		providerID:      providerID,
		onResult:        onResult,
	}
}

// Run polls the given symbols on a ticker until ctx is cancelled, batching
// the symbol set into groups of batchSize with interBatchDelay spacing
// between groups.
func (p *OIPoller) Run(ctx context.Context, symbols []string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	poll := func() {
		for i := 0; i < len(symbols); i += p.batchSize {
			end := i + p.batchSize
			if end > len(symbols) {
				end = len(symbols)
			}
			for _, symbol := range symbols[i:end] {
				p.pollOne(ctx, symbol)
			}
			if end < len(symbols) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.interBatchDelay):
				}
			}
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

func (p *OIPoller) pollOne(ctx context.Context, symbol string) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	oi, err := p.fetch(ctx, symbol)
	if err != nil {
		if ctx.Err() == nil {
			obs.EmitDrop(p.log, obs.DropOpenInterestPollRaw, p.providerID, "futures", symbol, "poll")
		}
		return
	}
	if p.onResult != nil {
		p.onResult(symbol, oi, time.Now().UnixMilli())
	}
}

// Staleness returns the configured staleness window; a cached OI reading
// older than this must not be carried into an emitted update.
func (p *OIPoller) Staleness() time.Duration { return p.staleness }
