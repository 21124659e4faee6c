package provider

import (
	"sync"
	"time"
)

// VolumeAccumulator maintains a per-symbol running tally of aggressive
// (taker) buy/sell flow and flushes one aggregated update per symbol on a
// fixed timer. Trades below MinQuoteNotional are filtered out before
// accumulation to avoid flushing pure micro-trade noise.
type VolumeAccumulator struct {
	mu               sync.Mutex
	entries          map[string]*volumeEntry
	MinQuoteNotional float64
	FlushInterval    time.Duration

	onFlush func(symbol string, buy, sell, buyQuote, sellQuote float64)
}

type volumeEntry struct {
	buy, sell, buyQuote, sellQuote float64
}

// NewVolumeAccumulator builds an accumulator. onFlush is called once per
// symbol with non-zero flow every FlushInterval (~120ms default).
func NewVolumeAccumulator(minQuoteNotional float64, flushInterval time.Duration, onFlush func(symbol string, buy, sell, buyQuote, sellQuote float64)) *VolumeAccumulator {
	if minQuoteNotional <= 0 {
		minQuoteNotional = 250
	}
	if flushInterval <= 0 {
		flushInterval = 120 * time.Millisecond
	}
	return &VolumeAccumulator{
		entries:          make(map[string]*volumeEntry),
		MinQuoteNotional: minQuoteNotional,
		FlushInterval:    flushInterval,
		onFlush:          onFlush,
	}
}

// Add folds one trade's taker flow into the accumulator. buyerIsMaker
// follows the taker-maker flag convention of the glossary:
// buyerIsMaker=true means the trade was an aggressive sell.
func (v *VolumeAccumulator) Add(symbol string, qty, quoteQty float64, buyerIsMaker bool) {
	if quoteQty < v.MinQuoteNotional {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[symbol]
	if !ok {
		e = &volumeEntry{}
		v.entries[symbol] = e
	}
	if buyerIsMaker {
		e.sell += qty
		e.sellQuote += quoteQty
	} else {
		e.buy += qty
		e.buyQuote += quoteQty
	}
}

// Run starts the flush timer; it blocks until done is closed.
func (v *VolumeAccumulator) Run(done <-chan struct{}) {
	ticker := time.NewTicker(v.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			v.flush()
		}
	}
}

func (v *VolumeAccumulator) flush() {
	v.mu.Lock()
	entries := v.entries
	v.entries = make(map[string]*volumeEntry)
	v.mu.Unlock()

	for symbol, e := range entries {
		if e.buy == 0 && e.sell == 0 {
			continue
		}
		if v.onFlush != nil {
			v.onFlush(symbol, e.buy, e.sell, e.buyQuote, e.sellQuote)
		}
	}
}
