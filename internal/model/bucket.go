package model

// Resolution is one of the two fixed bucket widths the aggregation layer
// maintains per symbol.
type Resolution int64

const (
	Resolution15s Resolution = 15_000
	Resolution60s Resolution = 60_000
)

// Unset is the sentinel for an OI/price field that has never been supplied
// for a bucket. NaN is deliberately avoided as a sentinel since NaN
// comparisons are used elsewhere to detect genuinely bad data; Unset uses a
// boolean presence flag instead (see Bucket.HasOI/HasPrice).
const Unset = 0

// Bucket is one OHLC-style aggregation window for a single symbol, single
// resolution, single bucket-start timestamp. Invariants:
// FirstTs <= LastTs; when HasOI, OILow <= min(OIOpen,OIClose) <=
// max(OIOpen,OIClose) <= OIHigh; TotalVolume == VolumeBuy+VolumeSell;
// TotalQuoteVolume == VolumeBuyQuote+VolumeSellQuote; Count >= 1.
type Bucket struct {
	OIOpen, OIClose, OIHigh, OILow float64
	HasOI                          bool

	PriceOpen, PriceClose float64
	HasPrice              bool

	VolumeBuy, VolumeSell           float64
	VolumeBuyQuote, VolumeSellQuote float64
	TotalVolume, TotalQuoteVolume   float64

	Count    int
	FirstTs  int64
	LastTs   int64
}

// recomputeTotals rederives the additive volume totals from their
// components after every addition, to avoid accumulated rounding drift
// from carrying a running total independently.
func (b *Bucket) recomputeTotals() {
	b.TotalVolume = b.VolumeBuy + b.VolumeSell
	b.TotalQuoteVolume = b.VolumeBuyQuote + b.VolumeSellQuote
}

// ApplyVolume adds signed aggressive-volume components and rederives the
// totals. Any nil component contributes zero.
func (b *Bucket) ApplyVolume(buy, sell, buyQuote, sellQuote *float64) {
	if buy != nil {
		b.VolumeBuy += *buy
	}
	if sell != nil {
		b.VolumeSell += *sell
	}
	if buyQuote != nil {
		b.VolumeBuyQuote += *buyQuote
	}
	if sellQuote != nil {
		b.VolumeSellQuote += *sellQuote
	}
	b.recomputeTotals()
}

// ApplyOI folds a new OI observation into the bucket's high/low/open/close.
// opening is true when this call establishes the bucket's opening value
// (first point, or a rewind after an out-of-order point preceding the
// current FirstTs).
func (b *Bucket) ApplyOI(oi float64, opening, closing bool) {
	if !b.HasOI {
		b.OIOpen, b.OIClose, b.OIHigh, b.OILow = oi, oi, oi, oi
		b.HasOI = true
		return
	}
	if opening {
		b.OIOpen = oi
	}
	if closing {
		b.OIClose = oi
	}
	if oi > b.OIHigh {
		b.OIHigh = oi
	}
	if oi < b.OILow {
		b.OILow = oi
	}
}

// ApplyPrice folds a new price observation into the bucket's open/close.
func (b *Bucket) ApplyPrice(price float64, opening, closing bool) {
	if !b.HasPrice {
		b.PriceOpen, b.PriceClose = price, price
		b.HasPrice = true
		return
	}
	if opening {
		b.PriceOpen = price
	}
	if closing {
		b.PriceClose = price
	}
}
