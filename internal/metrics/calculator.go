// Package metrics implements the window-query math: the max-deviation
// primary rule, boundary interpolation fallback, and volume-baseline
// ratio. It is engine-local and distinct from internal/obs's ambient
// metric-emission registry — this package answers "what changed in this
// window", obs answers "publish this counter".
//
// The formulas below scan a bounded window, compute extrema, and derive a
// ratio, following a windowed-aggregation shape but applied to OI/price
// percentage changes rather than orderbook deltas, with max-deviation
// selection and timestamp interpolation specific to this domain.
package metrics

import (
	"math"
	"sort"
	"time"

	"oisentry/internal/bucket"
	"oisentry/internal/market"
	"oisentry/internal/model"
)

// Calculator answers window queries against a Bucket Store and Market
// State pair. NowFunc is injectable so tests can drive warmup/window
// boundaries without sleeping.
type Calculator struct {
	Store                   *bucket.Store
	State                   *market.State
	FallbackShiftMultiplier int
	NowFunc                 func() time.Time
}

// New builds a Calculator with the given collaborators. fallbackShiftMultiplier
// corresponds to the FALLBACK_SHIFT_MULTIPLIER config knob (default 2),
// used to bound how far a boundary interpolation may reach for support.
func New(store *bucket.Store, state *market.State, fallbackShiftMultiplier int) *Calculator {
	if fallbackShiftMultiplier <= 0 {
		fallbackShiftMultiplier = 2
	}
	return &Calculator{
		Store:                   store,
		State:                   state,
		FallbackShiftMultiplier: fallbackShiftMultiplier,
		NowFunc:                 time.Now,
	}
}

func (c *Calculator) now() int64 {
	return c.NowFunc().UnixNano() / int64(time.Millisecond)
}

// MetricChanges computes the OI/price/volume deltas for symbol over the
// trailing intervalMinutes window. Returns nil when no buckets exist, the
// symbol is still in warmup, or both the start and end boundary
// interpolations fail.
func (c *Calculator) MetricChanges(symbol string, intervalMinutes int) *model.Metrics {
	state := c.State.Get(symbol)
	if state == nil {
		return nil
	}

	now := c.now()
	windowMs := int64(intervalMinutes) * 60_000
	windowStart := now - windowMs
	windowEnd := now

	if state.FirstSeenMs > windowStart {
		return nil // warmup
	}

	resolution := model.Resolution60s
	if intervalMinutes <= 2 {
		resolution = model.Resolution15s
	}

	snaps := c.Store.BucketsInRange(symbol, windowStart, windowEnd, resolution)
	if len(snaps) == 0 {
		return nil
	}

	scan := scanWindow(snaps, windowStart, windowEnd, int64(resolution))

	var currentOI, currentPrice *float64
	if state.LastOI != nil && finite(*state.LastOI) {
		currentOI = state.LastOI
	}
	if state.LastPrice != nil && finite(*state.LastPrice) && *state.LastPrice > 0 {
		currentPrice = state.LastPrice
	}

	maxDistance := minInt64(int64(c.FallbackShiftMultiplier)*int64(resolution), int64(float64(windowMs)*0.05))

	oiStart, oiEnd, oiChange, oiOK := c.primaryOrFallback(scan.minOI, scan.maxOI, scan.haveOI, currentOI, snaps, windowStart, windowEnd, maxDistance, true)
	if !oiOK {
		return nil
	}

	m := &model.Metrics{
		OIChangePercent:  round6(oiChange),
		OIStart:          round6(oiStart),
		OIEnd:            round6(oiEnd),
		TotalVolume:      scan.totalVolume,
		DeltaVolume:      scan.deltaVolume,
		TotalQuoteVolume: scan.totalQuoteVolume,
		DeltaQuoteVolume: scan.deltaQuoteVolume,
		TimeWindowSeconds: intervalMinutes * 60,
	}

	if _, _, priceChange, priceOK := c.primaryOrFallback(scan.minPrice, scan.maxPrice, scan.havePrice, currentPrice, snaps, windowStart, windowEnd, maxDistance, false); priceOK {
		m.PriceChangePercent = floatPtr(round6(priceChange))
	}
	if currentPrice != nil {
		m.CurrentPrice = floatPtr(*currentPrice)
	}
	if scan.havePrice {
		m.PreviousPrice = floatPtr(scan.earliestOpenPrice)
	}

	baselineSnaps := c.Store.BucketsInRange(symbol, windowStart-windowMs, windowStart, resolution)
	baselineScan := scanWindow(baselineSnaps, windowStart-windowMs, windowStart, int64(resolution))
	m.VolumeBaseline = baselineScan.totalVolume
	m.VolumeBaselineQuote = baselineScan.totalQuoteVolume
	if baselineScan.totalVolume > 0 {
		ratio := scan.totalVolume / baselineScan.totalVolume
		m.VolumeRatio = floatPtr(round6(ratio))
	}
	if baselineScan.totalQuoteVolume > 0 {
		ratio := scan.totalQuoteVolume / baselineScan.totalQuoteVolume
		m.VolumeRatioQuote = floatPtr(round6(ratio))
	}

	return m
}

// primaryOrFallback applies the max-deviation rule when a live current
// value and observed movement exist, else falls back to boundary
// interpolation at both ends of the window.
func (c *Calculator) primaryOrFallback(minV, maxV float64, haveExtrema bool, current *float64, snaps []bucket.BucketSnapshot, windowStart, windowEnd, maxDistance int64, isOI bool) (start, end, changePct float64, ok bool) {
	if haveExtrema && current != nil && *current > 0 && minV > 0 && maxV > 0 && maxV != minV {
		changeFromMin := (*current - minV) / minV * 100
		changeFromMax := (*current - maxV) / maxV * 100
		if math.Abs(changeFromMin) >= math.Abs(changeFromMax) {
			return minV, *current, changeFromMin, true
		}
		return maxV, *current, changeFromMax, true
	}

	startVal, startOK := interpolateBoundary(snaps, windowStart, maxDistance, isOI)
	endVal, endOK := interpolateBoundary(snaps, windowEnd, maxDistance, isOI)
	if !startOK && !endOK {
		return 0, 0, 0, false
	}
	if !startOK || !endOK {
		return 0, 0, 0, false
	}
	if startVal <= 0 {
		return 0, 0, 0, false
	}
	return startVal, endVal, (endVal - startVal) / startVal * 100, true
}

type windowScan struct {
	minOI, maxOI       float64
	haveOI             bool
	minPrice, maxPrice float64
	havePrice          bool
	earliestOpenPrice  float64

	volumeBuy, volumeSell           float64
	volumeBuyQuote, volumeSellQuote float64
	totalVolume, deltaVolume        float64
	totalQuoteVolume, deltaQuoteVolume float64
}

func scanWindow(snaps []bucket.BucketSnapshot, windowStart, windowEnd, bucketSize int64) windowScan {
	var s windowScan
	for i, snap := range snaps {
		b := snap.Bucket
		if b.HasOI {
			observe(&s.minOI, &s.maxOI, &s.haveOI, b.OIOpen)
			observe(&s.minOI, &s.maxOI, &s.haveOI, b.OIClose)
			observe(&s.minOI, &s.maxOI, &s.haveOI, b.OIHigh)
			observe(&s.minOI, &s.maxOI, &s.haveOI, b.OILow)
		}
		if b.HasPrice {
			observe(&s.minPrice, &s.maxPrice, &s.havePrice, b.PriceOpen)
			observe(&s.minPrice, &s.maxPrice, &s.havePrice, b.PriceClose)
			if i == 0 {
				s.earliestOpenPrice = b.PriceOpen
			}
		}

		overlap := minInt64(snap.Start+bucketSize, windowEnd) - maxInt64(snap.Start, windowStart)
		if overlap <= 0 {
			continue
		}
		weight := float64(overlap) / float64(bucketSize)
		if weight > 1 {
			weight = 1
		}
		s.volumeBuy += b.VolumeBuy * weight
		s.volumeSell += b.VolumeSell * weight
		s.volumeBuyQuote += b.VolumeBuyQuote * weight
		s.volumeSellQuote += b.VolumeSellQuote * weight
	}
	s.totalVolume = s.volumeBuy + s.volumeSell
	s.deltaVolume = s.volumeBuy - s.volumeSell
	s.totalQuoteVolume = s.volumeBuyQuote + s.volumeSellQuote
	s.deltaQuoteVolume = s.volumeBuyQuote - s.volumeSellQuote
	return s
}

func observe(min, max *float64, have *bool, v float64) {
	if !finite(v) {
		return
	}
	if !*have {
		*min, *max, *have = v, v, true
		return
	}
	if v < *min {
		*min = v
	}
	if v > *max {
		*max = v
	}
}

// interpolateBoundary is the boundary-interpolation fallback: binary search
// for the last bucket at or before targetMs; interpolate within it if
// targetMs falls inside its [FirstTs, LastTs]; otherwise bridge the nearer
// of the preceding bucket's close and the following bucket's open,
// rejecting support further than maxDistance from the boundary. isOI
// selects which of the bucket's two parallel fields (OI or price) to pull
// support from.
func interpolateBoundary(snaps []bucket.BucketSnapshot, targetMs, maxDistance int64, isOI bool) (float64, bool) {
	if len(snaps) == 0 {
		return 0, false
	}

	idx := sort.Search(len(snaps), func(i int) bool { return snaps[i].Start > targetMs }) - 1

	if idx >= 0 {
		b := snaps[idx].Bucket
		if isOI && b.HasOI && targetMs >= b.FirstTs && targetMs <= b.LastTs {
			return interpolateWithin(b.OIOpen, b.OIClose, b.FirstTs, b.LastTs, targetMs), true
		}
		if !isOI && b.HasPrice && targetMs >= b.FirstTs && targetMs <= b.LastTs {
			return interpolateWithin(b.PriceOpen, b.PriceClose, b.FirstTs, b.LastTs, targetMs), true
		}
	}

	var precVal, folVal float64
	var precTs, folTs int64
	havePrec, haveFol := false, false

	if idx >= 0 {
		b := snaps[idx].Bucket
		precVal, precTs, havePrec = valueAndTsClose(b, isOI)
	}
	if idx+1 < len(snaps) {
		b := snaps[idx+1].Bucket
		folVal, folTs, haveFol = valueAndTsOpen(b, isOI)
	}

	switch {
	case havePrec && haveFol:
		dist := minInt64(abs64(targetMs-precTs), abs64(targetMs-folTs))
		if dist > maxDistance {
			return 0, false
		}
		if folTs == precTs {
			return precVal, true
		}
		frac := float64(targetMs-precTs) / float64(folTs-precTs)
		return precVal + frac*(folVal-precVal), true
	case havePrec:
		if abs64(targetMs-precTs) > maxDistance {
			return 0, false
		}
		return precVal, true
	case haveFol:
		if abs64(targetMs-folTs) > maxDistance {
			return 0, false
		}
		return folVal, true
	default:
		return 0, false
	}
}

func valueAndTsClose(b model.Bucket, isOI bool) (float64, int64, bool) {
	if isOI {
		if !b.HasOI {
			return 0, 0, false
		}
		return b.OIClose, b.LastTs, true
	}
	if !b.HasPrice {
		return 0, 0, false
	}
	return b.PriceClose, b.LastTs, true
}

func valueAndTsOpen(b model.Bucket, isOI bool) (float64, int64, bool) {
	if isOI {
		if !b.HasOI {
			return 0, 0, false
		}
		return b.OIOpen, b.FirstTs, true
	}
	if !b.HasPrice {
		return 0, 0, false
	}
	return b.PriceOpen, b.FirstTs, true
}

func interpolateWithin(open, close float64, firstTs, lastTs, targetMs int64) float64 {
	if lastTs <= firstTs {
		return open
	}
	frac := float64(targetMs-firstTs) / float64(lastTs-firstTs)
	return open + frac*(close-open)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round6(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return math.Round(v*1e6) / 1e6
}

func floatPtr(v float64) *float64 { return &v }

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
