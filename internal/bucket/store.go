// Package bucket implements a dual-resolution, per-symbol OHLC-style
// time-windowed store, using a map[string]*T-plus-mutex buffering idiom
// generalized from "batch buffer per exchange-market-symbol" to "bucket
// map per symbol per resolution, keyed by aligned bucket-start timestamp,
// with an incrementally maintained sorted key slice".
package bucket

import (
	"sort"
	"sync"

	"oisentry/internal/model"
)

// BucketSnapshot pairs a bucket's aligned start timestamp with an
// immutable copy of its contents, safe to read after the store's lock has
// been released.
type BucketSnapshot struct {
	Start  int64
	Bucket model.Bucket
}

// Store holds, for every symbol, two bucket maps (15s and 60s resolution).
type Store struct {
	mu       sync.RWMutex
	symbols  map[string]*symbolBuckets
	cap15s   int
	cap60s   int
}

type symbolBuckets struct {
	mu  sync.RWMutex
	m15 *bucketMap
	m60 *bucketMap
}

// New builds a Store enforcing the given per-resolution retention caps
// (default: 300 at 15s, 70 at 60s).
func New(cap15s, cap60s int) *Store {
	if cap15s <= 0 {
		cap15s = 300
	}
	if cap60s <= 0 {
		cap60s = 70
	}
	return &Store{
		symbols: make(map[string]*symbolBuckets),
		cap15s:  cap15s,
		cap60s:  cap60s,
	}
}

func (s *Store) getOrCreateSymbol(symbol string) *symbolBuckets {
	s.mu.RLock()
	sb, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if ok {
		return sb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sb, ok = s.symbols[symbol]; ok {
		return sb
	}
	sb = &symbolBuckets{
		m15: newBucketMap(model.Resolution15s, s.cap15s),
		m60: newBucketMap(model.Resolution60s, s.cap60s),
	}
	s.symbols[symbol] = sb
	return sb
}

// AddPoint folds one MarketUpdate into both resolutions for its symbol.
// lastPriceFallback/lastOIFallback supply the opening value for a freshly
// created bucket when the update itself carries no price/OI. Returns true
// if this point was detected out-of-order in either resolution, so the
// caller can increment the symbol's out-of-order counter in Market State
// (which owns that field).
func (s *Store) AddPoint(symbol string, update *model.MarketUpdate, lastPriceFallback, lastOIFallback *float64) bool {
	sb := s.getOrCreateSymbol(symbol)
	sb.mu.Lock()
	defer sb.mu.Unlock()

	ooo15 := sb.m15.addPoint(update.TimestampMs, update.OpenInterest, update.Price,
		update.VolumeBuy, update.VolumeSell, update.VolumeBuyQuote, update.VolumeSellQuote,
		lastPriceFallback, lastOIFallback)
	ooo60 := sb.m60.addPoint(update.TimestampMs, update.OpenInterest, update.Price,
		update.VolumeBuy, update.VolumeSell, update.VolumeBuyQuote, update.VolumeSellQuote,
		lastPriceFallback, lastOIFallback)
	return ooo15 || ooo60
}

// BucketsInRange returns a snapshot, ordered by start timestamp, of every
// bucket at the given resolution whose window [start, start+size) overlaps
// [fromMs, toMs]. O(log n) to locate the range plus O(k) to copy it out.
func (s *Store) BucketsInRange(symbol string, fromMs, toMs int64, res model.Resolution) []BucketSnapshot {
	s.mu.RLock()
	sb, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	sb.mu.RLock()
	defer sb.mu.RUnlock()

	bm := sb.m15
	if res == model.Resolution60s {
		bm = sb.m60
	}
	return bm.rangeSnapshot(fromMs, toMs)
}

// CleanupSymbol discards every bucket tracked for symbol in both
// resolutions, leaving no residual state after eviction.
func (s *Store) CleanupSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symbols, symbol)
}

// HistoryLength returns the larger of the two resolutions' bucket counts.
func (s *Store) HistoryLength(symbol string) int {
	s.mu.RLock()
	sb, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	n15, n60 := len(sb.m15.keys), len(sb.m60.keys)
	if n15 > n60 {
		return n15
	}
	return n60
}

// bucketMap is the hash-map-plus-sorted-index structure for one symbol,
// one resolution: O(1) lookup by start timestamp, O(log n) insertion
// position, O(1) amortized eviction of the oldest entry.
type bucketMap struct {
	resolution model.Resolution
	capacity   int
	buckets    map[int64]*model.Bucket
	keys       []int64 // ascending, kept in sync with buckets
}

func newBucketMap(res model.Resolution, capacity int) *bucketMap {
	return &bucketMap{
		resolution: res,
		capacity:   capacity,
		buckets:    make(map[int64]*model.Bucket),
	}
}

func alignBucketStart(ts int64, size model.Resolution) int64 {
	s := int64(size)
	return (ts / s) * s
}

func (bm *bucketMap) addPoint(ts int64, oi, price, buy, sell, buyQuote, sellQuote *float64, fallbackPrice, fallbackOI *float64) bool {
	start := alignBucketStart(ts, bm.resolution)
	b, isNew := bm.getOrCreate(start)

	var outOfOrder bool
	if isNew {
		b.FirstTs, b.LastTs = ts, ts
		openOI := oi
		if openOI == nil {
			openOI = fallbackOI
		}
		openPrice := price
		if openPrice == nil {
			openPrice = fallbackPrice
		}
		if openOI != nil {
			b.ApplyOI(*openOI, true, true)
		}
		if openPrice != nil {
			b.ApplyPrice(*openPrice, true, true)
		}
	} else if ts < b.FirstTs {
		outOfOrder = true
		b.FirstTs = ts
		if oi != nil {
			b.ApplyOI(*oi, true, false)
		}
		if price != nil {
			b.ApplyPrice(*price, true, false)
		}
	} else if ts >= b.LastTs {
		b.LastTs = ts
		if oi != nil {
			b.ApplyOI(*oi, false, true)
		}
		if price != nil {
			b.ApplyPrice(*price, false, true)
		}
	} else {
		if oi != nil {
			b.ApplyOI(*oi, false, false)
		}
		if price != nil {
			b.ApplyPrice(*price, false, false)
		}
	}

	b.ApplyVolume(buy, sell, buyQuote, sellQuote)
	b.Count++

	bm.evictExcess()
	return outOfOrder
}

func (bm *bucketMap) getOrCreate(start int64) (*model.Bucket, bool) {
	if b, ok := bm.buckets[start]; ok {
		return b, false
	}
	b := &model.Bucket{}
	bm.buckets[start] = b
	bm.insertKey(start)
	return b, true
}

func (bm *bucketMap) insertKey(start int64) {
	idx := sort.Search(len(bm.keys), func(i int) bool { return bm.keys[i] >= start })
	bm.keys = append(bm.keys, 0)
	copy(bm.keys[idx+1:], bm.keys[idx:])
	bm.keys[idx] = start
}

func (bm *bucketMap) evictExcess() {
	for len(bm.keys) > bm.capacity {
		oldest := bm.keys[0]
		bm.keys = bm.keys[1:]
		delete(bm.buckets, oldest)
	}
}

func (bm *bucketMap) rangeSnapshot(fromMs, toMs int64) []BucketSnapshot {
	size := int64(bm.resolution)
	// Locate the first key whose window could overlap fromMs: start+size > fromMs.
	lo := sort.Search(len(bm.keys), func(i int) bool { return bm.keys[i]+size > fromMs })

	var out []BucketSnapshot
	for i := lo; i < len(bm.keys); i++ {
		start := bm.keys[i]
		if start > toMs {
			break
		}
		b := bm.buckets[start]
		out = append(out, BucketSnapshot{Start: start, Bucket: *b})
	}
	return out
}
