package trigger

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"oisentry/internal/decision"
	"oisentry/internal/metrics"
	"oisentry/internal/model"
	"oisentry/internal/notify"
	"oisentry/internal/obs"
)

// SignalStore is the external signal-persistence contract, restricted to
// the operations the Evaluator needs.
type SignalStore interface {
	Save(ctx context.Context, signal model.Signal) error
	Count24h(ctx context.Context, triggerID, symbol string) (int, error)
}

const (
	defaultBatchSize           = 10
	defaultFlushInterval       = 200 * time.Millisecond
	defaultMetricCacheTTL      = 500 * time.Millisecond
	defaultBaseIntervalMs      = 1000
	defaultDebounceThreshold   = 3
	housekeepingInterval       = 10 * time.Minute
	checkKeyStaleAfter         = 30 * time.Minute
	notificationTimestampTTL   = 24 * time.Hour
)

// Config parameterizes an Evaluator; zero values fall back to documented
// defaults.
type Config struct {
	BatchSize            int
	FlushInterval        time.Duration
	MetricCacheTTL       time.Duration
	BaseIntervalMs       int64
	DebounceThreshold    int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = defaultBatchSize
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = defaultFlushInterval
	}
	if out.MetricCacheTTL <= 0 {
		out.MetricCacheTTL = defaultMetricCacheTTL
	}
	if out.BaseIntervalMs <= 0 {
		out.BaseIntervalMs = defaultBaseIntervalMs
	}
	if out.DebounceThreshold <= 0 {
		out.DebounceThreshold = defaultDebounceThreshold
	}
	return out
}

// Evaluator is the push-based, debounced trigger evaluation loop. It
// follows a buffer-then-flush idiom, generalized from a periodic ticker
// over a fixed batch to a one-shot timer: an update arms the timer when
// none is pending, updates that arrive before it fires join the same
// pending batch, and a flush that leaves symbols pending arms it again.
type Evaluator struct {
	cfg Config

	registry   *Registry
	calculator *metrics.Calculator
	signals    SignalStore
	pipeline   *notify.Pipeline
	cooldown   notify.CooldownPolicy
	renderer   func(trigger model.Trigger, symbol string, m *model.Metrics, signalNumber int) (chatID, text string)
	filter     decision.Filter
	log        *obs.Log

	mu          sync.Mutex
	pending     map[string]float64 // symbol -> latest price
	timer       *time.Timer
	stopped     bool

	checkMu   sync.Mutex
	lastCheck map[string]checkState // (trigger.id, symbol) -> state
	running   map[string]bool

	cacheMu sync.Mutex
	cache   map[string]cacheEntry // (symbol, intervalMinutes)

	fireMu sync.Mutex
	fireCount map[string]int
}

type checkState struct {
	lastCheckedMs int64
}

type cacheEntry struct {
	metrics   *model.Metrics
	price     float64
	expiresAt time.Time
}

// NewEvaluator builds an Evaluator. renderer turns a fired (trigger,
// symbol, metrics, signalNumber) tuple into a (chatID, text) pair; message
// formatting is a consumer concern, so it is injected here rather than
// hardcoded.
func NewEvaluator(
	cfg Config,
	registry *Registry,
	calculator *metrics.Calculator,
	signals SignalStore,
	pipeline *notify.Pipeline,
	cooldown notify.CooldownPolicy,
	renderer func(trigger model.Trigger, symbol string, m *model.Metrics, signalNumber int) (chatID, text string),
	log *obs.Log,
) *Evaluator {
	if cooldown == nil {
		cooldown = notify.NewFixedCooldown()
	}
	return &Evaluator{
		cfg:        cfg.withDefaults(),
		registry:   registry,
		calculator: calculator,
		signals:    signals,
		pipeline:   pipeline,
		cooldown:   cooldown,
		renderer:   renderer,
		log:        log,
		pending:    make(map[string]float64),
		lastCheck:  make(map[string]checkState),
		running:    make(map[string]bool),
		cache:      make(map[string]cacheEntry),
		fireCount:  make(map[string]int),
	}
}

// SetDecisionFilter wires an optional post-fire filter, consulted after a
// trigger fires and before the Signal is persisted. Not set by default,
// matching DECISION_FILTER_ENABLED=false.
func (e *Evaluator) SetDecisionFilter(f decision.Filter) { e.filter = f }

// OnPriceUpdate implements ingest.SymbolNotifier: it records symbol's
// latest price in the pending map and arms the flush timer if none is
// pending.
func (e *Evaluator) OnPriceUpdate(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.pending[symbol] = price
	if e.timer == nil {
		e.timer = time.AfterFunc(e.cfg.FlushInterval, e.flush)
	}
}

// Start launches the housekeeping goroutine; the debounce/flush path is
// driven entirely by OnPriceUpdate and needs no separate start loop.
func (e *Evaluator) Start(ctx context.Context) {
	go e.housekeep(ctx)
}

// Stop discards the pending map and the metric cache.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.pending = make(map[string]float64)
	e.mu.Unlock()

	e.cacheMu.Lock()
	e.cache = make(map[string]cacheEntry)
	e.cacheMu.Unlock()
}

func (e *Evaluator) flush() {
	e.mu.Lock()
	batch := make(map[string]float64, len(e.pending))
	taken := 0
	for symbol, price := range e.pending {
		if taken >= e.cfg.BatchSize {
			break
		}
		batch[symbol] = price
		delete(e.pending, symbol)
		taken++
	}
	remaining := len(e.pending) > 0
	if remaining {
		e.timer = time.AfterFunc(e.cfg.FlushInterval, e.flush)
	} else {
		e.timer = nil
	}
	e.mu.Unlock()

	triggers := e.registry.GetAllActive()
	for symbol, price := range batch {
		for _, t := range triggers {
			if !t.IsActive {
				continue
			}
			e.evaluate(t, symbol, price)
		}
	}
}

func checkKey(triggerID, symbol string) string { return triggerID + "|" + symbol }

func (e *Evaluator) evaluate(t model.Trigger, symbol string, price float64) {
	key := checkKey(t.ID, symbol)
	nowMs := time.Now().UnixMilli()

	e.checkMu.Lock()
	if e.running[key] {
		e.checkMu.Unlock()
		return
	}
	fc := e.fireCount[key]
	interval := dynamicInterval(e.cfg.BaseIntervalMs, fc, e.cfg.DebounceThreshold)
	if st, ok := e.lastCheck[key]; ok && nowMs-st.lastCheckedMs < interval {
		e.checkMu.Unlock()
		return
	}
	e.running[key] = true
	e.lastCheck[key] = checkState{lastCheckedMs: nowMs}
	e.checkMu.Unlock()

	defer func() {
		e.checkMu.Lock()
		delete(e.running, key)
		e.checkMu.Unlock()
	}()

	m := e.metricsFor(symbol, t.TimeIntervalMinutes, price, t.OIChangePercent)
	if m == nil {
		e.clearFireCount(key)
		return
	}

	fired := false
	switch t.Direction {
	case model.DirectionUp:
		fired = m.OIChangePercent >= t.OIChangePercent
	case model.DirectionDown:
		fired = m.OIChangePercent <= -t.OIChangePercent
	}

	if !fired {
		e.clearFireCount(key)
		return
	}

	e.fireMu.Lock()
	e.fireCount[key]++
	e.fireMu.Unlock()

	e.onFire(t, symbol, m)
}

// dynamicInterval implements the rate-gate formula:
// dynamicInterval(n) = baseMs * 2^min(n - debounceThreshold + 1, 8) for
// n >= debounceThreshold, else baseMs.
func dynamicInterval(baseMs int64, n, debounceThreshold int) int64 {
	if n < debounceThreshold {
		return baseMs
	}
	exp := n - debounceThreshold + 1
	if exp > 8 {
		exp = 8
	}
	return baseMs * int64(math.Pow(2, float64(exp)))
}

func (e *Evaluator) clearFireCount(key string) {
	e.fireMu.Lock()
	delete(e.fireCount, key)
	e.fireMu.Unlock()
}

// metricsFor applies a local metric cache keyed on (symbol,
// intervalMinutes), TTL 500ms, invalidated early if price moved more than
// max(threshold/200, 0.005) fractionally since the cached read.
func (e *Evaluator) metricsFor(symbol string, intervalMinutes int, priceNow, threshold float64) *model.Metrics {
	key := cacheKey(symbol, intervalMinutes)
	now := time.Now()

	e.cacheMu.Lock()
	entry, ok := e.cache[key]
	e.cacheMu.Unlock()

	if ok && now.Before(entry.expiresAt) {
		if entry.price == 0 || math.Abs(priceNow-entry.price)/priceNow <= math.Max(threshold/200, 0.005) {
			return entry.metrics
		}
	}

	m := e.calculator.MetricChanges(symbol, intervalMinutes)

	e.cacheMu.Lock()
	e.cache[key] = cacheEntry{metrics: m, price: priceNow, expiresAt: now.Add(e.cfg.MetricCacheTTL)}
	e.cacheMu.Unlock()

	return m
}

func cacheKey(symbol string, intervalMinutes int) string {
	return symbol + "|" + strconv.Itoa(intervalMinutes)
}

// onFire implements the fire path: consult the cooldown, stamp
// and persist a Signal, then enqueue the rendered chat message.
func (e *Evaluator) onFire(t model.Trigger, symbol string, m *model.Metrics) {
	cooldownKey := t.UserID + "|" + symbol
	if !e.cooldown.Allow(cooldownKey, t.NotificationLimitSeconds, time.Now()) {
		return
	}

	if e.filter != nil && !e.filter.Allow(t, symbol, m) {
		return
	}

	ctx := context.Background()
	count, err := e.signals.Count24h(ctx, t.ID, symbol)
	if err != nil {
		e.log.WithComponent("trigger_evaluator").WithError(err).Warn("signal count lookup failed")
		count = 0
	}

	signal := model.Signal{
		TriggerID:          t.ID,
		UserID:             t.UserID,
		Symbol:             symbol,
		SignalNumber:       count + 1,
		OIChangePercent:    m.OIChangePercent,
		PriceChangePercent: m.PriceChangePercent,
		CurrentPrice:       m.CurrentPrice,
		CreatedAt:          time.Now(),
	}

	if err := e.signals.Save(ctx, signal); err != nil {
		e.log.WithComponent("trigger_evaluator").WithError(err).Warn("signal persist failed")
		return
	}

	chatID, text := e.renderer(t, symbol, m, signal.SignalNumber)
	e.pipeline.Enqueue(chatID, text, &signal)
}

// housekeep runs the periodic purge: stale (trigger, symbol) check
// entries after 30 min, and (implicitly, via the cooldown policy's own
// bookkeeping) notification timestamps older than 24h.
func (e *Evaluator) housekeep(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.purgeStaleChecks()
			e.cooldown.Purge(notificationTimestampTTL, time.Now())
			e.pipeline.PurgeDedup(notificationTimestampTTL)
		}
	}
}

func (e *Evaluator) purgeStaleChecks() {
	nowMs := time.Now().UnixMilli()
	staleMs := checkKeyStaleAfter.Milliseconds()

	e.checkMu.Lock()
	for key, st := range e.lastCheck {
		if nowMs-st.lastCheckedMs > staleMs {
			delete(e.lastCheck, key)
		}
	}
	e.checkMu.Unlock()

	e.fireMu.Lock()
	for key := range e.fireCount {
		if _, ok := e.lastCheck[key]; !ok {
			delete(e.fireCount, key)
		}
	}
	e.fireMu.Unlock()
}
