// Package notify implements the Notification Pipeline: a bounded,
// priority-ordered, rate-limited outbound queue with deduplication and a
// per-(user, symbol) cooldown gate. It uses a channel-with-drop-counter
// idiom for the bounded-queue/backpressure shape, and
// golang.org/x/time/rate for the outbound throughput budgets.
package notify

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"oisentry/internal/model"
	"oisentry/internal/obs"
)

// Priority is derived from |signal.oiChangePercent|.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// PriorityOf classifies an OI change magnitude: HIGH >= 10, NORMAL in
// [5, 10), LOW < 5.
func PriorityOf(absOIChangePercent float64) Priority {
	switch {
	case absOIChangePercent >= 10:
		return PriorityHigh
	case absOIChangePercent >= 5:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Message is one queued outbound chat notification.
type Message struct {
	ID              string
	ChatID          string
	Text            string
	Priority        Priority
	Symbol          string
	OIChangePercent float64
	Attempts        int
	EnqueuedAt      time.Time
}

// ChatSink is the outbound transport: sendMessage(chatId, renderedText) ->
// bool. Concrete chat protocols live outside this core.
type ChatSink interface {
	SendMessage(chatID, text string) bool
}

// Stats is the snapshot returned by Pipeline.Stats.
type Stats struct {
	Enqueued     int64
	Sent         int64
	Dropped      int64
	Deduplicated int64
	Failed       int64
	QueueDepth   int
}

const (
	maxQueueDepth  = 1000
	dedupWindow    = 5 * time.Second
	processTick    = 50 * time.Millisecond
	globalBudget   = 28
	perChatBudget  = 28
)

// Pipeline is the single-lane, bounded-mailbox outbound queue.
type Pipeline struct {
	sink ChatSink
	log  *obs.Log

	mu      sync.Mutex
	queues  [3][]*Message // indexed by Priority
	dedup   map[string]time.Time
	stats   Stats

	global   *rate.Limiter
	perChat  map[string]*rate.Limiter

	done chan struct{}
}

// NewPipeline builds a Pipeline delivering through sink.
func NewPipeline(sink ChatSink, log *obs.Log) *Pipeline {
	return &Pipeline{
		sink:    sink,
		log:     log,
		dedup:   make(map[string]time.Time),
		global:  rate.NewLimiter(rate.Every(time.Second/globalBudget), globalBudget),
		perChat: make(map[string]*rate.Limiter),
		done:    make(chan struct{}),
	}
}

// Enqueue admits a rendered message for chatID, optionally tagged with the
// Signal that produced it (for dedup-key and priority derivation). It
// returns false if the message was dropped (dedup or backpressure).
func (p *Pipeline) Enqueue(chatID, renderedMessage string, signal *model.Signal) bool {
	var priority Priority
	var symbol string
	var oiChangePercent float64
	if signal != nil {
		symbol = signal.Symbol
		oiChangePercent = signal.OIChangePercent
		priority = PriorityOf(abs(oiChangePercent))
	} else {
		priority = PriorityNormal
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if signal != nil {
		key := dedupKey(chatID, symbol, oiChangePercent)
		if last, ok := p.dedup[key]; ok && time.Since(last) < dedupWindow {
			p.stats.Deduplicated++
			obs.EmitDrop(p.log, obs.DropNotificationDedup, "", "", symbol, "notify")
			return false
		}
		p.dedup[key] = time.Now()
	}

	msg := &Message{
		ID:              uuid.NewString(),
		ChatID:          chatID,
		Text:            renderedMessage,
		Priority:        priority,
		Symbol:          symbol,
		OIChangePercent: oiChangePercent,
		EnqueuedAt:      time.Now(),
	}

	p.enforceCapacityLocked()
	p.queues[priority] = append(p.queues[priority], msg)
	p.stats.Enqueued++
	return true
}

func dedupKey(chatID, symbol string, oiChangePercent float64) string {
	rounded := round1(oiChangePercent)
	return chatID + "|" + symbol + "|" + strconv.FormatFloat(rounded, 'f', 1, 64)
}

// enforceCapacityLocked drops the oldest LOW then NORMAL message when the
// total queue depth would exceed maxQueueDepth. Caller holds p.mu.
func (p *Pipeline) enforceCapacityLocked() {
	if p.depthLocked() < maxQueueDepth {
		return
	}
	for _, pr := range []Priority{PriorityLow, PriorityNormal} {
		if len(p.queues[pr]) > 0 {
			dropped := p.queues[pr][0]
			p.queues[pr] = p.queues[pr][1:]
			p.stats.Dropped++
			obs.EmitDrop(p.log, obs.DropNotificationQueueOverflow, "", "", dropped.Symbol, "notify")
			return
		}
	}
}

func (p *Pipeline) depthLocked() int {
	return len(p.queues[PriorityLow]) + len(p.queues[PriorityNormal]) + len(p.queues[PriorityHigh])
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.QueueDepth = p.depthLocked()
	return s
}

// PurgeDedup discards dedup-window timestamps older than olderThan, called
// from the Trigger Evaluator's housekeeping pass to purge notification
// timestamps older than 24h.
func (p *Pipeline) PurgeDedup(olderThan time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for key, ts := range p.dedup {
		if now.Sub(ts) > olderThan {
			delete(p.dedup, key)
		}
	}
}

// Run drains the queue on a 50ms tick until stop is closed, applying the
// global and per-chat throughput budgets.
func (p *Pipeline) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(processTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.drainOnce()
		}
	}
}

func (p *Pipeline) drainOnce() {
	for {
		msg := p.popNextLocked()
		if msg == nil {
			return
		}
		if !p.global.Allow() {
			p.pushBackLocked(msg)
			return
		}
		limiter := p.chatLimiter(msg.ChatID)
		if !limiter.Allow() {
			p.requeueTailLocked(msg)
			continue
		}
		p.deliver(msg)
	}
}

func (p *Pipeline) chatLimiter(chatID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.perChat[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second/perChatBudget), perChatBudget)
		p.perChat[chatID] = l
	}
	return l
}

func (p *Pipeline) popNextLocked() *Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		q := p.queues[pr]
		if len(q) > 0 {
			p.queues[pr] = q[1:]
			return q[0]
		}
	}
	return nil
}

// pushBackLocked returns msg to the head of its priority queue; used when
// the global budget is the blocker, so ordering across priorities is
// preserved on the next tick.
func (p *Pipeline) pushBackLocked(msg *Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[msg.Priority] = append([]*Message{msg}, p.queues[msg.Priority]...)
}

// requeueTailLocked returns msg to the tail of its own priority when the
// per-chat budget (not the global one) is the blocker.
func (p *Pipeline) requeueTailLocked(msg *Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[msg.Priority] = append(p.queues[msg.Priority], msg)
}

func (p *Pipeline) deliver(msg *Message) {
	for msg.Attempts < 3 {
		msg.Attempts++
		if p.sink.SendMessage(msg.ChatID, msg.Text) {
			p.mu.Lock()
			p.stats.Sent++
			p.mu.Unlock()
			return
		}
	}
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
	obs.EmitDrop(p.log, obs.DropNotificationSinkFail, "", "", msg.Symbol, "notify")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round1(v float64) float64 {
	const scale = 10
	r := v * scale
	if r < 0 {
		r -= 0.5
	} else {
		r += 0.5
	}
	return float64(int64(r)) / scale
}
