// Package wsconn is a venue-agnostic reconnecting websocket dialer reused
// by the Bybit and OKX providers, parameterized by a subscribe callback
// and a message handler instead of being hardwired to any one venue's
// subscribe payload shape.
package wsconn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"oisentry/internal/obs"
)

// Config parameterizes one reconnecting connection.
type Config struct {
	URL string

	// Subscribe is invoked once per successful dial, before messages are
	// read, to send whatever subscription payload the venue expects.
	Subscribe func(conn *websocket.Conn) error

	// OnMessage is invoked for every inbound text/binary frame.
	OnMessage func(data []byte)

	// OnConnected is invoked after Subscribe succeeds, e.g. to mark the
	// provider's state machine Connected.
	OnConnected func()

	PingInterval time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration

	Log *obs.Log

	// Intentional reports whether the caller has requested a deliberate
	// shutdown; when true after a connection closes, the loop exits
	// instead of reconnecting.
	Intentional func() bool
}

// Run dials, subscribes, pings, and reads until ctx is cancelled or
// Intentional() becomes true, reconnecting with exponential backoff
// (base 5s, cap 60s) on every unintentional close.
func Run(ctx context.Context, cfg Config) {
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			cfg.Log.WithComponent("wsconn").WithError(err).WithField("url", cfg.URL).Warn("dial failed; retrying")
			if !waitBackoff(ctx, delay) {
				return
			}
			delay = nextDelay(delay, maxDelay)
			continue
		}
		delay = cfg.BaseDelay
		if delay <= 0 {
			delay = 5 * time.Second
		}

		if cfg.Subscribe != nil {
			if err := cfg.Subscribe(conn); err != nil {
				cfg.Log.WithComponent("wsconn").WithError(err).Warn("subscribe failed; reconnecting")
				conn.Close()
				if !waitBackoff(ctx, delay) {
					return
				}
				continue
			}
		}
		if cfg.OnConnected != nil {
			cfg.OnConnected()
		}

		connCtx, cancel := context.WithCancel(ctx)
		go pingLoop(connCtx, conn, pingInterval, cancel, cfg.Log)
		readMessages(connCtx, conn, cfg.OnMessage)
		cancel()
		conn.Close()

		if ctx.Err() != nil || (cfg.Intentional != nil && cfg.Intentional()) {
			return
		}
		if !waitBackoff(ctx, delay) {
			return
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, cancel context.CancelFunc, log *obs.Log) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.WithComponent("wsconn").WithError(err).Debug("ping failed; forcing reconnect")
				cancel()
				return
			}
		}
	}
}

func readMessages(ctx context.Context, conn *websocket.Conn, onMessage func([]byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}

func waitBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
