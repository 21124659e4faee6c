// Package decision provides an optional post-fire filter hook: a secondary
// decision-analysis module (BTC-correlation, regime classification,
// velocity filter) outside the core hot path. This package gives that
// idea a real extension point — a Filter interface the Evaluator can
// consult after a trigger fires and before enqueueing — without
// inventing unspecified math. The default implementation is a no-op that
// always passes.
package decision

import "oisentry/internal/model"

// Filter decides whether a fired trigger should actually be notified.
// Implementations may apply correlation, regime, or velocity checks; the
// default NoOp always returns true.
type Filter interface {
	Allow(trigger model.Trigger, symbol string, m *model.Metrics) bool
}

// NoOp is the default Filter: it never suppresses a fire. Off by
// default (DECISION_FILTER_ENABLED=false means this hook is skipped
// entirely; when enabled with no other Filter wired, NoOp is a safe
// identity implementation).
type NoOp struct{}

func (NoOp) Allow(model.Trigger, string, *model.Metrics) bool { return true }
