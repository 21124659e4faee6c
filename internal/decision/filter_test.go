package decision

import (
	"testing"

	"oisentry/internal/model"
)

func TestNoOpAlwaysAllows(t *testing.T) {
	var f Filter = NoOp{}
	if !f.Allow(model.Trigger{}, "BTCUSDT", nil) {
		t.Fatal("NoOp must always allow")
	}
	if !f.Allow(model.Trigger{}, "BTCUSDT", &model.Metrics{OIChangePercent: -50}) {
		t.Fatal("NoOp must allow regardless of metrics content")
	}
}

type stubFilter struct{ allow bool }

func (s stubFilter) Allow(model.Trigger, string, *model.Metrics) bool { return s.allow }

func TestFilterInterfaceSubstitution(t *testing.T) {
	var f Filter = stubFilter{allow: false}
	if f.Allow(model.Trigger{}, "ETHUSDT", nil) {
		t.Fatal("expected stub filter to suppress")
	}
}
