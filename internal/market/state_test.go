package market

import "testing"

func f(v float64) *float64 { return &v }

func TestUpdateTracksFirstSeenAndLastUpdate(t *testing.T) {
	s := New(10)
	s.Update("BTCUSDT", 1000, f(50000), f(1000), false)
	s.Update("BTCUSDT", 2000, f(51000), f(1010), false)

	st := s.Get("BTCUSDT")
	if st == nil {
		t.Fatal("expected symbol state to exist")
	}
	if st.FirstSeenMs != 1000 {
		t.Fatalf("firstSeen should be set once on first observation, got %d", st.FirstSeenMs)
	}
	if st.LastUpdateMs != 2000 {
		t.Fatalf("lastUpdate should advance, got %d", st.LastUpdateMs)
	}
	if *st.LastPrice != 51000 {
		t.Fatalf("expected latest price 51000, got %v", *st.LastPrice)
	}
}

func TestUpdateRejectsNonPositivePrice(t *testing.T) {
	s := New(10)
	s.Update("BTCUSDT", 1000, f(50000), f(1000), false)
	s.Update("BTCUSDT", 2000, f(0), f(1010), false)

	st := s.Get("BTCUSDT")
	if *st.LastPrice != 50000 {
		t.Fatalf("non-positive price must not overwrite, got %v", *st.LastPrice)
	}
}

func TestOutOfOrderCounterIncrements(t *testing.T) {
	s := New(10)
	s.Update("BTCUSDT", 1000, nil, nil, false)
	s.Update("BTCUSDT", 900, nil, nil, true)

	st := s.Get("BTCUSDT")
	if st.OutOfOrderCount != 1 {
		t.Fatalf("expected out-of-order count 1, got %d", st.OutOfOrderCount)
	}
}

func TestMaintenanceTTLEviction(t *testing.T) {
	s := New(10)
	s.Update("BTCUSDT", 0, f(1), f(1), false)

	var evicted []string
	dayMs := int64(24 * 60 * 60 * 1000)
	s.Maintenance(dayMs+1000, func(sym string) { evicted = append(evicted, sym) })

	if len(evicted) != 1 || evicted[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT evicted by TTL, got %v", evicted)
	}
	if s.Get("BTCUSDT") != nil {
		t.Fatal("expected no residual state after TTL eviction")
	}
}

func TestMaintenanceCapEviction(t *testing.T) {
	s := New(2)
	s.Update("A", 1000, nil, nil, false)
	s.Update("B", 2000, nil, nil, false)
	s.Update("C", 3000, nil, nil, false)

	var evicted []string
	s.Maintenance(3000, func(sym string) { evicted = append(evicted, sym) })

	if len(evicted) != 1 || evicted[0] != "A" {
		t.Fatalf("expected least-recently-updated symbol A evicted, got %v", evicted)
	}
}
