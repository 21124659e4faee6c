// Package model holds the normalized record types shared by every layer of
// the surveillance engine: ingress updates, aggregation buckets, trigger
// configuration, and the signals produced when a trigger fires.
package model

import "math"

// MarketType distinguishes spot from derivatives feeds.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// MarketUpdate is the normalized ingress record every venue provider emits.
// Optional fields use pointers: a nil pointer means "no update for that
// field in this record", not zero. ProviderID is the hyphenated
// {exchange}-{marketType} identity, e.g. "binance-futures".
type MarketUpdate struct {
	ProviderID  string
	MarketType  MarketType
	Symbol      string
	TimestampMs int64

	Price                  *float64
	OpenInterest           *float64
	OpenInterestTimestampMs *int64
	Volume                 *float64
	QuoteVolume            *float64
	MarkPrice              *float64
	FundingRate            *float64
	VolumeBuy              *float64
	VolumeSell             *float64
	VolumeBuyQuote         *float64
	VolumeSellQuote        *float64
}

// Valid reports whether the record satisfies the boundary validation rules:
// symbol shape, non-negative finite monetary fields. A record failing
// validation must be dropped silently by the caller and counted, never
// propagated.
func (u *MarketUpdate) Valid() bool {
	if u == nil || u.Symbol == "" || u.TimestampMs <= 0 {
		return false
	}
	if !isValidSymbol(u.Symbol) {
		return false
	}
	fields := []*float64{
		u.Price, u.OpenInterest, u.Volume, u.QuoteVolume, u.MarkPrice,
		u.VolumeBuy, u.VolumeSell, u.VolumeBuyQuote, u.VolumeSellQuote,
	}
	for _, f := range fields {
		if f == nil {
			continue
		}
		if !finiteNonNegative(*f) {
			return false
		}
	}
	if u.Price != nil && *u.Price <= 0 {
		return false
	}
	return true
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// isValidSymbol matches an upper-case ticker terminating in a fixed quote
// suffix, here USDT.
func isValidSymbol(symbol string) bool {
	if len(symbol) < 5 {
		return false
	}
	if symbol[len(symbol)-4:] != "USDT" {
		return false
	}
	first := symbol[0]
	if first < 'A' || first > 'Z' {
		return false
	}
	for i := 1; i < len(symbol); i++ {
		c := symbol[i]
		isUpper := c >= 'A' && c <= 'Z'
		isDigit := c >= '0' && c <= '9'
		if !isUpper && !isDigit {
			return false
		}
	}
	return true
}

// Ptr is a small helper used throughout the providers to build *float64 /
// *int64 optional fields from a literal without a local variable.
func Ptr[T any](v T) *T { return &v }
