package model

import "time"

// Direction is the side of an OI move a trigger watches for.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Trigger is consumed from the external trigger store (TriggerRepository).
// The core never mutates a Trigger; evaluation borrows a read-only
// snapshot for the duration of a single flush.
type Trigger struct {
	ID                       string
	UserID                   string
	Direction                Direction
	OIChangePercent          float64
	TimeIntervalMinutes      int
	NotificationLimitSeconds int
	IsActive                 bool
}

// SymbolState is the per-symbol bookkeeping owned exclusively by Market
// State.
type SymbolState struct {
	LastPrice       *float64
	LastOI          *float64
	FirstSeenMs     int64
	LastUpdateMs    int64
	OutOfOrderCount int64
}

// Signal is produced for the external signal store whenever a trigger
// fires. signalNumber is a per-(trigger, symbol) rolling count over the
// trailing 24h, supplied by the SignalRepository at creation time.
type Signal struct {
	TriggerID          string
	UserID             string
	Symbol             string
	SignalNumber       int
	OIChangePercent    float64
	PriceChangePercent *float64
	CurrentPrice       *float64
	CreatedAt          time.Time
}

// Metrics is the ephemeral result of a single window query against the
// Bucket Store.
type Metrics struct {
	OIChangePercent    float64
	OIStart            float64
	OIEnd              float64
	PriceChangePercent *float64
	CurrentPrice       *float64
	PreviousPrice      *float64

	TotalVolume      float64
	DeltaVolume      float64
	TotalQuoteVolume float64
	DeltaQuoteVolume float64

	VolumeBaseline      float64
	VolumeBaselineQuote float64
	VolumeRatio         *float64
	VolumeRatioQuote    *float64

	TimeWindowSeconds int
}
