package config

import (
	"os"
	"strconv"
	"strings"
)

// ProviderSpec identifies one venue connector by exchange and market type,
// e.g. {Exchange: "binance", MarketType: "futures"}.
type ProviderSpec struct {
	Exchange   string
	MarketType string
}

// Config holds every environment-driven knob this engine exposes.
// Structural failures (none currently defined — every knob has a safe
// default) would fail Load; individual bad numeric values fall back to
// their default with a warning, keeping structural and per-knob errors
// separate.
type Config struct {
	Providers []ProviderSpec

	MaxTrackedSymbols       int
	MaxMinuteBuckets        int
	Max15sBuckets           int
	FallbackShiftMultiplier int
	SymbolCheckInterval     int // ms

	BatchProcessingSize  int
	TriggerEngineFlushMs int
	MetricCacheTTLMs     int
	MinCheckIntervalMs   int
	DebounceThreshold    int

	LogLevel string
	Debug    bool

	CloudWatchEnabled   bool
	CloudWatchRegion    string
	CloudWatchNamespace string

	HealthAddr string

	DecisionFilterEnabled bool
}

// Load reads every knob from the process environment, applying the
// defaults for anything unset or unparsable. warn is invoked (never fatal)
// for each value that fell back to a default because of a parse error.
func Load(warn func(key, value string, err error)) *Config {
	if warn == nil {
		warn = func(string, string, error) {}
	}

	cfg := &Config{
		MaxTrackedSymbols:       envInt("MAX_TRACKED_SYMBOLS", 2000, warn),
		MaxMinuteBuckets:        envInt("MAX_MINUTE_BUCKETS", 70, warn),
		Max15sBuckets:           envInt("MAX_15S_BUCKETS", 300, warn),
		FallbackShiftMultiplier: envInt("FALLBACK_SHIFT_MULTIPLIER", 2, warn),
		SymbolCheckInterval:     envInt("SYMBOL_CHECK_INTERVAL", 5000, warn),

		BatchProcessingSize:  envInt("BATCH_PROCESSING_SIZE", 10, warn),
		TriggerEngineFlushMs: envInt("TRIGGER_ENGINE_FLUSH_MS", 200, warn),
		MetricCacheTTLMs:     envInt("TRIGGER_ENGINE_METRIC_CACHE_TTL_MS", 500, warn),
		MinCheckIntervalMs:   envInt("MIN_CHECK_INTERVAL_MS", 1000, warn),
		DebounceThreshold:    envInt("TRIGGER_ENGINE_DEBOUNCE_THRESHOLD", 3, warn),

		LogLevel: envString("LOG_LEVEL", "info"),
		Debug:    envBool("DEBUG", false, warn),

		CloudWatchEnabled:   envBool("CLOUDWATCH_METRICS_ENABLED", false, warn),
		CloudWatchRegion:    envString("AWS_REGION", ""),
		CloudWatchNamespace: envString("CLOUDWATCH_NAMESPACE", "OISurveillance"),

		HealthAddr: envString("HEALTH_ADDR", ":8080"),

		DecisionFilterEnabled: envBool("DECISION_FILTER_ENABLED", false, warn),
	}

	cfg.Providers = parseProviders(warn)
	return cfg
}

// parseProviders implements the configuration-error fallback: an absent
// or blank MARKET_DATA_PROVIDERS selects a single default provider
// (binance futures) silently; a value that yields no usable entry falls
// back to the same default with a warning, never a fatal error.
func parseProviders(warn func(key, value string, err error)) []ProviderSpec {
	raw := os.Getenv("MARKET_DATA_PROVIDERS")
	globalMarketType := envString("MARKET_TYPE", "spot")

	if strings.TrimSpace(raw) == "" {
		return []ProviderSpec{{Exchange: "binance", MarketType: "futures"}}
	}

	var specs []ProviderSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		exchange := entry
		marketType := ""
		if idx := strings.Index(entry, ":"); idx >= 0 {
			exchange = entry[:idx]
			marketType = entry[idx+1:]
		}
		exchange = strings.ToLower(strings.TrimSpace(exchange))
		if exchange == "" {
			continue
		}
		if marketType == "" {
			marketType = envString(strings.ToUpper(exchange)+"_MARKET_TYPE", globalMarketType)
		}
		specs = append(specs, ProviderSpec{Exchange: exchange, MarketType: strings.ToLower(strings.TrimSpace(marketType))})
	}

	if len(specs) == 0 {
		warn("MARKET_DATA_PROVIDERS", raw, nil)
		return []ProviderSpec{{Exchange: "binance", MarketType: "futures"}}
	}
	return specs
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, warn func(key, value string, err error)) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		warn(key, v, err)
		return def
	}
	return n
}

func envBool(key string, def bool, warn func(key, value string, err error)) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warn(key, v, err)
		return def
	}
	return b
}
