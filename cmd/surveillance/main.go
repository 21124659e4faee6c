// Command surveillance is the composition root: it wires venue providers,
// the aggregation stores, the trigger evaluator, and the notification
// pipeline into one running process, using env bootstrap,
// context+signal handling, and ordered graceful shutdown over a
// sync.WaitGroup of long-running components.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"oisentry/internal/bucket"
	"oisentry/internal/config"
	"oisentry/internal/decision"
	"oisentry/internal/ingest"
	"oisentry/internal/market"
	"oisentry/internal/metrics"
	"oisentry/internal/model"
	"oisentry/internal/notify"
	"oisentry/internal/obs"
	"oisentry/internal/provider"
	"oisentry/internal/provider/binance"
	"oisentry/internal/provider/bybit"
	"oisentry/internal/provider/hybrid"
	"oisentry/internal/provider/okx"
	"oisentry/internal/store"
	"oisentry/internal/trigger"
)

func main() {
	log := obs.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	cfg := config.Load(func(key, value string, err error) {
		log.WithComponent("config").WithFields(obs.Fields{"key": key, "value": value}).WithError(err).Warn("falling back to default")
	})
	log.Configure(cfg.LogLevel, "json", "", 0)

	if cfg.CloudWatchEnabled {
		cwCtx := context.Background()
		obs.InitCloudWatch(cwCtx, log, cfg.CloudWatchRegion, cfg.CloudWatchNamespace)
		obs.RegisterCloudWatchHandler(cwCtx, log)
	}

	log.WithFields(obs.Fields{"providers": cfg.Providers}).Info("starting surveillance engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allowlist, err := config.LoadVenueAllowlist(os.Getenv("VENUE_ALLOWLIST_PATH"))
	if err != nil {
		log.WithError(err).Error("failed to load venue allowlist")
		os.Exit(1)
	}

	bucketStore := bucket.New(cfg.Max15sBuckets, cfg.MaxMinuteBuckets)
	marketState := market.New(cfg.MaxTrackedSymbols)
	calculator := metrics.New(bucketStore, marketState, cfg.FallbackShiftMultiplier)

	triggerStore := store.NewMemoryTriggerStore()
	signalStore := store.NewMemorySignalStore()
	registry := trigger.NewRegistry(triggerStore)
	if err := registry.Init(ctx); err != nil {
		log.WithError(err).Error("failed to initialize trigger registry")
		os.Exit(1)
	}

	pipeline := notify.NewPipeline(notify.NewLogSink(log), log)

	evaluator := trigger.NewEvaluator(
		trigger.Config{
			BatchSize:         cfg.BatchProcessingSize,
			FlushInterval:     time.Duration(cfg.TriggerEngineFlushMs) * time.Millisecond,
			MetricCacheTTL:    time.Duration(cfg.MetricCacheTTLMs) * time.Millisecond,
			BaseIntervalMs:    int64(cfg.MinCheckIntervalMs),
			DebounceThreshold: cfg.DebounceThreshold,
		},
		registry,
		calculator,
		signalStore,
		pipeline,
		nil, // default FixedCooldown
		renderSignal,
		log,
	)
	if cfg.DecisionFilterEnabled {
		evaluator.SetDecisionFilter(decision.NoOp{})
	}

	gateway := ingest.New(log, bucketStore, marketState, 8, evaluator)

	for _, spec := range cfg.Providers {
		p, perr := buildProvider(spec, log, allowlist)
		if perr != nil {
			log.WithComponent("main").WithError(perr).WithField("exchange", spec.Exchange).Warn("skipping unknown provider")
			continue
		}
		gateway.RegisterProvider(p)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.Connect(ctx); err != nil {
			log.WithComponent("main").WithError(err).Error("ingestion gateway failed to connect any provider")
		}
	}()

	evaluator.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx.Done())
	}()

	var httpSrv *obs.HTTPServer
	if httpSrv = obs.NewHTTPServer(cfg.HealthAddr, log); httpSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			httpSrv.Run(ctx)
		}()
	}

	log.Info("all components started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping trigger evaluator")
	evaluator.Stop()

	log.Info("disconnecting providers")
	gateway.Disconnect()

	wg.Wait()
	log.Info("shutdown complete")
}

// buildProvider constructs a venue connector for spec. "hybrid" composes a
// trade-stream provider with a ticker/OI provider separated by "+", e.g.
// "hybrid:binance+okx" (price/volume from binance, OI from okx).
func buildProvider(spec config.ProviderSpec, log *obs.Log, allowlist *config.VenueAllowlist) (provider.Provider, error) {
	if spec.Exchange == "hybrid" {
		legs := strings.Split(spec.MarketType, "+")
		if len(legs) != 2 {
			return nil, fmt.Errorf("hybrid provider requires two venues, e.g. hybrid:binance+okx, got %q", spec.MarketType)
		}
		priceVenue, err := buildSimpleProvider(strings.TrimSpace(legs[0]), log, allowlist)
		if err != nil {
			return nil, fmt.Errorf("hybrid price venue: %w", err)
		}
		oiVenue, err := buildSimpleProvider(strings.TrimSpace(legs[1]), log, allowlist)
		if err != nil {
			return nil, fmt.Errorf("hybrid oi venue: %w", err)
		}
		id := fmt.Sprintf("hybrid-%s-%s", legs[0], legs[1])
		return hybrid.New(id, log, priceVenue, oiVenue), nil
	}
	return buildSimpleProvider(spec.Exchange, log, allowlist)
}

func buildSimpleProvider(exchange string, log *obs.Log, allowlist *config.VenueAllowlist) (provider.Provider, error) {
	switch exchange {
	case "binance":
		return binance.New(log, allowlist), nil
	case "bybit":
		return bybit.New(log, allowlist), nil
	case "okx":
		return okx.New(log, allowlist), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", exchange)
	}
}

// renderSignal produces the default chat payload for a fired trigger.
// Message formatting is explicitly a consumer concern ; this
// is a minimal placeholder until a real chat protocol is wired in.
func renderSignal(t model.Trigger, symbol string, m *model.Metrics, signalNumber int) (chatID, text string) {
	direction := "up"
	if t.Direction == model.DirectionDown {
		direction = "down"
	}
	return t.UserID, fmt.Sprintf(
		"[%s] OI moved %s %.2f%% over %dm (signal #%d, trigger %s)",
		symbol, direction, m.OIChangePercent, t.TimeIntervalMinutes, signalNumber, t.ID,
	)
}
