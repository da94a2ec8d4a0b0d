package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tickflow/config"
	"tickflow/event"
	"tickflow/exchange"
	"tickflow/exchange/binance"
	"tickflow/exchange/bybit"
	"tickflow/exchange/okx"
	"tickflow/logger"
	"tickflow/metrics"
	"tickflow/stream"
	"tickflow/streams"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tickflow.Name,
		"version": cfg.Tickflow.Version,
	}).Info("starting tickflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Cloudwatch.Enabled {
		logger.InitCloudWatch(cfg.Cloudwatch.Region, cfg.Cloudwatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Cloudwatch.Enabled {
		interval := cfg.Cloudwatch.Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	registry, err := exchange.NewRegistry(
		binance.New(binance.Config{WSURL: cfg.Exchanges.Binance.WSURL}),
		okx.New(okx.Config{WSURL: cfg.Exchanges.Okx.WSURL}),
		bybit.New(bybit.Config{WSURL: cfg.Exchanges.Bybit.WSURL}),
	)
	if err != nil {
		log.WithError(err).Error("failed to build exchange registry")
		os.Exit(1)
	}

	batches, err := cfg.Subscriptions()
	if err != nil {
		log.WithError(err).Error("failed to build subscriptions")
		os.Exit(1)
	}
	if len(batches) == 0 {
		log.Error("no exchanges enabled")
		os.Exit(1)
	}

	builder := streams.NewBuilder(registry, stream.Config{
		SubscribeTimeout: cfg.Stream.SubscribeTimeout,
		SubscribeRPS:     cfg.Stream.SubscribeRPS,
		OutboundBuffer:   cfg.Stream.OutboundBuffer,
	})
	for _, batch := range batches {
		builder.Subscribe(batch...)
	}

	s, err := builder.Init(ctx)
	if err != nil {
		log.WithError(err).Error("failed to initialise streams")
		os.Exit(1)
	}
	defer s.Close()

	log.Info("all streams started successfully")

	go consume(ctx, log, s)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tickflow stopped")
}

// consume drains the merged stream, logging events at debug level and
// recoverable errors at warn.
func consume(ctx context.Context, log *logger.Log, s *streams.Streams) {
	entry := log.WithComponent("consumer")
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-s.Events():
			if !ok {
				return
			}
			if r.Err != nil {
				entry.WithError(r.Err).Warn("stream error")
				continue
			}
			logger.RecordEvent(string(r.Market.Exchange))
			entry.WithFields(logger.Fields{
				"exchange":   string(r.Market.Exchange),
				"instrument": r.Market.Instrument.String(),
				"kind":       string(r.Market.Event.Kind()),
			}).Debug(describe(r.Market))
		}
	}
}

func describe(m event.Market) string {
	switch m.Event.(type) {
	case event.Trade:
		return "trade"
	case event.OrderBookL1:
		return "top of book"
	case event.OrderBookSnapshot:
		return "book snapshot"
	case event.OrderBookUpdate:
		return "book update"
	default:
		return "event"
	}
}
