// Command engine runs the flowengine order-flow analytics pipeline for
// a single symbol: it dials the exchange feed, drives the detector
// graph, and serves signals over Kafka, SSE and webhook, plus an
// operational HTTP surface. Process wiring and graceful shutdown are
// grounded on the teacher's app.go (App.Start/gracefulShutdown), swung
// from fmt.Println status lines to structured zap logging per
// SPEC_FULL.md's ambient observability stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowengine/internal/cache"
	"flowengine/internal/config"
	"flowengine/internal/engine"
	"flowengine/internal/feed"
	"flowengine/internal/httpapi"
	"flowengine/internal/persistence"
	"flowengine/internal/publish"
	"flowengine/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	appCfg, err := config.LoadApp()
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}
	engineCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}

	log, err := telemetry.NewLogger(appCfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Info("flowengine starting", zap.String("symbol", engineCfg.Symbol))

	tradeArchive, err := persistence.OpenTradeArchive(appCfg.TradeArchivePath)
	if err != nil {
		return fmt.Errorf("open trade archive: %w", err)
	}
	defer tradeArchive.Close()

	sinks := []publish.Port{publish.NewBroadcaster(log.Named("broadcaster"))}
	broadcaster := sinks[0].(*publish.Broadcaster)

	if len(appCfg.KafkaBrokers) > 0 {
		kafkaPub := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers: appCfg.KafkaBrokers,
			Topic:   appCfg.KafkaTopic,
		}, log.Named("kafka"))
		defer kafkaPub.Close()
		sinks = append(sinks, kafkaPub)
	} else {
		log.Info("kafka publication disabled: no brokers configured")
	}

	if appCfg.SignalLogDSN != "" {
		db, err := persistence.ConnectSignalLog(appCfg.SignalLogDSN)
		if err != nil {
			return fmt.Errorf("connect signal log: %w", err)
		}
		sinks = append(sinks, persistence.NewSignalLog(db))
	} else {
		log.Info("signal log disabled: no DSN configured")
	}

	if appCfg.WebhookURL != "" {
		var dedup *cache.RedisClient
		if appCfg.RedisAddr != "" {
			dedup = cache.NewRedisClient(appCfg.RedisAddr, appCfg.RedisPassword, log.Named("cache"))
			if dedup != nil {
				defer dedup.Close()
			}
		}
		sinks = append(sinks, publish.NewWebhookNotifier(publish.WebhookConfig{
			URL:            appCfg.WebhookURL,
			AuthHeader:     appCfg.WebhookAuthHeader,
			AuthValue:      appCfg.WebhookAuthValue,
			MinConfidence:  appCfg.WebhookMinConfidence,
			DedupTTL:       appCfg.WebhookDedupTTL,
		}, dedup, log.Named("webhook")))
	} else {
		log.Info("webhook notification disabled: no URL configured")
	}

	source := feed.New(feed.Config{
		WSURL:           appCfg.FeedWSURL,
		RESTBaseURL:     appCfg.FeedRESTBaseURL,
		Symbol:          engineCfg.Symbol,
		AuthToken:       appCfg.FeedAuthToken,
		PingInterval:    appCfg.FeedPingInterval,
	}, log.Named("feed"))

	eng, err := engine.New(*engineCfg, engine.Params{
		Source:    source,
		Publish:   publish.NewFanout(sinks...),
		TradeSink: tradeArchive,
	}, log.Named("engine"))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	metrics := telemetry.NewMetrics()
	api := httpapi.New(
		eng.Book(),
		eng.Anomaly(),
		eng.SignalManager(),
		promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		log.Named("httpapi"),
	)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.HTTPPort),
		Handler:      api,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcastDone := make(chan struct{})
	go broadcaster.Run(broadcastDone)
	defer close(broadcastDone)

	engineErr := make(chan error, 1)
	go func() { engineErr <- eng.Run(ctx) }()

	go func() {
		log.Info("http api listening", zap.Int("port", appCfg.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	engineStopped := false
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-engineErr:
		engineStopped = true
		if err != nil && err != context.Canceled {
			log.Error("engine exited with error", zap.Error(err))
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	if !engineStopped {
		select {
		case <-engineErr:
		case <-time.After(5 * time.Second):
			log.Warn("engine did not stop within shutdown window")
		}
	}

	log.Info("flowengine stopped")
	return nil
}
