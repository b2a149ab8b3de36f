package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/bark-labs/webpush-relay/internal/config"
	"github.com/bark-labs/webpush-relay/internal/crypto"
	"github.com/bark-labs/webpush-relay/internal/ingest"
	"github.com/bark-labs/webpush-relay/internal/logging"
	"github.com/bark-labs/webpush-relay/internal/metrics"
	"github.com/bark-labs/webpush-relay/internal/pushclient"
	"github.com/bark-labs/webpush-relay/internal/server"
	"github.com/bark-labs/webpush-relay/internal/service"
	"github.com/bark-labs/webpush-relay/internal/storage/bolt"
	"github.com/bark-labs/webpush-relay/internal/stream"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	if err := runRelay(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("relay stopped")
	}
	logger.Info().Msg("relay stopped")
}

func runRelay(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := bolt.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	keys, err := service.LoadOrCreateVAPIDKeys(ctx, store, crypto.VAPIDKeys{
		PublicKey:  cfg.VAPID.PublicKey,
		PrivateKey: cfg.VAPID.PrivateKey,
	})
	if err != nil {
		return err
	}
	secret, err := service.LoadOrCreateJWTSecret(ctx, store, cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	pres, err := cfg.Worker.Presentation()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authSvc := service.NewAuthService(service.AuthConfig{
		Enabled:  cfg.Auth.Enabled,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		Secret:   secret,
	})

	hubOpts := []stream.Option{stream.WithClientGauge(m.SetStreamClients)}
	if authSvc.Enabled() {
		hubOpts = append(hubOpts, stream.WithValidator(authSvc.ValidateToken))
	}
	hub := stream.NewHub(stream.Config{
		PingInterval: cfg.Stream.PingInterval,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, logging.Component(logger, "stream"), hubOpts...)

	pusher, err := pushclient.New(pushclient.Options{
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		Subscriber:      cfg.VAPID.Subscriber,
		TTL:             cfg.VAPID.TTL,
		RecordSize:      cfg.VAPID.RecordSize,
		RequestTimeout:  cfg.Push.RequestTimeout,
		RatePerSec:      cfg.Push.RatePerSec,
		Burst:           cfg.Push.Burst,
	})
	if err != nil {
		return fmt.Errorf("init push client: %w", err)
	}

	subSvc := service.NewSubscriptionService(store)
	noticeSvc := service.NewNoticeService(store, pusher, subSvc, service.NoticeOptions{
		Publisher:    hub,
		Metrics:      m,
		Logger:       logging.Component(logger, "notice"),
		PayloadLimit: cfg.Push.PayloadLimit,
		BodyMaxRunes: cfg.Push.BodyMaxRunes,
		CriticalTag:  pres.CriticalTag,
		Retention:    cfg.Storage.Retention,
	})
	logSvc := service.NewDeliveryLogService(store, subSvc)
	previewSvc := service.NewPreviewService(cfg.Server.Origin, pres, logging.Component(logger, "preview"))
	retention, err := service.NewRetentionService(store, cfg.Storage.Retention, cfg.Storage.PruneSchedule, logging.Component(logger, "retention"))
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Subscriptions: subSvc,
		Notices:       noticeSvc,
		Logs:          logSvc,
		Auth:          authSvc,
		Preview:       previewSvc,
		Metrics:       m,
		Stream:        hub,
		PublicKey:     keys.PublicKey,
		Logger:        logging.Component(logger, "http"),
	})

	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	g.Add(srv.Start, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	})

	if cfg.Stream.Addr != "" {
		streamSrv := &http.Server{
			Addr:              cfg.Stream.Addr,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			logger.Info().Str("addr", cfg.Stream.Addr).Msg("stream listening")
			if err := streamSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = streamSrv.Shutdown(shutdownCtx)
		})
	}

	retentionCtx, stopRetention := context.WithCancel(ctx)
	g.Add(func() error {
		if err := retention.Start(retentionCtx); err != nil {
			return err
		}
		<-retentionCtx.Done()
		return nil
	}, func(error) {
		stopRetention()
		retention.Stop()
	})

	if cfg.Kafka.Enabled {
		group, err := ingest.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.Group)
		if err != nil {
			return fmt.Errorf("kafka consumer group: %w", err)
		}
		consumer := ingest.NewConsumer(cfg.Kafka.Topic, group, noticeSvc, func(err error) bool {
			return errors.Is(err, service.ErrEmptyNotice)
		}, logging.Component(logger, "kafka"))
		kafkaCtx, stopKafka := context.WithCancel(ctx)
		g.Add(func() error {
			if err := consumer.Start(kafkaCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}, func(error) {
			stopKafka()
		})
	}

	logger.Info().
		Str("origin", cfg.Server.Origin).
		Bool("auth", authSvc.Enabled()).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("relay starting")

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}
