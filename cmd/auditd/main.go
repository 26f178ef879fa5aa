// Package main wires together the audit service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/api"
	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/browser"
	"github.com/JakeFAU/site-auditor/internal/clock/system"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/fetch"
	"github.com/JakeFAU/site-auditor/internal/hash/sha256"
	"github.com/JakeFAU/site-auditor/internal/id/uuid"
	"github.com/JakeFAU/site-auditor/internal/logging"
	"github.com/JakeFAU/site-auditor/internal/modules"
	"github.com/JakeFAU/site-auditor/internal/orchestrator"
	"github.com/JakeFAU/site-auditor/internal/progress"
	"github.com/JakeFAU/site-auditor/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/site-auditor/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-auditor/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/site-auditor/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/site-auditor/internal/queue/pubsub"
	"github.com/JakeFAU/site-auditor/internal/quota"
	"github.com/JakeFAU/site-auditor/internal/storage/gcs"
	"github.com/JakeFAU/site-auditor/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-auditor/internal/storage/memory"
	"github.com/JakeFAU/site-auditor/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("auditd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	hasher := sha256.New()

	auditStore, quotaStore, closeStores, err := buildStores(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer closeStores()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	queue, publisher, closeTransport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	quotaSvc, err := quota.NewService(&quota.Config{
		ReportValidity: time.Duration(cfg.Quota.ReportValidityHours) * time.Hour,
		ResetPeriod:    time.Duration(cfg.Quota.ResetPeriodDays) * 24 * time.Hour,
		CacheSize:      cfg.Quota.CacheSize,
	}, quotaStore, auditStore, clock, logging.Component(logger, "quota"))
	if err != nil {
		return fmt.Errorf("init quota service: %w", err)
	}

	pool := browser.NewChromedp(browser.Config{
		MaxSessions:     cfg.Browser.MaxSessions,
		AcquireTimeout:  time.Duration(cfg.Browser.AcquireTimeoutSec) * time.Second,
		LaunchRetries:   cfg.Browser.LaunchRetries,
		MaxIdle:         time.Duration(cfg.Browser.MaxIdleSec) * time.Second,
		JanitorInterval: time.Duration(cfg.Browser.JanitorIntervalSec) * time.Second,
		UserAgent:       cfg.Browser.UserAgent,
	}, clock, logging.Component(logger, "browser"))
	pool.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("browser pool shutdown", zap.Error(err))
		}
	}()

	fetcher := fetch.New(fetch.Config{
		NavigationTimeout: cfg.NavTimeout(),
		UserAgent:         cfg.Browser.UserAgent,
		ProbeTimeout:      time.Duration(cfg.Fetch.ProbeTimeoutSec) * time.Second,
		SkipProbe:         cfg.Fetch.SkipProbe,
		BlockedPatterns:   cfg.Fetch.BlockedPatterns,
		HostRPS:           cfg.Fetch.HostRPS,
		HostBurst:         cfg.Fetch.HostBurst,
		BlobPrefix:        cfg.Fetch.BlobPrefix,
	}, blobStore, hasher, clock, logging.Component(logger, "fetch"))

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logging.Component(logger, "progress")},
		sinks.NewLogSink(logging.Component(logger, "events")),
		promSink,
		sinks.NewPublisherSink(publisher, cfg.PubSub.EventTopic),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	registry := modules.DefaultRegistry()
	svc := orchestrator.NewService(queue, auditStore, quotaSvc, idGen, clock, hub,
		nil, logging.Component(logger, "orchestrator"))

	workerCfg := orchestrator.Config{
		ModuleTimeout:     time.Duration(cfg.Analysis.ModuleTimeoutSec) * time.Second,
		AnalysisTimeout:   time.Duration(cfg.Analysis.AnalysisTimeoutSec) * time.Second,
		ModuleConcurrency: cfg.Analysis.ModuleConcurrency,
	}
	workerErr := make(chan error, 1)
	go func() {
		var i int
		workerErr <- orchestrator.RunWorkers(ctx, cfg.Analysis.Workers, func() *orchestrator.Worker {
			i++
			return orchestrator.NewWorker(queue, auditStore, pool, fetcher, registry,
				quotaSvc, nil, hub, clock, svc.Cancels(), workerCfg,
				logging.Component(logger, "worker").With(zap.Int("index", i)))
		})
	}()

	apiServer := api.NewServer(svc, cfg, logging.Component(logger, "api"),
		api.WithReadiness(func(context.Context) error {
			if ctx.Err() != nil {
				return errors.New("shutting down")
			}
			return nil
		}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			shutdown()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-workerErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker pool error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, clock audit.Clock) (audit.AuditStore, audit.QuotaStore, func(), error) {
	switch cfg.DB.Backend {
	case "postgres":
		auditStore, err := postgres.NewAuditStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
			Clock:    clock,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres audit store: %w", err)
		}
		quotaStore, err := postgres.NewQuotaStore(ctx, postgres.QuotaConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			auditStore.Close()
			return nil, nil, nil, fmt.Errorf("init postgres quota store: %w", err)
		}
		return auditStore, quotaStore, func() {
			auditStore.Close()
			quotaStore.Close()
		}, nil
	default:
		return memorystorage.NewAuditStore(clock), memorystorage.NewQuotaStore(), func() {}, nil
	}
}

func buildTransport(ctx context.Context, cfg config.Config, logger *zap.Logger) (audit.Queue, audit.Publisher, func(), error) {
	if cfg.PubSub.Backend != "pubsub" {
		queue := queuememory.NewQueue(cfg.Analysis.QueueDepth)
		return queue, memorypublisher.New(), queue.Close, nil
	}

	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.JobTopic)
	sub := client.Subscription(cfg.PubSub.Subscription)
	queue := queuepubsub.New(topic, sub, logging.Component(logger, "queue"))
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close", zap.Error(err))
		}
	}
	return queue, pubsubpublisher.New(client), closeFn, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (audit.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}
