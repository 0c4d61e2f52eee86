package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	config "github.com/NordCoder/Pricerus/internal/config/scheduler"
	"github.com/NordCoder/Pricerus/internal/domain/notification"
	"github.com/NordCoder/Pricerus/internal/obs"
	"github.com/NordCoder/Pricerus/internal/obs/retry"
	"github.com/NordCoder/Pricerus/internal/outbox"
	"github.com/NordCoder/Pricerus/internal/repository/kafka"
	pg "github.com/NordCoder/Pricerus/internal/repository/postgres"
	"github.com/NordCoder/Pricerus/internal/services/notifier"
	"github.com/NordCoder/Pricerus/internal/services/scheduler"
	"github.com/NordCoder/Pricerus/internal/services/scraper"
	"github.com/NordCoder/Pricerus/internal/services/status"
)

type app struct {
	runner *scheduler.Runner
	outbox *outbox.Runner
	api    *http.Server
}

func wire(cfg *config.Config, db *pg.DB, events *kafka.PriceEventsKafka, l *zap.Logger) (*app, error) {
	clock := notification.SystemClock{}
	tx := pg.NewTransactor(db, l)

	configs := pg.NewTrackingRepo(db)
	runs := pg.NewRunRepo(db)
	prices := pg.NewPriceRepo(db)
	notifs := pg.NewNotificationRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)

	gate := &notifier.Gate{
		Log:           l.With(zap.String("component", "notifier.gate")),
		Tx:            tx,
		Configs:       configs,
		Prices:        prices,
		Notifications: notifs,
		Users:         pg.NewUserRepo(db),
		Outbox:        outboxRepo,
		Mail:          notifier.New(cfg.SMTP).WithLogger(l),
		Clock:         clock,
	}

	fetcher, err := scraper.NewHTTPFetcher(cfg.HTTP)
	if err != nil {
		return nil, err
	}
	exec := &scraper.Executor{
		Log:          l.With(zap.String("component", "scraper.executor")),
		Fetcher:      fetcher,
		Extractor:    scraper.AmazonExtractor{},
		Tx:           tx,
		Runs:         runs,
		Prices:       prices,
		Configs:      configs,
		Gate:         gate,
		Clock:        clock,
		FetchTimeout: cfg.HTTP.Timeout,
		StorePolicy:  retry.StoreFallbackPolicy(l),
	}

	inflight := scheduler.NewInflight(scheduler.Limits{Global: cfg.Sched.MaxConcurrent, PerUser: cfg.Sched.MaxPerUser})
	dispatcher := scheduler.NewDispatcher(l, exec, inflight, cfg.Sched.JobTimeout)
	uc := scheduler.NewUC(l, configs, dispatcher)
	runner := scheduler.New(l, uc, &cfg.Sched, clock)

	dispatch := outbox.MakeGlobalOutboxHandler(events, retry.DefaultKafkaPolicy(l))
	outboxRunner := outbox.NewOutboxRunner(l, outboxRepo, dispatch, cfg.Outbox)

	api := &status.Server{
		Log:           l.With(zap.String("component", "status.api")),
		Configs:       configs,
		Runs:          runs,
		Prices:        prices,
		Notifications: notifs,
		Ticker:        runner,
		Clock:         clock,
		Keys:          status.Keys{Public: cfg.API.PublicKeys, Admin: cfg.API.AdminKeys},
	}
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           obs.HTTPHandler(api.Router(), "status-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &app{runner: runner, outbox: outboxRunner, api: srv}, nil
}

func main() {
	cfgPath := flag.String("config", "config/scheduler.yaml", "path to config file")
	flag.Parse()

	// init
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	zap.ReplaceGlobals(l)
	l.Info("starting scheduler",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("kafka_topic", cfg.Kafka.Topic),
		zap.String("metrics_addr", cfg.Sched.MetricsAddr),
		zap.String("api_addr", cfg.API.Addr),
		zap.Int("max_concurrent", cfg.Sched.MaxConcurrent),
		zap.Int("max_per_user", cfg.Sched.MaxPerUser),
	)

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.OTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// kafka
	prod := kafka.BootstrapProducer(root, cfg.Kafka, l).WithLogger(l)
	defer func() { _ = prod.Close() }()
	events := kafka.NewPriceEventsKafka(prod)

	// wiring
	a, err := wire(cfg, db, events, l)
	if err != nil {
		l.Fatal("wiring", zap.Error(err))
	}
	a.runner.UC.Dispatcher.Start(root)

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Sched.MetricsAddr, l,
		obs.HealthCheck{Name: "db", Check: db.Ping},
		obs.HealthCheck{Name: "scheduler", Check: a.runner.CheckAlive},
	)

	// run
	g, gctx := errgroup.WithContext(root)
	g.Go(func() error { return a.runner.Run(gctx) })
	g.Go(func() error { return a.outbox.Run(gctx) })
	g.Go(func() error {
		l.Info("status api listening", zap.String("addr", a.api.Addr))
		if err := a.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.api.Shutdown(shCtx)
	})

	l.Info("scheduler started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("scheduler stopped with error", zap.Error(err))
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
