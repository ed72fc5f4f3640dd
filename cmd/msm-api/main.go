package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msm-monitoring/internal/access"
	alarmapp "msm-monitoring/internal/alarms/application"
	alarmrepo "msm-monitoring/internal/alarms/infrastructure/postgres"
	alarmhttp "msm-monitoring/internal/alarms/interfaces/http"
	"msm-monitoring/internal/audit"
	"msm-monitoring/internal/auth"
	"msm-monitoring/internal/config"
	"msm-monitoring/internal/ingest"
	"msm-monitoring/internal/livefeed"
	masterdatarepo "msm-monitoring/internal/masterdata/infrastructure/postgres"
	"msm-monitoring/internal/observability/logging"
	"msm-monitoring/internal/observability/metrics"
)

var defaultAdminTitles = []string{"Директор", "Главный аналитик"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.ServiceName,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logger = logger.With(zap.String("process", "api"))
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	metrics.Init(db, logger)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	roles := access.DefaultRoleTable()
	if cfg.Auth.RoleScopesFile != "" {
		roles, err = access.LoadRoleTable(cfg.Auth.RoleScopesFile)
		if err != nil {
			return err
		}
	}
	hierarchy := masterdatarepo.NewHierarchyRepository(db)
	resolver, err := access.NewResolver(hierarchy, roles, access.WithLogger(logger))
	if err != nil {
		return err
	}

	adminTitles := cfg.Auth.AdminJobTitles
	if len(adminTitles) == 0 {
		adminTitles = defaultAdminTitles
	}
	ruleService, err := alarmapp.NewRuleService(alarmrepo.NewRuleRepository(db), hierarchy, resolver,
		alarmapp.WithAuditLogger(audit.NewRepository(db)),
		alarmapp.WithAdminTitles(auth.NewAdminTitles(adminTitles...)),
		alarmapp.WithRuleLogger(logger),
	)
	if err != nil {
		return err
	}
	alertService, err := alarmapp.NewAlertService(alarmrepo.NewAlertRepository(db))
	if err != nil {
		return err
	}
	alarmHandler, err := alarmhttp.NewHandler(ruleService, alertService)
	if err != nil {
		return err
	}
	broker := alarmhttp.NewSSEBroker()
	alarmHandler.MountStream(alarmhttp.NewStreamHandler(broker))

	policy := auth.DefaultPolicy()
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), auth.NewActorRepository(db), policy, logger)

	registry := livefeed.NewRegistry()
	liveHandler, err := livefeed.NewHandler(registry, authMiddleware, resolver,
		livefeed.WithLogger(logger),
		livefeed.WithTimeouts(cfg.WebSocket.WriteTimeout, cfg.WebSocket.PongWait),
	)
	if err != nil {
		return err
	}

	publisher, err := ingest.NewStreamPublisher(rdb, cfg.Ingest.Stream, cfg.Ingest.MaxLen)
	if err != nil {
		return err
	}
	gateway, err := ingest.NewGatewayHandler(publisher, logger)
	if err != nil {
		return err
	}
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestMaxSkew)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(logger))
	r.Use(audit.Middleware)
	r.Use(authMiddleware.Wrap)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodPost, "/ingest/readings", ingestAuth.Wrap(gateway))
	r.Route("/api/v1", alarmHandler.Routes)
	liveHandler.Routes(r)

	liveSubscriber, err := livefeed.NewSubscriber(rdb, cfg.LiveData.Channel, livefeed.NewRegistrySink(registry), logger)
	if err != nil {
		return err
	}
	alertSubscriber, err := livefeed.NewSubscriber(rdb, cfg.LiveData.AlertChannel, livefeed.NewAlertSink(broker), logger)
	if err != nil {
		return err
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return liveSubscriber.Run(gctx) })
	g.Go(func() error { return alertSubscriber.Run(gctx) })
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
