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

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmapp "msm-monitoring/internal/alarms/application"
	alarmrepo "msm-monitoring/internal/alarms/infrastructure/postgres"
	alarminterfaces "msm-monitoring/internal/alarms/interfaces"
	alarmnotify "msm-monitoring/internal/alarms/notify"
	"msm-monitoring/internal/config"
	eventingrepo "msm-monitoring/internal/eventing/infrastructure/postgres"
	"msm-monitoring/internal/ingest"
	"msm-monitoring/internal/livefeed"
	"msm-monitoring/internal/observability/logging"
	"msm-monitoring/internal/observability/metrics"
	telemetrypostgres "msm-monitoring/internal/telemetry/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
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
	logger = logger.With(zap.String("process", "worker"))
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
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
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return err
	}

	readingRepo := telemetrypostgres.NewReadingRepository(db)
	ruleRepo := alarmrepo.NewRuleRepository(db)
	alertRepo := alarmrepo.NewAlertRepository(db)
	dlq := eventingrepo.NewDLQStore(db)

	notifier, closeNotifiers, err := buildNotifier(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	evaluator, err := alarmapp.NewEvaluator(readingRepo, ruleRepo, alertRepo,
		alarmapp.WithNotifier(notifier),
		alarmapp.WithLogger(logger),
		alarmapp.WithNotifyTimeout(cfg.Webhook.Timeout),
	)
	if err != nil {
		return err
	}
	consumer, err := alarminterfaces.NewReadingPersistedConsumer(evaluator)
	if err != nil {
		return err
	}
	pool, err := ingest.NewEvaluationPool(consumer,
		ingest.WithWorkers(cfg.Evaluation.Workers),
		ingest.WithQueueSize(cfg.Evaluation.QueueSize),
		ingest.WithJobTimeout(cfg.Evaluation.JobTimeout),
		ingest.WithPoolLogger(logger),
	)
	if err != nil {
		return err
	}
	pool.Start(ctx)

	live, err := livefeed.NewRedisPublisher(rdb, cfg.LiveData.Channel)
	if err != nil {
		return err
	}
	pipeline, err := ingest.NewPipeline(readingRepo,
		ingest.WithLivePublisher(live),
		ingest.WithScheduler(pool),
		ingest.WithPipelineLogger(logger),
	)
	if err != nil {
		return err
	}
	streamConsumer, err := ingest.NewStreamConsumer(rdb, pipeline, ingest.StreamConfig{
		Stream:           cfg.Ingest.Stream,
		Group:            cfg.Ingest.Group,
		Consumer:         cfg.Ingest.Consumer,
		DeadLetterStream: cfg.Ingest.DeadLetterStream,
		Batch:            cfg.Ingest.Batch,
		Block:            cfg.Ingest.Block,
		Parallelism:      cfg.Ingest.Parallelism,
		MaxDeliveries:    cfg.Ingest.MaxDeliveries,
	}, ingest.WithDeadLetterRecorder(dlq), ingest.WithStreamLogger(logger))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return streamConsumer.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: opsHandler(db), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("worker ops server listening", zap.String("addr", cfg.MetricsAddr))
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
	}
	runErr := g.Wait()

	logger.Info("worker draining", zap.Int("pending_evaluations", pool.Pending()))
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Close(drainCtx); err != nil {
		logger.Warn("evaluation drain incomplete", zap.Error(err))
	}
	evaluator.Wait()
	logger.Info("worker stopped cleanly")
	return runErr
}

// buildNotifier fans alerts out to the log, the API relay and the optional Kafka and webhook channels.
func buildNotifier(cfg config.Config, rdb *redis.Client, logger *zap.Logger) (alarmapp.AlertNotifier, func(), error) {
	notifiers := []alarmapp.AlertNotifier{alarmnotify.NewLogNotifier(logger)}
	closers := []func(){}
	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}

	relay, err := livefeed.NewAlertPublisher(rdb, cfg.LiveData.AlertChannel, logger)
	if err != nil {
		return nil, closeAll, err
	}
	notifiers = append(notifiers, relay)

	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := alarmnotify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		if err != nil {
			return nil, closeAll, err
		}
		kafkaNotifier, err := alarmnotify.NewKafkaNotifier(writer, logger)
		if err != nil {
			return nil, closeAll, err
		}
		notifiers = append(notifiers, kafkaNotifier)
		closers = append(closers, func() {
			if err := kafkaNotifier.Close(); err != nil {
				logger.Warn("kafka writer close failed", zap.Error(err))
			}
		})
	}

	if cfg.Webhook.URL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.Webhook.URL,
			alarmnotify.WithHTTPClient(&http.Client{Timeout: cfg.Webhook.Timeout}))
		if err != nil {
			return nil, closeAll, err
		}
		tpl, err := alarmnotify.NewTemplate(cfg.Webhook.Template)
		if err != nil {
			return nil, closeAll, err
		}
		webhook, err := alarmnotify.NewNotifier(channel, tpl,
			alarmnotify.WithName("webhook"),
			alarmnotify.WithCooldown(cfg.Webhook.Cooldown),
			alarmnotify.WithDedupeWindow(cfg.Webhook.DedupeWindow),
			alarmnotify.WithLogger(logger),
		)
		if err != nil {
			return nil, closeAll, err
		}
		notifiers = append(notifiers, webhook)
	}

	return alarmnotify.NewMultiNotifier(notifiers...), closeAll, nil
}

func opsHandler(db *sql.DB) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
