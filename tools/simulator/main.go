package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"msm-monitoring/internal/ingest"
	"msm-monitoring/internal/observability/logging"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

type config struct {
	dsn         string
	redisAddr   string
	stream      string
	params      string
	minInterval time.Duration
	maxInterval time.Duration
	seed        int64
}

type parameter struct {
	id       int64
	typeName string
}

func main() {
	cfg := parseConfig()
	if cfg.minInterval <= 0 || cfg.maxInterval < cfg.minInterval {
		log.Fatal("interval-min must be > 0 and <= interval-max")
	}
	logger, err := logging.New(logging.Config{Level: "info", Format: "console", ServiceName: "msm-simulator"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params, err := loadParameters(ctx, cfg)
	if err != nil {
		logger.Fatal("load parameters", zap.Error(err))
	}
	if len(params) == 0 {
		logger.Fatal("no parameters to simulate")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	defer rdb.Close()
	publisher, err := ingest.NewStreamPublisher(rdb, cfg.stream, 0)
	if err != nil {
		logger.Fatal("stream publisher", zap.Error(err))
	}

	logger.Info("simulating", zap.Int("parameters", len(params)), zap.String("stream", cfg.stream))
	var wg sync.WaitGroup
	for i, p := range params {
		wg.Add(1)
		walk := newRandomWalk(p.typeName, rand.New(rand.NewSource(cfg.seed+int64(i))))
		go func(p parameter, walk *randomWalk) {
			defer wg.Done()
			simulate(ctx, publisher, p, walk, cfg, logger)
		}(p, walk)
	}
	wg.Wait()
	logger.Info("simulation stopped")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "dsn", getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")), "postgres dsn used to list parameters when -params is empty")
	flag.StringVar(&cfg.redisAddr, "redis", getenvDefault("REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&cfg.stream, "stream", getenvDefault("INGEST_STREAM", "msm:readings"), "inbound stream")
	flag.StringVar(&cfg.params, "params", "", "comma separated parameter ids")
	flag.DurationVar(&cfg.minInterval, "interval-min", time.Second, "minimum pause between readings")
	flag.DurationVar(&cfg.maxInterval, "interval-max", 2*time.Second, "maximum pause between readings")
	flag.Int64Var(&cfg.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Parse()
	return cfg
}

func loadParameters(ctx context.Context, cfg config) ([]parameter, error) {
	if strings.TrimSpace(cfg.params) != "" {
		return parseParameterIDs(cfg.params)
	}
	if cfg.dsn == "" {
		return nil, fmt.Errorf("either -params or a dsn is required")
	}
	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, `
SELECT p.parameter_id, pt.parameter_type_name
FROM parameters p
JOIN parameter_types pt ON pt.parameter_type_id = p.parameter_type_id
ORDER BY p.parameter_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []parameter
	for rows.Next() {
		var p parameter
		if err := rows.Scan(&p.id, &p.typeName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func parseParameterIDs(raw string) ([]parameter, error) {
	var out []parameter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid parameter id %q", part)
		}
		out = append(out, parameter{id: id})
	}
	return out, nil
}

func simulate(ctx context.Context, publisher *ingest.StreamPublisher, p parameter, walk *randomWalk, cfg config, logger *zap.Logger) {
	for {
		reading := telemetry.Reading{ParameterID: p.id, Value: walk.Next(), Timestamp: time.Now().UTC()}
		payload, err := ingest.Encode(reading)
		if err != nil {
			logger.Error("encode reading", zap.Int64("parameter_id", p.id), zap.Error(err))
			return
		}
		pause := walk.Pause(cfg.minInterval, cfg.maxInterval)
		if _, err := publisher.Publish(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("publish reading", zap.Int64("parameter_id", p.id), zap.Error(err))
			pause = 5 * time.Second
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
