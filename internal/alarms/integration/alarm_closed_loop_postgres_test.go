package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	alarmapp "msm-monitoring/internal/alarms/application"
	alarms "msm-monitoring/internal/alarms/domain"
	alarmrepo "msm-monitoring/internal/alarms/infrastructure/postgres"
	alarminterfaces "msm-monitoring/internal/alarms/interfaces"
	"msm-monitoring/internal/ingest"
	telemetry "msm-monitoring/internal/telemetry/domain"
	telemetrypostgres "msm-monitoring/internal/telemetry/infrastructure/postgres"
)

type seeded struct {
	shopID      int64
	userID      int64
	jobTitleID  int64
	parameterID int64
}

type capturedNotifier struct {
	mu     sync.Mutex
	events []alarmapp.AlertEvent
}

func (c *capturedNotifier) Notify(_ context.Context, event alarmapp.AlertEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *capturedNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestAlarmClosedLoop_Postgres(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	seed := seedHierarchy(ctx, t, db)
	defer cleanup(ctx, db, seed)

	rules := alarmrepo.NewRuleRepository(db)
	alertRepo := alarmrepo.NewAlertRepository(db)
	readings := telemetrypostgres.NewReadingRepository(db)

	rule := &alarms.MonitoringRule{
		UserID:      seed.userID,
		ParameterID: seed.parameterID,
		Name:        "overheat",
		Operator:    alarms.OperatorGreater,
		Threshold:   80,
		Active:      true,
	}
	if err := rules.Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	dup := *rule
	dup.ID = 0
	if err := rules.Create(ctx, &dup); !errors.Is(err, alarms.ErrDuplicateRule) {
		t.Fatalf("expected duplicate rule error, got %v", err)
	}
	own, err := rules.ListByUser(ctx, seed.userID, seed.parameterID)
	if err != nil || len(own) != 1 {
		t.Fatalf("expected one rule, got %d (%v)", len(own), err)
	}

	notifier := &capturedNotifier{}
	evaluator, err := alarmapp.NewEvaluator(readings, rules, alertRepo, alarmapp.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	consumer, err := alarminterfaces.NewReadingPersistedConsumer(evaluator)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	pool, err := ingest.NewEvaluationPool(consumer, ingest.WithWorkers(1))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	pool.Start(ctx)
	pipeline, err := ingest.NewPipeline(readings, ingest.WithScheduler(pool))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	payload, err := ingest.Encode(telemetry.Reading{ParameterID: seed.parameterID, Value: 85.3, Timestamp: time.Now().UTC()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	acked := false
	outcome, err := pipeline.Handle(ctx, ingest.Delivery{ID: "1-0", Payload: payload, Ack: func(context.Context) error {
		acked = true
		return nil
	}})
	if err != nil || outcome != ingest.Ack || !acked {
		t.Fatalf("handle: outcome=%s acked=%v err=%v", outcome, acked, err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Close(drainCtx); err != nil {
		t.Fatalf("drain pool: %v", err)
	}
	evaluator.Wait()

	alerts, err := alertRepo.ListByUser(ctx, alarms.AlertQuery{UserID: seed.userID, Limit: 10})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].RuleID != rule.ID {
		t.Fatalf("alert rule mismatch: %d != %d", alerts[0].RuleID, rule.ID)
	}
	if !strings.Contains(alerts[0].Message, "85.3") || !strings.Contains(alerts[0].Message, "80") {
		t.Fatalf("alert message missing values: %q", alerts[0].Message)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.count())
	}

	rule.Active = false
	rule.UpdatedAt = time.Now().UTC()
	if err := rules.Update(ctx, rule); err != nil {
		t.Fatalf("deactivate rule: %v", err)
	}
	if err := evaluator.Evaluate(ctx, alerts[0].ReadingID); err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	evaluator.Wait()
	alerts, err = alertRepo.ListByUser(ctx, alarms.AlertQuery{UserID: seed.userID, Limit: 10})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("inactive rule must not fire, alerts=%d", len(alerts))
	}

	updated, err := alertRepo.MarkAllRead(ctx, seed.userID)
	if err != nil || updated != 1 {
		t.Fatalf("mark all read: updated=%d err=%v", updated, err)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func applyMigrations(db *sql.DB) error {
	content, err := os.ReadFile(filepath.Join(projectRoot(), "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

func seedHierarchy(ctx context.Context, t *testing.T, db *sql.DB) seeded {
	t.Helper()
	suffix := uuid.NewString()[:8]
	insert := func(query string, args ...any) int64 {
		t.Helper()
		var id int64
		if err := db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			t.Fatalf("seed %q: %v", query, err)
		}
		return id
	}

	var s seeded
	s.shopID = insert(`INSERT INTO shops (shop_name) VALUES ($1) RETURNING shop_id`, "it-shop-"+suffix)
	lineID := insert(`INSERT INTO lines (shop_id, line_type) VALUES ($1, 'Первая') RETURNING line_id`, s.shopID)
	aggTypeID := insert(`INSERT INTO aggregate_types (aggregate_type_name) VALUES ($1) RETURNING aggregate_type_id`, "it-agg-"+suffix)
	aggID := insert(`INSERT INTO aggregates (line_id, aggregate_type_id) VALUES ($1, $2) RETURNING aggregate_id`, lineID, aggTypeID)
	actTypeID := insert(`INSERT INTO actuator_types (actuator_type_name) VALUES ($1) RETURNING actuator_type_id`, "it-act-"+suffix)
	actID := insert(`INSERT INTO actuators (aggregate_id, actuator_type_id) VALUES ($1, $2) RETURNING actuator_id`, aggID, actTypeID)
	paramTypeID := insert(`INSERT INTO parameter_types (parameter_type_name, parameter_unit) VALUES ($1, '°C') RETURNING parameter_type_id`, "it-temp-"+suffix)
	s.parameterID = insert(`INSERT INTO parameters (actuator_id, parameter_type_id) VALUES ($1, $2) RETURNING parameter_id`, actID, paramTypeID)
	s.jobTitleID = insert(`INSERT INTO job_titles (job_title_name) VALUES ($1) RETURNING job_title_id`, "it-title-"+suffix)
	phone := fmt.Sprintf("+7%010d", time.Now().UnixNano()%10_000_000_000)
	s.userID = insert(`INSERT INTO users (job_title_id, first_name, last_name, email, phone, password_hash)
VALUES ($1, 'Иван', 'Петров', $2, $3, 'x') RETURNING user_id`, s.jobTitleID, "it-"+suffix+"@plant.example", phone)
	return s
}

func cleanup(ctx context.Context, db *sql.DB, s seeded) {
	_, _ = db.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, s.userID)
	_, _ = db.ExecContext(ctx, `DELETE FROM job_titles WHERE job_title_id = $1`, s.jobTitleID)
	_, _ = db.ExecContext(ctx, `DELETE FROM shops WHERE shop_id = $1`, s.shopID)
	for _, table := range []string{"parameter_types", "actuator_types", "aggregate_types"} {
		column := strings.TrimSuffix(table, "s") + "_name"
		_, _ = db.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+` LIKE 'it-%'`)
	}
}
