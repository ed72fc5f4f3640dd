package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msm-monitoring/internal/auth"
	eventingpg "msm-monitoring/internal/eventing/infrastructure/postgres"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

const (
	testStream = "msm:readings"
	testGroup  = "msm-workers"
	testDLQ    = "msm:readings:dead"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type memoryDLQ struct {
	mu      sync.Mutex
	letters []eventingpg.DeadLetter
}

func (m *memoryDLQ) Record(_ context.Context, letter eventingpg.DeadLetter) error {
	m.mu.Lock()
	m.letters = append(m.letters, letter)
	m.mu.Unlock()
	return nil
}

// flakyInserter fails the first n inserts.
type flakyInserter struct {
	stubInserter
	failures int
}

func (f *flakyInserter) Insert(ctx context.Context, reading *telemetry.Reading) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return assert.AnError
	}
	f.mu.Unlock()
	return f.stubInserter.Insert(ctx, reading)
}

// brokenParameterInserter fails every insert for one parameter with a transient error.
type brokenParameterInserter struct {
	stubInserter
	parameterID int64
}

func (b *brokenParameterInserter) Insert(ctx context.Context, reading *telemetry.Reading) error {
	if reading.ParameterID == b.parameterID {
		return assert.AnError
	}
	return b.stubInserter.Insert(ctx, reading)
}

func newConsumer(t *testing.T, client *redis.Client, readings ReadingInserter, dlq DeadLetterRecorder) *StreamConsumer {
	t.Helper()
	return newConsumerWithConfig(t, client, readings, dlq, func(*StreamConfig) {})
}

func newConsumerWithConfig(t *testing.T, client *redis.Client, readings ReadingInserter, dlq DeadLetterRecorder, tweak func(*StreamConfig)) *StreamConsumer {
	t.Helper()
	pipeline, err := NewPipeline(readings)
	require.NoError(t, err)
	cfg := StreamConfig{
		Stream:           testStream,
		Group:            testGroup,
		Consumer:         "worker-1",
		DeadLetterStream: testDLQ,
		Batch:            10,
		Block:            10 * time.Millisecond,
		Parallelism:      2,
	}
	tweak(&cfg)
	consumer, err := NewStreamConsumer(client, pipeline, cfg, WithDeadLetterRecorder(dlq), WithRetryPause(0))
	require.NoError(t, err)
	require.NoError(t, consumer.EnsureGroup(context.Background()))
	return consumer
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), testStream, testGroup).Result()
	require.NoError(t, err)
	return pending.Count
}

func TestStreamConsumerAcksAndDeadLetters(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	readings := &stubInserter{}
	dlq := &memoryDLQ{}
	consumer := newConsumer(t, client, readings, dlq)

	publisher, err := NewStreamPublisher(client, testStream, 0)
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, []byte(`{"parameter_id":7,"parameter_value":85.3,"data_timestamp":"2026-01-26T08:00:00Z"}`))
	require.NoError(t, err)
	badID, err := publisher.Publish(ctx, []byte(`{"parameter_id":"x"}`))
	require.NoError(t, err)

	require.NoError(t, consumer.Poll(ctx))

	assert.Equal(t, 1, readings.Count())
	assert.Equal(t, int64(0), pendingCount(t, client), "accepted and rejected entries are both acknowledged")

	dead, err := client.XRange(ctx, testDLQ, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, badID, dead[0].Values["message_id"])
	assert.Equal(t, `{"parameter_id":"x"}`, dead[0].Values[PayloadField])

	require.Len(t, dlq.letters, 1)
	assert.Equal(t, badID, dlq.letters[0].MessageID)
	assert.Contains(t, dlq.letters[0].Reason, "invalid message")
}

func TestStreamConsumerReplaysPendingAfterPersistFailure(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	readings := &flakyInserter{failures: 1}
	consumer := newConsumer(t, client, readings, nil)

	publisher, err := NewStreamPublisher(client, testStream, 0)
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, []byte(`{"parameter_id":7,"parameter_value":1,"data_timestamp":"2026-01-26T08:00:00Z"}`))
	require.NoError(t, err)

	require.NoError(t, consumer.Poll(ctx))
	assert.Equal(t, 0, readings.Count())
	assert.Equal(t, int64(1), pendingCount(t, client), "failed persist stays pending")

	require.NoError(t, consumer.Poll(ctx))
	assert.Equal(t, 1, readings.Count())
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestStreamConsumerFailingEntryDoesNotStallNewReadings(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	readings := &brokenParameterInserter{parameterID: 999}
	dlq := &memoryDLQ{}
	consumer := newConsumerWithConfig(t, client, readings, dlq, func(cfg *StreamConfig) {
		cfg.MaxDeliveries = 3
	})

	publisher, err := NewStreamPublisher(client, testStream, 0)
	require.NoError(t, err)
	stuckID, err := publisher.Publish(ctx, []byte(`{"parameter_id":999,"parameter_value":1,"data_timestamp":"2026-01-26T08:00:00Z"}`))
	require.NoError(t, err)

	require.NoError(t, consumer.Poll(ctx))
	assert.Equal(t, int64(1), pendingCount(t, client))

	for i := 0; i < 5; i++ {
		_, err := publisher.Publish(ctx, []byte(`{"parameter_id":7,"parameter_value":`+strconv.Itoa(i)+`,"data_timestamp":"2026-01-26T08:00:00Z"}`))
		require.NoError(t, err)
	}
	require.NoError(t, consumer.Poll(ctx), "replay of the failing entry")
	require.NoError(t, consumer.Poll(ctx), "new entries are read after a failed replay")
	assert.Equal(t, 5, readings.Count())

	for i := 0; i < 10 && pendingCount(t, client) > 0; i++ {
		require.NoError(t, consumer.Poll(ctx))
	}
	assert.Equal(t, int64(0), pendingCount(t, client), "entry is dead-lettered once deliveries run out")
	assert.Equal(t, 5, readings.Count())

	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, stuckID, dlq.letters[0].MessageID)
	assert.Contains(t, dlq.letters[0].Reason, ErrDeliveriesExhausted.Error())
}

func TestStreamConsumerDeadLettersReadingsTheStoreRefuses(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	readings := &stubInserter{err: fmt.Errorf("%w: unknown parameter 999", telemetry.ErrReadingRejected)}
	dlq := &memoryDLQ{}
	consumer := newConsumer(t, client, readings, dlq)

	publisher, err := NewStreamPublisher(client, testStream, 0)
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, []byte(`{"parameter_id":999,"parameter_value":1,"data_timestamp":"2026-01-26T08:00:00Z"}`))
	require.NoError(t, err)

	require.NoError(t, consumer.Poll(ctx))
	assert.Equal(t, int64(0), pendingCount(t, client), "refused readings are not redelivered")
	require.Len(t, dlq.letters, 1)
	assert.Contains(t, dlq.letters[0].Reason, "unknown parameter 999")
}

func TestStreamConsumerEmptyReadAndGroupReuse(t *testing.T) {
	_, client := setupRedis(t)
	consumer := newConsumer(t, client, &stubInserter{}, nil)

	require.NoError(t, consumer.EnsureGroup(context.Background()), "existing group is not an error")
	require.NoError(t, consumer.Poll(context.Background()))

	_, err := NewStreamConsumer(nil, nil, StreamConfig{})
	assert.Error(t, err)
	_, err = NewStreamConsumer(client, consumer.handler, StreamConfig{Stream: testStream})
	assert.Error(t, err)
}

func TestStreamConsumerRunStopsOnCancel(t *testing.T) {
	_, client := setupRedis(t)
	consumer := newConsumer(t, client, &stubInserter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestGatewayAppendsSignedReadings(t *testing.T) {
	_, client := setupRedis(t)
	publisher, err := NewStreamPublisher(client, testStream, 0)
	require.NoError(t, err)
	handler, err := NewGatewayHandler(publisher, nil)
	require.NoError(t, err)

	secret := []byte("gateway-secret")
	server := httptest.NewServer(auth.NewIngestAuthMiddleware(secret, time.Minute).Wrap(handler))
	defer server.Close()

	post := func(body string, sign bool) *http.Response {
		req, err := http.NewRequest(http.MethodPost, server.URL, bytes.NewBufferString(body))
		require.NoError(t, err)
		if sign {
			ts := strconv.FormatInt(time.Now().Unix(), 10)
			req.Header.Set(auth.HeaderIngestTimestamp, ts)
			req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest(secret, ts, []byte(body)))
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	batch := `[{"parameter_id":7,"parameter_value":85.3,"data_timestamp":"2026-01-26T08:00:00Z"},{"parameter_id":8,"parameter_value":2,"data_timestamp":"2026-01-26T08:00:01Z"}]`
	assert.Equal(t, http.StatusAccepted, post(batch, true).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post(batch, false).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(`{"parameter_id":7}`, true).StatusCode)

	length, err := client.XLen(context.Background(), testStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), length, "only the signed valid batch reaches the stream")

	entries, err := client.XRange(context.Background(), testStream, "-", "+").Result()
	require.NoError(t, err)
	reading, err := Decode([]byte(entries[0].Values[PayloadField].(string)))
	require.NoError(t, err)
	assert.Equal(t, int64(7), reading.ParameterID)
}
