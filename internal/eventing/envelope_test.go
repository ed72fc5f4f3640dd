package eventing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	AlertID int64 `json:"alert_id"`
}

func TestBuildEnvelopeDefaults(t *testing.T) {
	env, err := BuildEnvelope(EventAlertCreated, samplePayload{AlertID: 7}, Meta{})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(env.EventID)
	assert.NoError(t, parseErr)
	assert.Equal(t, env.EventID, env.CorrelationID)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.False(t, env.OccurredAt.IsZero())

	var decoded samplePayload
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, int64(7), decoded.AlertID)
}

func TestBuildEnvelopeUsesMeta(t *testing.T) {
	at := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	ctx := WithCorrelationID(context.Background(), "1700000000000-0")
	meta := MetaFromContext(ctx)
	meta.OccurredAt = at

	env, err := BuildEnvelope(EventAlertCreated, samplePayload{AlertID: 1}, meta)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", env.CorrelationID)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.True(t, env.OccurredAt.Equal(at))
}

func TestBuildEnvelopeRejectsEmpty(t *testing.T) {
	_, err := BuildEnvelope("", samplePayload{}, Meta{})
	assert.Error(t, err)
	_, err = BuildEnvelope(EventAlertCreated, nil, Meta{})
	assert.Error(t, err)
}
