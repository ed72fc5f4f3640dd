package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	telemetry "msm-monitoring/internal/telemetry/domain"
)

// ErrInvalidMessage marks a payload that can never be processed.
var ErrInvalidMessage = errors.New("ingest: invalid message")

// Message is the inbound reading wire shape.
type Message struct {
	ParameterID json.Number `json:"parameter_id"`
	Value       json.Number `json:"parameter_value"`
	Timestamp   string      `json:"data_timestamp"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Decode parses and validates a raw inbound payload into a reading.
func Decode(raw []byte) (telemetry.Reading, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return telemetry.Reading{}, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var msg Message
	if err := decoder.Decode(&msg); err != nil {
		return telemetry.Reading{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return telemetry.Reading{}, fmt.Errorf("%w: trailing data after reading", ErrInvalidMessage)
	}

	parameterID, err := msg.ParameterID.Int64()
	if err != nil || parameterID <= 0 {
		return telemetry.Reading{}, fmt.Errorf("%w: parameter_id must be a positive integer", ErrInvalidMessage)
	}
	value, err := msg.Value.Float64()
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return telemetry.Reading{}, fmt.Errorf("%w: parameter_value must be a finite number", ErrInvalidMessage)
	}
	ts, err := parseTimestamp(msg.Timestamp)
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	return telemetry.Reading{ParameterID: parameterID, Value: value, Timestamp: ts}, nil
}

// Encode renders a reading in the inbound wire shape.
func Encode(reading telemetry.Reading) ([]byte, error) {
	return json.Marshal(map[string]any{
		"parameter_id":    reading.ParameterID,
		"parameter_value": reading.Value,
		"data_timestamp":  reading.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("data_timestamp is required")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("data_timestamp %q is not ISO-8601", raw)
}
