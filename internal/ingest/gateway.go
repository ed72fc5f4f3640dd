package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const maxGatewayBody = 1 << 20

// StreamPublisher appends readings to the inbound stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher constructs a publisher. maxLen > 0 caps the stream approximately.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) (*StreamPublisher, error) {
	if client == nil {
		return nil, errors.New("stream publisher: nil redis client")
	}
	if strings.TrimSpace(stream) == "" {
		return nil, errors.New("stream publisher: empty stream")
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish appends one JSON payload and returns the entry id.
func (p *StreamPublisher) Publish(ctx context.Context, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{PayloadField: string(payload)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Result()
}

// Appender appends payloads to the inbound broker.
type Appender interface {
	Publish(ctx context.Context, payload []byte) (string, error)
}

// GatewayHandler accepts signed reading uploads from field gateways.
type GatewayHandler struct {
	appender Appender
	logger   *zap.Logger
}

// NewGatewayHandler constructs a gateway handler.
func NewGatewayHandler(appender Appender, logger *zap.Logger) (*GatewayHandler, error) {
	if appender == nil {
		return nil, errors.New("ingest gateway: nil appender")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayHandler{appender: appender, logger: logger}, nil
}

type gatewayResponse struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
}

// ServeHTTP handles POST /ingest/readings with a single reading or an array of readings.
func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxGatewayBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	items, err := splitBatch(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payloads := make([][]byte, 0, len(items))
	for _, item := range items {
		reading, err := Decode(item)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err := Encode(reading)
		if err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
			return
		}
		payloads = append(payloads, payload)
	}

	resp := gatewayResponse{IDs: make([]string, 0, len(payloads))}
	for _, payload := range payloads {
		id, err := h.appender.Publish(r.Context(), payload)
		if err != nil {
			h.logger.Error("ingest gateway append failed", zap.Int("accepted", resp.Accepted), zap.Error(err))
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		resp.Accepted++
		resp.IDs = append(resp.IDs, id)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func splitBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, errors.New("invalid json array")
	}
	if len(items) == 0 {
		return nil, errors.New("empty batch")
	}
	return items, nil
}
