package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	alarmapp "msm-monitoring/internal/alarms/application"
)

const (
	webhookEventAlertCreated = "alert.created"

	// HeaderWebhookEvent names the event carried by a webhook request.
	HeaderWebhookEvent = "X-MSM-Event"
	// HeaderWebhookAlertID lets receivers drop repeated deliveries of one alert.
	HeaderWebhookAlertID = "X-MSM-Alert-ID"

	maxErrorBody = 512
)

// Message is one alert ready for delivery: the event and its rendered text.
type Message struct {
	Event alarmapp.AlertEvent
	Text  string
}

// Channel delivers alert messages.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// AlertDocument is the JSON body posted for a created alert.
type AlertDocument struct {
	Event       string    `json:"event"`
	AlertID     int64     `json:"alert_id"`
	RuleID      int64     `json:"rule_id"`
	RuleName    string    `json:"rule_name,omitempty"`
	UserID      int64     `json:"user_id"`
	ReadingID   int64     `json:"parameter_data_id"`
	ParameterID int64     `json:"parameter_id"`
	Parameter   string    `json:"parameter_type_name,omitempty"`
	Unit        string    `json:"parameter_unit,omitempty"`
	Value       float64   `json:"parameter_value"`
	Operator    string    `json:"comparison_operator"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"alert_message"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"alert_timestamp"`
}

// NewAlertDocument maps an alert message onto the webhook body.
func NewAlertDocument(msg Message) AlertDocument {
	event := msg.Event
	return AlertDocument{
		Event:       webhookEventAlertCreated,
		AlertID:     event.Alert.ID,
		RuleID:      event.Rule.ID,
		RuleName:    event.Rule.Name,
		UserID:      event.OwnerID,
		ReadingID:   event.Alert.ReadingID,
		ParameterID: event.Rule.ParameterID,
		Parameter:   event.ParameterName,
		Unit:        event.Unit,
		Value:       event.Value,
		Operator:    string(event.Rule.Operator),
		Threshold:   event.Rule.Threshold,
		Message:     event.Alert.Message,
		Text:        msg.Text,
		CreatedAt:   event.Alert.CreatedAt.UTC(),
	}
}

// WebhookChannel posts alert documents to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the alert document. Any non-2xx answer is an error carrying the start of the body.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(NewAlertDocument(msg))
	if err != nil {
		return fmt.Errorf("webhook channel: encode alert %d: %w", msg.Event.Alert.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookEvent, webhookEventAlertCreated)
	req.Header.Set(HeaderWebhookAlertID, strconv.FormatInt(msg.Event.Alert.ID, 10))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook channel: alert %d: status %d: %s", msg.Event.Alert.ID, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
