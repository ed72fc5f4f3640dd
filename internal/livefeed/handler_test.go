package livefeed

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msm-monitoring/internal/access"
	"msm-monitoring/internal/auth"
)

type tokenAuth map[string]auth.Actor

func (t tokenAuth) Authenticate(_ context.Context, token string) (auth.Actor, error) {
	actor, ok := t[token]
	if !ok {
		return auth.Actor{}, auth.ErrInvalidToken
	}
	return actor, nil
}

// lineAccess allows parameters listed per actor.
type lineAccess struct {
	allowed map[int64][]int64
	err     error
}

func (l lineAccess) Resolve(_ context.Context, actor auth.Actor) (access.Scope, error) {
	return access.Lines(actor.ID), nil
}

func (l lineAccess) CanAccessParameter(_ context.Context, scope access.Scope, parameterID int64) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	for _, id := range l.allowed[scope.LineIDs[0]] {
		if id == parameterID {
			return true, nil
		}
	}
	return false, nil
}

func newLiveServer(t *testing.T, registry *Registry, checks ParameterAccess) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(registry, tokenAuth{"good": {ID: 3}, "other": {ID: 4}}, checks, WithTimeouts(time.Second, time.Second))
	require.NoError(t, err)
	r := chi.NewRouter()
	handler.Routes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
}

func TestLiveHandlerSubscribesAndPushes(t *testing.T) {
	registry := NewRegistry()
	server := newLiveServer(t, registry, lineAccess{allowed: map[int64][]int64{3: {7}}})

	conn := dial(t, server, "/ws/live_data/7?token=good")
	require.Eventually(t, func() bool { return registry.Subscribers(7) == 1 }, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, registry.Publish(7, []byte(`{"parameter_id":7,"parameter_value":85.3}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"parameter_id":7,"parameter_value":85.3}`, string(payload))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PING")))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return !registry.Has(7) }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveHandlerHandshakeFailures(t *testing.T) {
	registry := NewRegistry()
	server := newLiveServer(t, registry, lineAccess{allowed: map[int64][]int64{3: {7}}})

	expectClose(t, dial(t, server, "/ws/live_data/7?token=bad"), websocket.ClosePolicyViolation)
	expectClose(t, dial(t, server, "/ws/live_data/7"), websocket.ClosePolicyViolation)
	expectClose(t, dial(t, server, "/ws/live_data/abc?token=good"), websocket.CloseInvalidFramePayloadData)
	expectClose(t, dial(t, server, "/ws/live_data/7?token=other"), websocket.ClosePolicyViolation)
	assert.False(t, registry.Has(7))
}

func TestLiveHandlerAccessErrorFailsClosed(t *testing.T) {
	registry := NewRegistry()
	server := newLiveServer(t, registry, lineAccess{err: errors.New("db down")})

	expectClose(t, dial(t, server, "/ws/live_data/7?token=good"), websocket.ClosePolicyViolation)

	_, err := NewHandler(nil, tokenAuth{}, lineAccess{})
	assert.Error(t, err)
}
