package livefeed

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
	maxMessageSize   = 512
	sendBuffer       = 64
)

// ErrConnectionClosed is returned by Send after the connection is closed.
var ErrConnectionClosed = errors.New("livefeed: connection closed")

// ErrSlowConsumer is returned by Send when the outbound buffer is full.
var ErrSlowConsumer = errors.New("livefeed: outbound buffer full")

// wsConnection pumps a websocket. Writes happen only on the write pump goroutine.
type wsConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
	pongWait  time.Duration
	logger    *zap.Logger
}

func newWSConnection(conn *websocket.Conn, writeWait, pongWait time.Duration, logger *zap.Logger) *wsConnection {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return &wsConnection{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		writeWait: writeWait,
		pongWait:  pongWait,
		logger:    logger,
	}
}

// Send queues payload without blocking.
func (c *wsConnection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump answers "ping" with "pong" and returns when the peer goes away.
func (c *wsConnection) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		if kind == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(message)), "ping") {
			if err := c.Send([]byte("pong")); err != nil {
				return
			}
		}
	}
}

// writePump drains the send buffer and keeps the peer alive with pings.
func (c *wsConnection) writePump() {
	ticker := time.NewTicker((c.pongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
