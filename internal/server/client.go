package server

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatrelay/internal/realtime"
)

// Client is one WebSocket connection. It implements realtime.Sink; Send and
// closeSend are only called from the hub goroutine.
type Client struct {
	id      realtime.ConnID
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	closed  bool
	cfg     ServerConfig
	limiter *rate.Limiter
	members *membershipLookup
	logger  *slog.Logger
}

// NewClient wraps an upgraded connection. members may be nil.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg ServerConfig, members *membershipLookup) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := realtime.ConnID(uuid.NewString())

	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		hub:     hub,
		addr:    addr,
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		members: members,
		logger: hub.logger.With(
			slog.String("component", "client"),
			slog.String("connID", string(id)),
			slog.String("remote", addr)),
	}
}

// Send queues a frame for the write pump. A full queue closes the connection,
// which later unregisters it.
func (c *Client) Send(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("Send buffer full, closing slow client", slog.Int("buffer", cap(c.send)))
		c.closeSend()
		return false
	}
}

func (c *Client) closeSend() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error closing connection", slog.Any("error", err))
	}
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		c.logger.Warn("Error setting initial read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", slog.Any("error", err))
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("Message exceeded maximum size", slog.Int64("limit", c.cfg.MaxMessageSize))
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("Client disconnected", slog.Any("reason", err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("Client connection closed", slog.Any("reason", err))
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("Unexpected WebSocket close", slog.Any("error", err))
		return true
	}

	c.logger.Warn("WebSocket read error", slog.Any("error", err))
	return true
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("Rate limit exceeded; discarding frame",
			slog.Int("burst", c.cfg.RateLimit.Burst),
			slog.Duration("interval", c.cfg.RateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes a frame and hands it to the hub. It returns false
// once the hub is gone.
func (c *Client) processMessage(raw []byte) bool {
	ev, err := realtime.Parse(raw)
	if err != nil {
		c.logger.Warn("Dropping inbound frame", slog.Any("error", err))
		return true
	}

	if msg, ok := ev.(realtime.NewMessage); ok && c.members != nil {
		ev = c.members.apply(c.hub.ctx, msg)
	}

	return c.hub.deliver(c, ev)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(raw) {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		return c.handleFrame(frame, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// handleFrame writes a frame, or the close message once the queue is closed.
func (c *Client) handleFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.logger.Warn("Error setting write deadline", slog.Any("error", err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if !c.writeTextMessage(frame) {
		return false
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error writing close message", slog.Any("error", err))
	}
	return false
}

func (c *Client) writeTextMessage(frame []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing frame", slog.Any("error", err))
		}
		return false
	}
	return true
}

// writeQueuedMessages drains what queued up while the last write was in
// flight. Each event stays its own WebSocket message.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		frame, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(frame) {
			return false
		}
	}
	return true
}

// handlePing sends a ping to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("Error writing ping", slog.Any("error", err))
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
