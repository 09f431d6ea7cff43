package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/chriscow/turnkit/pkg/wire"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxFrameSize = 64 << 10
	sendBuffer   = 64
)

// session is one websocket client. Outbound frames are queued on send and
// written by writeLoop; a client that stops reading is dropped.
type session struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	limiter *rate.Limiter
	logger  *slog.Logger

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(s *Server, conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		id:      id,
		conn:    conn,
		server:  s,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.EventsPerSecond), s.cfg.EventBurst),
		logger:  s.logger.With(slog.String("session", id)),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It reports false when the
// session is closed or its buffer is full.
func (c *session) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *session) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// run serves the session until the client disconnects or ctx ends.
func (c *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.close()

	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

func (c *session) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.server.reject(c, "rate_limited", errRateLimited)
			continue
		}

		ev, err := wire.Decode(data)
		if err != nil {
			c.server.reject(c, "malformed", err)
			continue
		}
		c.logger.Debug("Received event", slog.String("type", ev.Type()))
		if err := wire.Dispatch(ctx, ev, c.server.cfg.Engine, c.server.cfg.Segmenter); err != nil {
			c.server.reject(c, "refused", err)
		}
	}
}

func (c *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var errRateLimited = errors.New("too many events, slow down")
