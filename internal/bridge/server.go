// Package bridge serves the turn engine over websockets. Every connected
// client receives the engine's update messages and turn results, and may
// send user turns, recognizer segments, interruptions and playback markers.
package bridge

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chriscow/turnkit/pkg/dialogue"
	"github.com/chriscow/turnkit/pkg/iu"
	"github.com/chriscow/turnkit/pkg/wire"
)

// Engine is the orchestrator surface the bridge drives.
type Engine interface {
	wire.Engine
	GetState() dialogue.State
	HasPendingAlignment() bool
}

// Observer receives transport-level counts. *metrics.Collector implements it.
type Observer interface {
	SessionOpened()
	SessionClosed()
	RejectEvent(cause string)
	Handler() http.Handler
}

// Config configures a Server.
type Config struct {
	Engine Engine
	// Segmenter assembles recognizer segments; asr events are refused
	// without one.
	Segmenter wire.Segmenter
	Observer  Observer

	EventsPerSecond float64
	EventBurst      int
	Logger          *slog.Logger
}

// Server is the websocket bridge.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	echo     *echo.Echo
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*session]struct{}
	ctx      context.Context
}

// Status is the body of GET /state.
type Status struct {
	State            string `json:"state"`
	PendingAlignment bool   `json:"pending_alignment"`
	Sessions         int    `json:"sessions"`
}

// New creates a bridge.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("Engine is required")
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 20
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 40
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "bridge")),
		sessions: make(map[*session]struct{}),
		ctx:      context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.echo = s.routes()
	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("HTTP request",
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/state", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.Status())
	})
	e.GET("/ws", s.handleWebsocket)
	e.GET("/debug/vars", echo.WrapHandler(expvar.Handler()))
	if s.cfg.Observer != nil {
		e.GET("/metrics", echo.WrapHandler(s.cfg.Observer.Handler()))
	}
	return e
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Status reports the engine state and the connected session count.
func (s *Server) Status() Status {
	return Status{
		State:            s.cfg.Engine.GetState().String(),
		PendingAlignment: s.cfg.Engine.HasPendingAlignment(),
		Sessions:         s.Sessions(),
	}
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Bridge listening", slog.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeSessions()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Pump broadcasts engine output to every session until ctx is done or
// both channels are closed.
func (s *Server) Pump(ctx context.Context, updates <-chan iu.UpdateMessage, results <-chan dialogue.TurnResult) error {
	for updates != nil || results != nil {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			frame, err := wire.EncodeUpdate(msg)
			if err != nil {
				return fmt.Errorf("encode update: %w", err)
			}
			s.Broadcast(frame)
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			frame, err := wire.EncodeTurn(res)
			if err != nil {
				return fmt.Errorf("encode turn: %w", err)
			}
			s.Broadcast(frame)
			if state, err := wire.EncodeState(s.cfg.Engine.GetState()); err == nil {
				s.Broadcast(state)
			}
		}
	}
	return nil
}

// Broadcast queues frame on every session. Sessions whose buffer is full
// are disconnected.
func (s *Server) Broadcast(frame []byte) {
	s.mu.RLock()
	var slow []*session
	for c := range s.sessions {
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		c.logger.Warn("Dropping slow websocket client")
		c.close()
	}
}

func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}

	sess := newSession(s, conn)
	s.register(sess)
	defer s.unregister(sess)

	if frame, err := wire.EncodeState(s.cfg.Engine.GetState()); err == nil {
		sess.enqueue(frame)
	}

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	sess.run(ctx)
	return nil
}

func (s *Server) register(c *session) {
	s.mu.Lock()
	s.sessions[c] = struct{}{}
	s.mu.Unlock()
	if s.cfg.Observer != nil {
		s.cfg.Observer.SessionOpened()
	}
	c.logger.Info("Websocket session opened")
}

func (s *Server) unregister(c *session) {
	s.mu.Lock()
	delete(s.sessions, c)
	s.mu.Unlock()
	if s.cfg.Observer != nil {
		s.cfg.Observer.SessionClosed()
	}
	c.logger.Info("Websocket session closed")
}

func (s *Server) closeSessions() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.sessions {
		c.close()
	}
}

// reject reports a refused inbound event to its sender.
func (s *Server) reject(c *session, cause string, err error) {
	c.logger.Debug("Rejected event", slog.String("cause", cause), slog.String("error", err.Error()))
	if s.cfg.Observer != nil {
		s.cfg.Observer.RejectEvent(cause)
	}
	if frame, encErr := wire.EncodeError(err); encErr == nil {
		c.enqueue(frame)
	}
}
