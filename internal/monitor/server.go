package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/rickgao/price-replay/internal/config"
	"github.com/rickgao/price-replay/internal/model"
	"github.com/rickgao/price-replay/internal/scheduler"
	"github.com/rickgao/price-replay/internal/version"
)

// StatsSource provides the live run summary. *scheduler.Scheduler implements it.
type StatsSource interface {
	Stats() scheduler.Summary
}

// EventMessage is the websocket payload for one terminal emission event.
type EventMessage struct {
	Type      string       `json:"type"`
	Seq       int64        `json:"seq"`
	Pass      int          `json:"pass"`
	Row       int64        `json:"row"`
	Timestamp time.Time    `json:"timestamp"`
	EmitAt    time.Time    `json:"emit_at"`
	SentAt    time.Time    `json:"sent_at"`
	Price     string       `json:"price"`
	Status    string       `json:"status"`
	Attempts  int          `json:"attempts"`
	Error     string       `json:"error,omitempty"`
	Derived   model.Fields `json:"derived,omitempty"`
}

func newEventMessage(ev *model.EmissionEvent) EventMessage {
	msg := EventMessage{
		Type:      "emission",
		Seq:       ev.Seq,
		Pass:      ev.Pass,
		Row:       ev.Record.Offset,
		Timestamp: ev.Record.Timestamp,
		EmitAt:    ev.EmitAt,
		SentAt:    ev.SentAt,
		Price:     ev.Record.Price.String(),
		Status:    string(ev.Status),
		Attempts:  ev.Attempts,
		Derived:   ev.Derived,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// Server is the monitor HTTP server.
type Server struct {
	cfg    config.MonitorConfig
	stats  StatsSource
	logger *slog.Logger

	queue    *EventQueue[EventMessage]
	hub      *hub
	upgrader websocket.Upgrader
	handler  http.Handler

	// Lifecycle
	httpServer *http.Server
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer creates a monitor server. stats may be nil until SetStats is called.
func NewServer(cfg config.MonitorConfig, stats StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	queue := NewEventQueue[EventMessage](64, 4096)
	s := &Server{
		cfg:    cfg,
		stats:  stats,
		logger: logger,
		queue:  queue,
		hub:    newHub(queue, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.GET("/health", s.handleHealth)
	engine.GET("/stats", s.handleStats)
	engine.GET("/version", s.handleVersion)
	engine.GET("/ws", s.handleWebSocket)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(engine)

	return s
}

// SetStats sets the summary source. Call before Start.
func (s *Server) SetStats(stats StatsSource) {
	s.stats = stats
}

// Handler returns the HTTP handler, including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Observe queues a terminal event for websocket clients. It never blocks.
func (s *Server) Observe(ev *model.EmissionEvent) {
	s.queue.Push(newEventMessage(ev))
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.hub.run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.hub.pump(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server error", "error", err)
		}
	}()

	s.logger.Info("monitor server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop shuts the HTTP server down and stops the hub.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping monitor server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.queue.Close()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("monitor server stopped")
	case <-ctx.Done():
		s.logger.Warn("monitor server stop timed out")
	}
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) summary() (scheduler.Summary, bool) {
	if s.stats == nil {
		return scheduler.Summary{}, false
	}
	return s.stats.Stats(), true
}

func (s *Server) handleHealth(c *gin.Context) {
	sum, ok := s.summary()
	status := "ok"
	if !ok || sum.RunID == "" {
		status = "starting"
	}

	connections := 0
	if s.ctx != nil {
		connections = s.hub.clientCount(s.ctx)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"run_id":      sum.RunID,
		"connections": connections,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	sum, _ := s.summary()
	c.JSON(http.StatusOK, gin.H{
		"summary": sum,
		"rate":    sum.Rate(),
		"queue":   s.queue.Stats(),
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_time": version.BuildTime,
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.ctx == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not started"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		hub:  s.hub,
		conn: conn,
		send: make(chan EventMessage, clientBuffer),
	}

	select {
	case s.hub.register <- cl:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump(s.ctx)
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("monitor request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
