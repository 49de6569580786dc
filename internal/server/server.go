package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scout/internal/agent"
	"scout/internal/config"
	scouterrors "scout/internal/errors"
	"scout/internal/logging"
	"scout/internal/session"
	"scout/internal/tools"
)

// Server hosts the WebSocket channel and the REST inspection endpoints. It
// is also the RemoteTransport for REMOTE tool dispatch: TOOL_CALL frames are
// routed to whichever connection currently owns the session.
type Server struct {
	config     config.ServerConfig
	runner     *agent.Runner
	sessions   *session.Store
	dispatcher *tools.Dispatcher
	metrics    *Metrics
	logger     logging.Logger
	upgrader   websocket.Upgrader

	mu        sync.Mutex
	bySession map[string]*conn
}

// New wires the channel server and installs itself as the dispatcher's
// remote transport.
func New(cfg config.ServerConfig, runner *agent.Runner, sessions *session.Store, dispatcher *tools.Dispatcher) *Server {
	s := &Server{
		config:     cfg,
		runner:     runner,
		sessions:   sessions,
		dispatcher: dispatcher,
		metrics:    NewMetrics(),
		logger:     logging.NewComponentLogger("ChannelServer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bySession: make(map[string]*conn),
	}
	dispatcher.SetTransport(s)
	return s
}

// SendToolCall implements tools.RemoteTransport.
func (s *Server) SendToolCall(ctx context.Context, sessionID, callID, toolName string, params map[string]any) error {
	s.mu.Lock()
	c, ok := s.bySession[sessionID]
	s.mu.Unlock()
	if !ok {
		return scouterrors.New(scouterrors.KindTransient,
			fmt.Sprintf("no client connection for session %s", sessionID))
	}
	c.send(Outbound{
		Type:      MsgToolCall,
		SessionID: sessionID,
		CallID:    callID,
		ToolName:  toolName,
		Params:    params,
	})
	s.metrics.ToolCalls.WithLabelValues("sent").Inc()
	return nil
}

func (s *Server) bind(sessionID string, c *conn) {
	s.mu.Lock()
	s.bySession[sessionID] = c
	s.mu.Unlock()
}

func (s *Server) unbind(sessionID string, c *conn) {
	s.mu.Lock()
	if s.bySession[sessionID] == c {
		delete(s.bySession, sessionID)
	}
	s.mu.Unlock()
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	if !s.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if s.config.EnableCORS {
		router.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:          12 * time.Hour,
		}))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	router.GET("/ws", s.handleWebSocket)

	api := router.Group("/api")
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	return router
}

// Run serves until the context is cancelled, then shuts down gracefully and
// flushes every loaded session.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Channel server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Shutdown: %v", err)
	}
	s.sessions.PersistAll()
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	newConn(s, ws).run(c.Request.Context())
}

func (s *Server) handleListSessions(c *gin.Context) {
	projectKey := c.Query("projectKey")
	if projectKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectKey query parameter is required"})
		return
	}
	ids, err := s.sessions.List(projectKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectKey": projectKey, "sessions": ids})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sessionID := c.Param("id")
	projectKey := c.Query("projectKey")
	if projectKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectKey query parameter is required"})
		return
	}

	if messages, err := s.sessions.Messages(sessionID); err == nil {
		c.JSON(http.StatusOK, gin.H{"id": sessionID, "projectKey": projectKey, "messages": messages})
		return
	}

	ids, err := s.sessions.List(projectKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, id := range ids {
		if id != sessionID {
			continue
		}
		sess, err := s.sessions.GetOrCreate(sessionID, projectKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown session " + sessionID})
}
