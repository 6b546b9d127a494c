package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/logger"
)

// Server answers liveness probes for the bot process
type Server struct {
	srv     *http.Server
	clock   clock.Clock
	started time.Time
	pending func() int
	logger  *logger.Logger
}

// New creates a health server on addr. pending reports the number of armed
// reminders and may be nil
func New(addr string, clk clock.Clock, pending func() int) *Server {
	s := &Server{
		clock:   clk,
		started: clk.Now(),
		pending: pending,
		logger:  logger.New("health"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/", s.status)
	router.GET("/health", s.health)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) status(c *gin.Context) {
	now := s.clock.Now()
	body := gin.H{
		"status":    "Bot is running",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(s.started).Seconds(),
	}
	if s.pending != nil {
		body["pending_reminders"] = s.pending()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "bot": "online"})
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Health server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server failed: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
