// Package status serves a small local HTTP endpoint with liveness and
// population figures for operators.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/oxidems/server/internal/world"
)

// Pinger checks the database. *persist.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports live sessions. *net.Server implements it.
type SessionCounter interface {
	SessionCount() int
}

type Options struct {
	BindAddress string
	Debug       bool
	StartTime   time.Time
	ServerName  string
}

// Server is the status HTTP server.
type Server struct {
	opts     Options
	db       Pinger
	sessions SessionCounter
	worlds   *world.Table
	proc     *process.Process
	log      *zap.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// WorldStatus is one world in the /status response.
type WorldStatus struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Population int    `json:"population"`
	Capacity   int    `json:"capacity"`
	Status     string `json:"status"`
	Channels   []int  `json:"channels"`
}

// Report is the /status response body.
type Report struct {
	Name          string        `json:"name"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Sessions      int           `json:"sessions"`
	Worlds        []WorldStatus `json:"worlds"`
	RSSBytes      uint64        `json:"rss_bytes,omitempty"`
	CPUPercent    float64       `json:"cpu_percent,omitempty"`
}

func NewServer(opts Options, db Pinger, sessions SessionCounter, worlds *world.Table, log *zap.Logger) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}

	s := &Server{
		opts:     opts,
		db:       db,
		sessions: sessions,
		worlds:   worlds,
		log:      log,
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	} else {
		log.Warn("process stats unavailable", zap.Error(err))
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)
	return router
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.BindAddress)
	if err != nil {
		return fmt.Errorf("status listen: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("status endpoint listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.report())
}

func (s *Server) report() Report {
	r := Report{
		Name:          s.opts.ServerName,
		UptimeSeconds: int64(time.Since(s.opts.StartTime).Seconds()),
		Sessions:      s.sessions.SessionCount(),
	}
	for _, w := range s.worlds.All() {
		ws := WorldStatus{
			ID:         w.ID,
			Name:       w.Name,
			Population: w.Population(),
			Capacity:   w.Capacity(),
			Status:     w.CapacityStatus().String(),
		}
		for _, ch := range w.Channels {
			ws.Channels = append(ws.Channels, ch.Population())
		}
		r.Worlds = append(r.Worlds, ws)
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			r.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			r.CPUPercent = cpu
		}
	}
	return r
}
