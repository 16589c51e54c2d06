// Package diag exposes an HTTP introspection surface for a running
// relay.Server: its active listener-origin connections and basic process
// health, grounded on HoNfigurator-Portal-energizer's gin/cors API server
// and its gopsutil-backed health figures.
package diag

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/edwin-n-johnson/relay"
)

// ConnectionView is one row of GET /sessions.
type ConnectionView struct {
	RemoteAddr        string `json:"remote_addr"`
	State             string `json:"state"`
	DiscardedResponse uint64 `json:"discarded_responses"`
	TimedOutRequests  uint64 `json:"timed_out_requests"`
}

// Registry tracks the currently-open listener-origin connections a Server
// reports through relay.WithServerClosedHandler's counterpart: callers add
// a connection when Handler.Handle starts and it is removed automatically
// once the connection closes.
type Registry struct {
	mu    sync.Mutex
	conns map[*relay.Connection]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*relay.Connection]struct{})}
}

// Track adds conn to the registry and removes it once its state reaches
// Closed.
func (r *Registry) Track(conn *relay.Connection) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()

	conn.OnStateChange(func(old, next relay.ConnState) {
		if next == relay.StateClosed {
			r.mu.Lock()
			delete(r.conns, conn)
			r.mu.Unlock()
		}
	})
}

func (r *Registry) snapshot() []ConnectionView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]ConnectionView, 0, len(r.conns))
	for conn := range r.conns {
		discarded, timedOut := conn.Stats()
		views = append(views, ConnectionView{
			RemoteAddr:        conn.RemoteAddr(),
			State:             conn.State().String(),
			DiscardedResponse: discarded,
			TimedOutRequests:  timedOut,
		})
	}
	return views
}

// Server is the diagnostics HTTP server.
type Server struct {
	registry   *Registry
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer builds a diagnostics server bound to addr, backed by registry.
func NewServer(addr string, registry *Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		registry:  registry,
		startedAt: time.Now(),
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	router.GET("/sessions", s.handleSessions)
	router.GET("/health", s.handleHealth)
	return s
}

// Handler returns the underlying http.Handler, for embedding in a larger
// mux or for testing with httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": s.registry.snapshot()})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"open_conns":     len(s.registry.snapshot()),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	c.JSON(http.StatusOK, health)
}

// ListenAndServe blocks until ctx is canceled, then shuts the HTTP server
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("diag server: %w", err)
	}
}
