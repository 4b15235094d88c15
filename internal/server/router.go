// Package server is the optional read-only HTTP operations endpoint.
// Control stays on the Unix socket; this surface only observes.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/metrics"
	"github.com/loykin/shepd/internal/supervisor"
)

// StatusProvider is implemented by the daemon; statuses come back
// decorated with version and resource data.
type StatusProvider interface {
	ServiceStatus(name string) (supervisor.Status, error)
	AllServiceStatuses() []supervisor.Status
}

type Router struct {
	sp StatusProvider
}

func NewRouter(sp StatusProvider) *Router {
	return &Router{sp: sp}
}

// Handler returns a gin handler mountable in any mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealthz)
	g.GET("/api/status", r.handleStatusAll)
	g.GET("/api/status/:name", r.handleStatusOne)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, sp StatusProvider) *http.Server {
	r := NewRouter(sp)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleStatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, r.sp.AllServiceStatuses())
}

func (r *Router) handleStatusOne(c *gin.Context) {
	st, err := r.sp.ServiceStatus(c.Param("name"))
	if err != nil {
		code := http.StatusInternalServerError
		if errdefs.IsNotFound(err) {
			code = http.StatusNotFound
		}
		c.JSON(code, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}
