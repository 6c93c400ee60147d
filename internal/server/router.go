package server

import (
	"crypto/tls"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/supervisor"
)

// Control is the request side of a running supervisor. *supervisor.Requests
// satisfies it.
type Control interface {
	Stop(code int)
	Restart()
	Pause()
	Resume()
	Dump()
	SetLogLevel(target logger.Target, level logger.Level)
}

// Router provides embeddable HTTP handlers for controlling the wrapper.
// Endpoints:
//   GET  {basePath}/status
//   POST {basePath}/stop        query: code=N (optional, default 0)
//   POST {basePath}/restart
//   POST {basePath}/pause
//   POST {basePath}/resume
//   POST {basePath}/dump
//   POST {basePath}/loglevel    query: target=console|logfile|syslog&level=...
//   GET  {basePath}/metrics     when metrics are enabled
// Every POST only queues the request; the event loop acts on its next cycle.
type Router struct {
	status   func() supervisor.Status
	ctl      Control
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(status func() supervisor.Status, ctl Control, basePath string, withMetrics bool) *Router {
	return &Router{status: status, ctl: ctl, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// ForSupervisor wires a Router to s.
func ForSupervisor(s *supervisor.Supervisor, basePath string, withMetrics bool) *Router {
	return NewRouter(s.Status, s.Requests(), basePath, withMetrics)
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleSimple(r.ctl.Restart))
	group.POST("/pause", r.handleSimple(r.ctl.Pause))
	group.POST("/resume", r.handleSimple(r.ctl.Resume))
	group.POST("/dump", r.handleSimple(r.ctl.Dump))
	group.POST("/loglevel", r.handleLogLevel)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. A
// non-nil tlsCfg serves HTTPS instead.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsCfg != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.status())
}

func (r *Router) handleStop(c *gin.Context) {
	code := 0
	if s := c.Query("code"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid code: " + s})
			return
		}
		code = n
	}
	r.ctl.Stop(code)
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleSimple(fn func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn()
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
	}
}

func (r *Router) handleLogLevel(c *gin.Context) {
	target, ok := logger.ParseTarget(c.Query("target"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "target must be one of console, logfile, syslog"})
		return
	}
	level, err := logger.ParseLevel(c.Query("level"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	r.ctl.SetLogLevel(target, level)
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}
