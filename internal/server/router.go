package server

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/stackvisor/internal/metrics"
	"github.com/loykin/stackvisor/internal/process"
	"github.com/loykin/stackvisor/internal/supervisor"
)

// Source supplies published snapshots. *supervisor.Supervisor implements it.
type Source interface {
	Published() *supervisor.View
}

// Router serves read-only views of the supervisor.
// Endpoints:
//
//	GET {basePath}/status    all entries, or one with ?name=...
//	GET {basePath}/healthz   200 while every entry is running, 503 otherwise
//	GET /metrics             Prometheus exposition (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
	metrics  http.Handler
}

func NewRouter(src Source, basePath string) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath)}
}

// WithMetrics mounts h at /metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer listens on addr and serves the router in the background. The
// listener is bound before returning so address errors surface immediately.
// A non-nil tlsCfg serves HTTPS on the same listener.
func NewServer(addr, basePath string, src Source, withMetrics bool, tlsCfg *tls.Config) (*http.Server, error) {
	r := NewRouter(src, basePath)
	if withMetrics {
		r.WithMetrics(metrics.Handler())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK      bool     `json:"ok"`
	Running int      `json:"running"`
	Total   int      `json:"total"`
	Down    []string `json:"down,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	view := r.src.Published()
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, view)
		return
	}
	if !process.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	for _, st := range view.Processes {
		if st.Name == name {
			writeJSON(c, http.StatusOK, st)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process: " + name})
}

func (r *Router) handleHealth(c *gin.Context) {
	view := r.src.Published()
	resp := healthResp{Total: len(view.Processes)}
	for _, st := range view.Processes {
		if st.State == supervisor.StateRunning {
			resp.Running++
		} else {
			resp.Down = append(resp.Down, st.Name)
		}
	}
	resp.OK = resp.Total > 0 && len(resp.Down) == 0
	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, resp)
}
