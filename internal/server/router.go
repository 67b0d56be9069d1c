package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/host"
	"github.com/loykin/deskhost/internal/supervisor"
)

// Router is the loopback bridge between the webview frontend and the host.
// Requests carrying an Origin must come from an internal page, and POST
// bodies must be JSON so browsers preflight them. Endpoints:
//
//	GET  {basePath}/invoke/cli_get_status   query: usage=1 adds a CPU/RSS sample
//	POST {basePath}/invoke/cli_restart      restart the backend, returns the snapshot
//	GET  {basePath}/events                  server-sent events (cli:status, cli:error)
//	POST {basePath}/navigate                body: {"url": "..."}; returns {"allow": bool}
//	POST {basePath}/window/destroyed        body: {"window": "main", "last": true}
//	POST {basePath}/exit                    request application exit
//	POST {basePath}/menu                    body: {"id": "..."}
//	GET  {basePath}/history                 query: limit=N
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics                 when a metrics handler is configured
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	shell    *host.Shell
	basePath string
	opts     Options
}

// Options carries optional bridge features.
type Options struct {
	Metrics http.Handler
	History *history.Recorder
	// UsageTimeout bounds the resource sample taken for ?usage=1.
	UsageTimeout time.Duration
}

func NewRouter(shell *host.Shell, basePath string, opts Options) *Router {
	if opts.UsageTimeout <= 0 {
		opts.UsageTimeout = 500 * time.Millisecond
	}
	return &Router{shell: shell, basePath: sanitizeBase(basePath), opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.sameOrigin())
	group := g.Group(r.basePath)
	group.GET("/invoke/cli_get_status", r.handleStatus)
	group.POST("/invoke/cli_restart", r.handleRestart)
	group.GET("/events", r.handleEvents)
	group.POST("/navigate", r.handleNavigate)
	group.POST("/window/destroyed", r.handleWindowDestroyed)
	group.POST("/exit", r.handleExit)
	group.POST("/menu", r.handleMenu)
	group.GET("/history", r.handleHistory)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	if r.opts.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.opts.Metrics))
	}
	return g
}

// NewServer listens on addr and serves the bridge in the background. The
// listener is bound before returning so address errors surface here and
// ":0" can be used; the bound address is available from Addr().
func NewServer(addr string, r *Router) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// no WriteTimeout: /events streams for the lifetime of the window
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s := &Server{srv: srv, ln: ln, errc: make(chan error, 1)}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
	return s, nil
}

// Server is a running bridge.
type Server struct {
	srv  *http.Server
	ln   net.Listener
	errc chan error
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Err yields a serve error, if any, and is closed when serving ends.
func (s *Server) Err() <-chan error { return s.errc }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type navigateReq struct {
	URL string `json:"url" binding:"required"`
}

type navigateResp struct {
	Allow bool `json:"allow"`
}

type windowReq struct {
	Window string `json:"window"`
	Last   bool   `json:"last"`
}

type menuReq struct {
	ID string `json:"id" binding:"required"`
}

func (r *Router) handleStatus(c *gin.Context) {
	if usage, _ := strconv.ParseBool(c.Query("usage")); usage {
		ctx, cancel := context.WithTimeout(c.Request.Context(), r.opts.UsageTimeout)
		defer cancel()
		writeJSON(c, http.StatusOK, r.shell.Supervisor().StatusWithUsage(ctx))
		return
	}
	writeJSON(c, http.StatusOK, r.shell.GetStatus())
}

func (r *Router) handleRestart(c *gin.Context) {
	snap, err := r.shell.Restart(c.Request.Context())
	if errors.Is(err, supervisor.ErrClosed) {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleEvents(c *gin.Context) {
	ch, cancel := r.shell.Bus().Subscribe(0)
	defer cancel()

	// current status first so a late subscriber does not wait for a transition
	c.SSEvent("cli:status", r.shell.GetStatus())
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case m, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(m.Event, m.Payload)
			return true
		case <-r.shell.ShutdownDone():
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (r *Router) handleNavigate(c *gin.Context) {
	var req navigateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	allow := r.shell.Dispatch(host.Event{Kind: host.EventNavigation, URL: req.URL})
	writeJSON(c, http.StatusOK, navigateResp{Allow: allow})
}

func (r *Router) handleWindowDestroyed(c *gin.Context) {
	var req windowReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Window != "" && !isSafeName(req.Window) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid window label"})
		return
	}
	r.shell.Dispatch(host.Event{Kind: host.EventWindowDestroyed, Window: req.Window, Last: req.Last})
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleExit(c *gin.Context) {
	r.shell.Dispatch(host.Event{Kind: host.EventExitRequested})
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleMenu(c *gin.Context) {
	var req menuReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid menu id"})
		return
	}
	handled := r.shell.Dispatch(host.Event{Kind: host.EventMenu, MenuID: req.ID})
	writeJSON(c, http.StatusOK, gin.H{"handled": handled})
}

func (r *Router) handleHistory(c *gin.Context) {
	if !r.opts.History.Enabled() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	evs, err := r.opts.History.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}
