// Package ipc serves the editor's HTTP API and the WebSocket channel that
// carries terminal traffic and file change broadcasts.
package ipc

import (
	"context"
	stdliberrors "errors"
	iofs "io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/odvcencio/tandem/pkg/filewatch"
	"github.com/odvcencio/tandem/pkg/logging"
	"github.com/odvcencio/tandem/pkg/mirror"
	"github.com/odvcencio/tandem/pkg/scripts"
	"github.com/odvcencio/tandem/pkg/terminal"
)

// Config controls the server behavior.
type Config struct {
	BindAddress       string
	StaticDir         string
	AllowedOrigins    []string
	MaxClients        int
	ScriptMinInterval time.Duration
	Version           string
}

// Deps are the components the server routes requests to.
type Deps struct {
	Mirror    *mirror.Mirror
	Watcher   *filewatch.FileWatcher
	Terminals *terminal.Registry
	Scripts   *scripts.Runner
	Logger    *slog.Logger
}

// Server hosts the JSON/HTTP API and the WebSocket channel.
type Server struct {
	cfg            Config
	hub            *Hub
	mirror         *mirror.Mirror
	watcher        *filewatch.FileWatcher
	terminals      *terminal.Registry
	scripts        *scripts.Runner
	scriptLimiters map[scripts.Name]*rate.Limiter
	origins        originPolicy
	wsLimiter      *connLimiter
	logger         *slog.Logger
	watchSub       string
	started        time.Time

	handlerOnce sync.Once
	handler     http.Handler
	httpServer  *http.Server
}

// NewServer wires the server to its components and subscribes the hub to
// file changes.
func NewServer(cfg Config, deps Deps) *Server {
	logger := logging.For(deps.Logger, logging.CategoryServer)
	watcher := deps.Watcher
	if watcher == nil {
		watcher = filewatch.NewFileWatcher(0)
	}
	terminals := deps.Terminals
	if terminals == nil {
		terminals = terminal.NewRegistry(terminal.Options{Logger: deps.Logger})
	}
	runner := deps.Scripts
	if runner == nil {
		runner = scripts.NewRunner(scripts.Options{Logger: deps.Logger})
	}

	interval := cfg.ScriptMinInterval
	limiters := make(map[scripts.Name]*rate.Limiter, 2)
	for _, name := range []scripts.Name{scripts.Rebuild, scripts.Sync} {
		limit := rate.Inf
		if interval > 0 {
			limit = rate.Every(interval)
		}
		limiters[name] = rate.NewLimiter(limit, 1)
	}

	s := &Server{
		cfg:            cfg,
		hub:            NewHub(),
		mirror:         deps.Mirror,
		watcher:        watcher,
		terminals:      terminals,
		scripts:        runner,
		scriptLimiters: limiters,
		origins:        newOriginPolicy(cfg.AllowedOrigins),
		wsLimiter:      newConnLimiter(cfg.MaxClients),
		logger:         logger,
		started:        time.Now(),
	}
	s.watchSub = watcher.Subscribe("*", s.onFileChange)
	return s
}

// Hub exposes the broadcast hub so callers can attach forwarders.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed HTTP handler, wrapped for h2c.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.handler = s.buildHandler()
	})
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.securityHeadersMiddleware)

	router.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogMiddleware)
		r.Get("/files", s.handleListFiles)
		r.Get("/file", s.handleReadFile)
		r.Post("/file", s.handleWriteFile)
		r.Delete("/file", s.handleDeleteFile)
		r.Post("/rebuild", s.handleRunScript(scripts.Rebuild))
		r.Post("/sync", s.handleRunScript(scripts.Sync))
		r.Get("/changes", s.handleRecentChanges)
	})

	router.Get("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws", s.handleWebSocket)

	s.mountStatic(router)

	// Wrap router with H2C handler to support HTTP/2 cleartext connections.
	return h2c.NewHandler(router, &http2.Server{})
}

// Start serves until ctx is cancelled, then shuts down gracefully and tears
// down every terminal session.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "bind", s.cfg.BindAddress, "static_dir", s.cfg.StaticDir)
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	defer s.Close()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Close destroys all terminal sessions and detaches from the watcher.
func (s *Server) Close() {
	s.watcher.Unsubscribe(s.watchSub)
	s.terminals.Close()
}

func (s *Server) onFileChange(change filewatch.FileChange) {
	s.hub.Broadcast(fileEvent(change))
}

func (s *Server) mountStatic(router *chi.Mux) {
	staticDir := strings.TrimSpace(s.cfg.StaticDir)
	if staticDir == "" {
		router.Get("/", s.handleRoot)
		return
	}
	info, err := os.Stat(staticDir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static directory unavailable", "dir", staticDir, "error", err)
		router.Get("/", s.handleRoot)
		return
	}

	uiFS := os.DirFS(staticDir)
	fileServer := http.FileServer(http.FS(uiFS))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}
		clean := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if clean == "" {
			clean = "index.html"
		}
		if info, err := iofs.Stat(uiFS, clean); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		if clean == "index.html" {
			http.NotFound(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		u := *r.URL
		u.Path = "/"
		r2.URL = &u
		fileServer.ServeHTTP(w, r2)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"name":    "tandem",
		"version": s.cfg.Version,
		"ws":      "/ws",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"clients":  s.hub.Len(),
		"sessions": s.terminals.Len(),
	}
	if s.mirror != nil {
		body["mode"] = string(s.mirror.Mode())
		body["root"] = s.mirror.ActiveRoot()
	}
	respondJSON(w, body)
}
