// Package server exposes the vault to a local UI over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"sessionvault/internal/embedding"
	"sessionvault/internal/i18n"
	"sessionvault/internal/metrics"
	"sessionvault/internal/scanner"
	"sessionvault/internal/security"
	"sessionvault/internal/storage"
)

// Scans triggers sync cycles and streams their results.
type Scans interface {
	Trigger(ctx context.Context) (scanner.Result, error)
	Subscribe() (<-chan scanner.Result, func())
}

// Sessions reads stored session rows.
type Sessions interface {
	ListSessions(ctx context.Context, opts storage.ListOptions) ([]storage.Record, error)
	Get(ctx context.Context, id string) (storage.Record, error)
}

// Searcher ranks sessions against a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]embedding.Hit, error)
}

// Deps 服务依赖 / Components the server routes to
type Deps struct {
	Scans    Scans
	Sessions Sessions
	Gate     *security.Gate
	Search   Searcher
	Catalog  *i18n.Catalog
	Logger   *slog.Logger
}

// Server HTTP 边界 / The HTTP boundary
type Server struct {
	deps     Deps
	zh       *i18n.Catalog
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New builds a server. Catalog defaults to the global catalog.
func New(deps Deps) *Server {
	if deps.Catalog == nil {
		deps.Catalog = i18n.Global()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:   deps,
		zh:     i18n.New("zh-CN"),
		logger: logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkLocalOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router wires the routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(requireLoopbackHost)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/scan", s.handleScan)
		api.Get("/sessions", s.handleListSessions)
		api.Get("/sessions/{id}", s.handleGetSession)
		api.Get("/file", s.handleReadFile)
		api.Get("/search", s.handleSearch)
		api.Get("/events", s.handleEvents)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// catalog picks the message catalog from Accept-Language.
func (s *Server) catalog(r *http.Request) *i18n.Catalog {
	lang := strings.ToLower(strings.TrimSpace(r.Header.Get("Accept-Language")))
	if strings.HasPrefix(lang, "zh") {
		return s.zh
	}
	return s.deps.Catalog
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// requireLoopbackHost 拒绝非回环 Host，防止 DNS rebinding 读取会话文件
// requireLoopbackHost rejects requests whose Host header does not name the
// loopback interface. A rebound DNS name reaches the listener with the
// attacker's host name, not 127.0.0.1 or localhost.
func requireLoopbackHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackHost(r.Host) {
			respondError(w, http.StatusForbidden, CodeBadHost, "host not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// checkLocalOrigin accepts same-machine pages and non-browser clients.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://127.0.0.1", "http://localhost", "https://127.0.0.1", "https://localhost", "tauri://"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
