package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"navigator/internal/auth"
	"navigator/internal/cache"
	"navigator/internal/config"
	"navigator/internal/header"
	"navigator/internal/listing"
	logpkg "navigator/internal/logger"
	"navigator/internal/metrics"
	"navigator/internal/narrative"
	"navigator/internal/view"
)

// NarrativeFetcher loads full narrative documents.
type NarrativeFetcher interface {
	FetchNarrative(ctx context.Context, key narrative.Key, token string) (narrative.Doc, error)
}

// UserResolver maps a token to its username.
type UserResolver interface {
	Username(ctx context.Context, token string) (string, error)
}

// HeaderBuilder renders the global header and signs users out.
type HeaderBuilder interface {
	BuildFor(ctx context.Context, token, username string, lookupErr error) header.View
	SignOut(ctx context.Context, token string) (redirect string, ok bool)
}

// ReadyCheck is one dependency probed by /ready.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Config     config.Config
	Search     listing.Searcher
	Registry   *listing.Registry
	Caches     cache.Store
	Narratives NarrativeFetcher
	Users      UserResolver
	Header     HeaderBuilder
	Renderer   *view.Renderer
	Checks     []ReadyCheck
	Logger     *zap.Logger
}

type HTTPServer struct {
	cfg        config.Config
	search     listing.Searcher
	registry   *listing.Registry
	caches     cache.Store
	narratives NarrativeFetcher
	users      UserResolver
	header     HeaderBuilder
	renderer   *view.Renderer
	checks     []ReadyCheck
	logger     *zap.Logger
	sessions   *auth.Signer
}

func NewHTTPServer(deps Deps) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		cfg:        deps.Config,
		search:     deps.Search,
		registry:   deps.Registry,
		caches:     deps.Caches,
		narratives: deps.Narratives,
		users:      deps.Users,
		header:     deps.Header,
		renderer:   deps.Renderer,
		checks:     deps.Checks,
		logger:     logger,
		sessions:   auth.NewSigner([]byte(deps.Config.SessionSecret)),
	}
}

// Handler mounts every route under the configured URL prefix.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	routes := chi.NewRouter()
	routes.NotFound(s.notFound)
	routes.MethodNotAllowed(s.notFound)

	routes.Get("/health", s.handleHealth)
	routes.Get("/ready", s.handleReady)
	routes.Handle("/metrics", promhttp.Handler())
	routes.Get("/static/build/bundle.js", s.handleBundle)
	routes.Handle("/static/*", http.StripPrefix(s.cfg.URLPrefix+"/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))

	routes.Group(func(r chi.Router) {
		r.Use(s.pageSession)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/narratives/{id}/{obj}/{ver}", s.handleNarrative)
		r.Get("/api/narratives/{id}/{obj}/{ver}/preview", s.handlePreview)
		r.Post("/signout", s.handleSignOut)
		r.Get("/*", s.handleDashboard)
	})

	if s.cfg.URLPrefix == "" {
		r.Mount("/", routes)
	} else {
		r.Mount(s.cfg.URLPrefix, routes)
		r.NotFound(s.notFound)
	}
	return r
}

// link prefixes an app-relative path with the URL prefix.
func (s *HTTPServer) link(path string) string {
	return s.cfg.URLPrefix + "/" + strings.TrimLeft(path, "/")
}

func (s *HTTPServer) notFound(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusNotFound, s.renderer.NotFound)
}

func (s *HTTPServer) renderPage(w http.ResponseWriter, r *http.Request, status int, render func(io.Writer) error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := render(w); err != nil {
		logpkg.FromContext(r.Context()).Error("render page", zap.Int("status", status), zap.Error(err))
	}
}

// recoverer renders the 500 page instead of a plain text stack trace.
func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.logger.Error("panic recovered",
					zap.Any("panic", rvr),
					zap.String("path", r.URL.Path),
					zap.Stack("stacktrace"),
				)
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_ = s.renderer.ServerError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// wideEventMiddleware emits one log line per request and puts a request
// scoped logger in the context.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
