package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	"billing/internal/billing"
	"billing/internal/cache"
	"billing/internal/core"
	"billing/internal/events"
	"billing/internal/identity"
	"billing/internal/log"
	"billing/internal/middleware/ratelimit"
	"billing/internal/middleware/security"
	"billing/internal/middleware/trace"
	"billing/internal/session"
	"billing/internal/storage"
	appweb "billing/web"
)

const (
	// readTimeout bounds the backend reads behind one view.
	readTimeout = 7 * time.Second

	cacheEntries         = 500
	cacheCleanupInterval = 5 * time.Minute
	staticMaxAge         = 3600
)

// HistoryReader lists a user's recent bill events.
type HistoryReader interface {
	RecentEvents(ctx context.Context, userID string, limit int) ([]storage.Event, error)
}

// Check is one readiness probe reported by /readyz.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the collaborators behind the views.
type Deps struct {
	Billing  *billing.Client
	Identity identity.Provider
	Sessions *session.Manager
	Events   events.Publisher
	History  HistoryReader
	Checks   []Check
	Logger   *log.Logger
}

// Config tunes the server.
type Config struct {
	Addr               string
	CacheTTL           time.Duration
	RateLimitPerMinute int
	ForceHSTS          bool
	TrustedProxies     []string
}

type Server struct {
	http.Server

	templates *template.Template
	billing   *billing.Client
	identity  identity.Provider
	sessions  *session.Manager
	events    events.Publisher
	history   HistoryReader
	checks    []Check
	logger    *log.Logger
	audit     *log.StructuredLogger

	bills  *cache.LRUCache[[]core.BillingRecord]
	stats  *cache.LRUCache[core.UserStats]
	caches *cache.Manager
	reads  singleflight.Group
	gens   generations

	detector *security.Detector
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware

	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.Noop{}
	}

	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       time.Minute,
		},
		billing:  deps.Billing,
		identity: deps.Identity,
		sessions: deps.Sessions,
		events:   publisher,
		history:  deps.History,
		checks:   deps.Checks,
		logger:   logger.WithComponent(log.ComponentHTTP),
		audit:    log.NewStructuredLogger(logger),
		bills:    cache.NewLRUCache[[]core.BillingRecord](cacheEntries, cfg.CacheTTL),
		stats:    cache.NewLRUCache[core.UserStats](cacheEntries, cfg.CacheTTL),
		caches:   cache.NewManager(logger),
		detector: security.NewDetector(logger),
		started:  time.Now(),
	}

	for _, cidr := range cfg.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}

	limits := ratelimit.DefaultConfig()
	if cfg.RateLimitPerMinute > 0 {
		limits.RequestsPerMinute = cfg.RateLimitPerMinute
	}
	s.limiter = ratelimit.NewLimiter(limits)
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	s.caches.Register(s.bills)
	s.caches.Register(s.stats)
	s.caches.StartCleanup(cacheCleanupInterval)

	t, err := parseTemplates()
	if err != nil {
		s.logger.Warn("Failed parsing templates", log.FieldError, err)
	}
	s.templates = t

	headers := security.DefaultHeadersConfig()
	headers.ForceHSTS = cfg.ForceHSTS

	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware(logger))
	r.Use(log.RequestIDMiddleware(trace.FromRequest))
	r.Use(security.NewHeadersMiddleware(headers).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		r.With(security.StaticAssetMiddleware(staticMaxAge)).
			Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(sub))))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	r.Group(func(r chi.Router) {
		r.Use(security.NoStore)
		r.Get("/login", s.handleLoginPage)
		r.Post("/login", s.handleLogin)
		r.Get("/signup", s.handleSignupPage)
		r.Post("/signup", s.handleSignup)
	})

	r.Group(func(r chi.Router) {
		r.Use(security.NoStore)
		r.Use(s.sessions.Gate)

		r.Get("/", s.handleDashboard)
		r.Post("/logout", s.handleLogout)

		r.Route("/ui", func(r chi.Router) {
			r.Get("/bills", s.handleBillsPartial)
			r.Get("/stats", s.handleStatsPartial)
			r.Get("/chart", s.handleChartPartial)
			r.Get("/activity", s.handleActivityPartial)
		})

		r.Route("/bills", func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentBilling))
			r.Post("/", s.handleCreateBill)
			r.Get("/form", s.handleBillForm)
			r.Get("/{id}/edit", s.handleEditBill)
			r.Put("/{id}", s.handleUpdateBill)
			// Plain form submissions cannot send PUT.
			r.Post("/{id}", s.handleUpdateBill)
			r.Delete("/{id}", s.handleDeleteBill)
		})

		r.Get("/admin/data", s.handleAdminData)
		r.With(log.ComponentMiddleware(log.ComponentIdentity)).
			Post("/account/delete", s.handleDeleteAccount)
	})

	r.NotFound(s.handleNotFound)
	s.Handler = r
	return s
}

// Shutdown stops background loops and then the HTTP server. Only the first
// call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// client returns the billing client acting as the session's user.
func (s *Server) client(sess session.Session) *billing.Client {
	return s.billing.WithTokens(s.sessions.TokenSource(sess))
}

// currentSession returns the session placed in the context by the gate.
func currentSession(r *http.Request) session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}
