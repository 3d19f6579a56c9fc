package server

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/debrief/internal/auth"
	"github.com/dukerupert/debrief/internal/blob"
	"github.com/dukerupert/debrief/internal/config"
	"github.com/dukerupert/debrief/internal/handler"
	"github.com/dukerupert/debrief/internal/metrics"
	"github.com/dukerupert/debrief/internal/middleware"
	"github.com/dukerupert/debrief/internal/pipeline"
	"github.com/dukerupert/debrief/internal/push"
	"github.com/dukerupert/debrief/internal/store"
	ws "github.com/dukerupert/debrief/internal/websocket"
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

type Deps struct {
	DB       *sql.DB
	Config   *config.Config
	Blobs    blob.Store
	Pipeline *pipeline.Pipeline
	Hub      *ws.Hub
	Push     *push.Service
	Logger   *slog.Logger
}

type Server struct {
	hub            *ws.Hub
	authH          *handler.AuthHandler
	debriefH       *handler.DebriefHandler
	apiH           *handler.APIHandler
	pushH          *handler.PushHandler
	signer         *auth.Signer
	sessionStore   *store.SessionStore
	userStore      *store.UserStore
	magicLinkStore *store.MagicLinkStore
	rateLimiter    *middleware.RateLimiter
	internalNets   []*net.IPNet
	proxyNets      []*net.IPNet
	originPatterns []string
	logger         *slog.Logger
}

func New(deps Deps) (*Server, error) {
	cfg := deps.Config
	logger := deps.Logger

	nets, err := cfg.Networks()
	if err != nil {
		return nil, err
	}
	proxies, err := cfg.ProxyNetworks()
	if err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("session secret is required")
	}

	debriefStore := store.NewDebriefStore(deps.DB)
	pushStore := store.NewPushStore(deps.DB)

	// Auth stores
	identityStore := store.NewIdentityStore(deps.DB)
	userStore := store.NewUserStore(deps.DB)
	sessionStore := store.NewSessionStore(deps.DB)
	magicLinkStore := store.NewMagicLinkStore(deps.DB)

	signer := auth.NewSigner(cfg.SessionSecret)
	secure := strings.HasPrefix(cfg.BaseURL, "https://")

	var origins []string
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		origins = append(origins, u.Host)
	}

	return &Server{
		hub:            deps.Hub,
		authH:          handler.NewAuthHandler(identityStore, userStore, sessionStore, magicLinkStore, signer, secure, logger.With("component", "auth")),
		debriefH:       handler.NewDebriefHandler(debriefStore, deps.Blobs, deps.Pipeline, logger.With("component", "debrief")),
		apiH:           handler.NewAPIHandler(debriefStore, deps.Blobs, deps.Pipeline, cfg.BaseURL, logger.With("component", "api")),
		pushH:          handler.NewPushHandler(pushStore, deps.Push, logger.With("component", "push_handler")),
		signer:         signer,
		sessionStore:   sessionStore,
		userStore:      userStore,
		magicLinkStore: magicLinkStore,
		rateLimiter:    middleware.NewRateLimiter(loginRateLimit, loginRateWindow),
		internalNets:   nets,
		proxyNets:      proxies,
		originPatterns: origins,
		logger:         logger,
	}, nil
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// MagicLinkStore returns the magic link store for cleanup tasks.
func (s *Server) MagicLinkStore() *store.MagicLinkStore {
	return s.magicLinkStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /login", s.authH.LoginPage)
	mux.Handle("POST /login", s.rateLimited(s.authH.Login))
	mux.HandleFunc("GET /login/verify", s.authH.VerifyPage)
	mux.Handle("POST /login/verify", s.rateLimited(s.authH.Verify))
	mux.HandleFunc("GET /push/vapid_public_key", s.pushH.VAPIDPublicKey)

	s.registerProtectedRoutes(mux)
	s.registerInternalRoutes(mux)

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(middleware.Metrics(mux))
	return middleware.ResolveClient(s.proxyNets)(logged)
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	requireAuth := middleware.RequireAuth(s.signer, s.sessionStore, s.userStore, s.logger.With("component", "auth"))
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireAuth(h))
	}

	handle("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debriefs", http.StatusSeeOther)
	})
	handle("DELETE /logout", s.authH.Logout)

	// Debriefs
	handle("GET /debriefs", s.debriefH.List)
	handle("POST /debriefs", s.debriefH.Create)
	handle("GET /debriefs/{id}", s.debriefH.Get)
	handle("DELETE /debriefs/{id}", s.debriefH.Delete)
	handle("POST /debriefs/{id}/resend", s.debriefH.Resend)
	handle("POST /debriefs/{id}/retry", s.debriefH.Retry)

	// Push subscriptions
	handle("POST /push/subscribe", s.pushH.Subscribe)
	handle("DELETE /push/unsubscribe", s.pushH.Unsubscribe)

	// WebSocket
	handle("GET /ws", ws.HandleWebSocket(s.hub, s.originPatterns))
}

// registerInternalRoutes mounts the listener-facing catch-up API and metrics.
// They carry no session and are only reachable from the internal networks.
func (s *Server) registerInternalRoutes(mux *http.ServeMux) {
	local := middleware.RequireLocalNetwork(s.internalNets, s.proxyNets)
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, local(h))
	}

	handle("GET /api/unnotified", http.HandlerFunc(s.apiH.Unnotified))
	handle("POST /api/notifications/{id}/ack", http.HandlerFunc(s.apiH.Ack))
	handle("POST /api/debriefs/{id}/complete", http.HandlerFunc(s.apiH.Complete))
	handle("GET /api/debriefs/{id}/status", http.HandlerFunc(s.apiH.Status))
	handle("GET /api/attachments/{id}", http.HandlerFunc(s.apiH.Attachment))
	handle("GET /metrics", metrics.Handler())
}
