package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/backup"
	"github.com/mathomhouse/mathom/internal/handler"
	"github.com/mathomhouse/mathom/internal/metrics"
	"github.com/mathomhouse/mathom/internal/middleware"
	"github.com/mathomhouse/mathom/internal/policy"
	"github.com/mathomhouse/mathom/internal/store"
	ws "github.com/mathomhouse/mathom/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	engine        *policy.Engine
	authH         *handler.AuthHandler
	profileH      *handler.ProfileHandler
	householdH    *handler.HouseholdHandler
	itemH         *handler.ItemHandler
	wsH           *ws.Handler
	issuer        *auth.TokenIssuer
	sessionStore  *store.SessionStore
	rateLimiter   *middleware.RateLimiter
	metrics       *metrics.Metrics
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, jwtSecret []byte, backupCfg backup.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	m := metrics.New()

	userStore := store.NewUserStore(db)
	householdStore := store.NewHouseholdStore(db)
	itemStore := store.NewItemStore(db)
	sessionStore := store.NewSessionStore(db)

	engine := policy.NewEngine(
		userStore,
		logger.With("component", "policy"),
		policy.WithDecisionHook(m.DecisionHook()),
	)

	issuer := auth.NewTokenIssuer(jwtSecret)
	backupMgr := backup.NewManager(backupCfg, db, logger.With("component", "backup"))

	return &Server{
		db:            db,
		hub:           hub,
		engine:        engine,
		authH:         handler.NewAuthHandler(userStore, sessionStore, issuer, logger.With("component", "auth"), m),
		profileH:      handler.NewProfileHandler(userStore, engine, logger.With("component", "profile")),
		householdH:    handler.NewHouseholdHandler(householdStore, userStore, engine, hub, logger.With("component", "household")),
		itemH:         handler.NewItemHandler(itemStore, userStore, engine, hub, logger.With("component", "item")),
		wsH:           ws.NewHandler(hub, engine, householdStore, itemStore, logger.With("component", "websocket"), m.WebsocketClients),
		issuer:        issuer,
		sessionStore:  sessionStore,
		rateLimiter:   middleware.NewRateLimiter(),
		metrics:       m,
		backupManager: backupMgr,
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.issuer, s.sessionStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(s.metrics.Middleware(outerMux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/logout", s.authH.Logout)

	mux.HandleFunc("GET /api/profile", s.profileH.Get)
	mux.HandleFunc("PUT /api/profile", s.profileH.Update)

	mux.HandleFunc("POST /api/households", s.householdH.Create)
	mux.HandleFunc("GET /api/households/{id}", s.householdH.Get)
	mux.HandleFunc("PUT /api/households/{id}", s.householdH.Update)
	mux.HandleFunc("POST /api/households/{id}/members", s.householdH.AddMember)

	mux.HandleFunc("GET /api/items", s.itemH.List)
	mux.HandleFunc("POST /api/items", s.itemH.Create)
	mux.HandleFunc("GET /api/items/{id}", s.itemH.Get)
	mux.HandleFunc("PUT /api/items/{id}", s.itemH.Update)
	mux.HandleFunc("DELETE /api/items/{id}", s.itemH.Delete)

	mux.Handle("GET /ws/households/{id}", s.wsH)
}
