package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/sessions"

	"projectbrowser/internal/catalog"
	"projectbrowser/internal/config"
	"projectbrowser/internal/installer"
	"projectbrowser/internal/logging"
	"projectbrowser/internal/systemcheck"
	"projectbrowser/internal/telemetry"
)

const (
	adminPrefix = "/admin/modules/project_browser"
	dataPrefix  = "/project-browser"

	// DefaultDestination is where unlock sends the browser when no safe destination was given
	DefaultDestination = "/admin/modules/browse"
)

// Deps are the collaborators the HTTP layer exposes
type Deps struct {
	DB        *sql.DB
	Installer *installer.Installer
	Catalog   *catalog.EnabledSourceHandler
	// Status is optional; without it projects are served without activation info
	Status  catalog.StatusProvider
	Checker installer.Checker
}

// Server represents the HTTP server
type Server struct {
	config       *config.Config
	db           *sql.DB
	installer    *installer.Installer
	catalog      *catalog.EnabledSourceHandler
	status       catalog.StatusProvider
	checker      installer.Checker
	sessionStore *sessions.CookieStore
	validate     *validator.Validate
	httpServer   *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Installer == nil || deps.Catalog == nil {
		return nil, errors.New("installer and catalog are required")
	}
	if cfg.SessionKey == config.DefaultSessionKey {
		if cfg.AdminTokenHash != "" {
			return nil, errors.New("session_key must be changed from its default when admin_token_hash is set")
		}
		logging.Warnf("Using the default session_key; unlock links and messages are signed with a public key")
	}

	s := &Server{
		config:       cfg,
		db:           deps.DB,
		installer:    deps.Installer,
		catalog:      deps.Catalog,
		status:       deps.Status,
		checker:      deps.Checker,
		sessionStore: sessions.NewCookieStore([]byte(cfg.SessionKey)),
		validate:     validator.New(),
	}

	s.sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return s, nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	admin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireAdmin(h))
	}

	admin("GET "+adminPrefix+"/install-begin", s.handleBegin)
	admin("POST "+adminPrefix+"/install-require/{stageID}", s.handleRequire)
	admin("POST "+adminPrefix+"/install-apply/{stageID}", s.handleApply)
	admin("POST "+adminPrefix+"/install-post_apply/{stageID}", s.handlePostApply)
	admin("POST "+adminPrefix+"/install-destroy/{stageID}", s.handleDestroy)
	admin("POST "+adminPrefix+"/activate", s.handleActivate)
	admin("GET "+adminPrefix+"/system-check", s.handleSystemCheck)
	// Unlock is reached by following a link; the session token guards it.
	mux.HandleFunc("GET "+adminPrefix+"/install/unlock", s.handleUnlock)

	mux.HandleFunc("GET "+dataPrefix+"/data/project", s.handleProjects)
	mux.HandleFunc("GET "+dataPrefix+"/data/categories", s.handleCategories)
	admin("POST "+dataPrefix+"/data/clear", s.handleClearStorage)
	mux.HandleFunc("GET "+dataPrefix+"/install-state", s.handleInstallState)
	mux.HandleFunc("GET "+dataPrefix+"/messages", s.handleMessages)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())

	return s.instrument(mux)
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Apply runs composer install inside the request.
		WriteTimeout: 15 * time.Minute,
	}

	logging.Infof("Starting server on %s", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SystemCheckResponse is the payload of the system check endpoint
type SystemCheckResponse struct {
	Success bool                      `json:"success"`
	Checks  []systemcheck.CheckResult `json:"checks"`
}

func (s *Server) handleSystemCheck(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, SystemCheckResponse{Success: true})
		return
	}
	results := s.checker.Run(r.Context())
	writeJSON(w, http.StatusOK, SystemCheckResponse{
		Success: len(systemcheck.Errors(results)) == 0,
		Checks:  results,
	})
}
