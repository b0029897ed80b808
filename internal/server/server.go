package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/betagouv/magicauth/internal/auth"
	"github.com/betagouv/magicauth/internal/config"
	"github.com/betagouv/magicauth/internal/email"
	"github.com/betagouv/magicauth/internal/handler"
	"github.com/betagouv/magicauth/internal/middleware"
	"github.com/betagouv/magicauth/internal/otp"
	"github.com/betagouv/magicauth/internal/redirect"
	"github.com/betagouv/magicauth/internal/store"
	"github.com/betagouv/magicauth/internal/token"
)

type Server struct {
	db           *sql.DB
	authH        *handler.AuthHandler
	otpH         *handler.OTPHandler
	sessionStore *store.SessionStore
	tokenStore   *store.TokenStore
	userStore    *store.UserStore
	logger       *slog.Logger
}

// New wires the stores and handlers together. Backend configuration
// errors surface here rather than on the first login attempt.
func New(db *sql.DB, cfg *config.Config, emailClient *email.Client, logger *slog.Logger) (*Server, error) {
	userStore := store.NewUserStore(db)
	tokenStore := store.NewTokenStore(db)
	sessionStore := store.NewSessionStore(db, cfg.SessionDuration())
	otpStore := store.NewOTPStore(db)

	if !store.ValidIdentityField(cfg.IdentityField) {
		return nil, fmt.Errorf("unknown identity field %q", cfg.IdentityField)
	}

	registry := auth.NewRegistry(cfg.AuthBackend, auth.NewCookieBackend(sessionStore))
	if _, err := registry.Resolve(); err != nil {
		return nil, fmt.Errorf("auth backend configuration: %w", err)
	}

	policy := token.NewPolicy(tokenStore, cfg.TokenDuration())
	guard := redirect.NewGuard(cfg.LoggedInRedirectURL, cfg.AllowedRedirectHosts, cfg.RedirectRequireHTTPS)

	if !emailClient.Configured() {
		logger.Warn("email client not fully configured, login emails will fail")
	}

	var authOpts []handler.AuthOption
	var otpH *handler.OTPHandler
	if cfg.OTPEnabled {
		verifier := otp.NewVerifier(otpStore, "magicauth")
		authOpts = append(authOpts, handler.WithSecondFactor(verifier))
		otpH = handler.NewOTPHandler(verifier, otpStore, userStore, logger.With("component", "otp"))
	}

	authH := handler.NewAuthHandler(
		userStore,
		tokenStore,
		sessionStore,
		policy,
		guard,
		registry,
		emailClient,
		cfg.IdentityField,
		cfg.WaitSeconds,
		logger.With("component", "auth"),
		authOpts...,
	)

	return &Server{
		db:           db,
		authH:        authH,
		otpH:         otpH,
		sessionStore: sessionStore,
		tokenStore:   tokenStore,
		userStore:    userStore,
		logger:       logger,
	}, nil
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// TokenStore returns the token store for cleanup tasks.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokenStore
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /login", s.authH.LoginPage)
	outerMux.HandleFunc("POST /login", s.authH.Login)
	outerMux.HandleFunc("GET /email-sent", s.authH.EmailSentPage)
	outerMux.HandleFunc("GET /login/wait/{key}", s.authH.Wait)
	outerMux.HandleFunc("GET /login/validate/{key}", s.authH.Validate)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes behind RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)

	if s.otpH != nil {
		mux.HandleFunc("GET /api/otp/devices", s.otpH.ListDevices)
		mux.HandleFunc("POST /api/otp/devices", s.otpH.CreateDevice)
		mux.HandleFunc("POST /api/otp/devices/{id}/confirm", s.otpH.ConfirmDevice)
		mux.HandleFunc("DELETE /api/otp/devices/{id}", s.otpH.DeleteDevice)
		mux.HandleFunc("POST /api/otp/recovery-codes", s.otpH.RegenerateRecoveryCodes)
	}
}
