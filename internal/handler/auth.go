package handler

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/betagouv/magicauth/internal/auth"
	"github.com/betagouv/magicauth/internal/model"
	"github.com/betagouv/magicauth/internal/redirect"
	"github.com/betagouv/magicauth/internal/store"
	"github.com/betagouv/magicauth/internal/token"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	flashCookieName  = "magicauth_flash"
	flashLinkInvalid = "link-invalid"

	linkInvalidMessage = "This login link no longer works. Enter your email below to receive a new one."
)

// Sender is the outbound mail capability. Send failures are hard
// failures for the login flow.
type Sender interface {
	SendLoginLink(toEmail, key, nextEncoded string) error
}

// SecondFactor verifies one-time codes for users with registered
// devices.
type SecondFactor interface {
	HasDevice(userID int64) (bool, error)
	Verify(userID int64, code string) (bool, error)
}

type AuthHandler struct {
	users    *store.UserStore
	tokens   *store.TokenStore
	sessions *store.SessionStore
	policy   *token.Policy
	guard    *redirect.Guard
	backends *auth.Registry
	sender   Sender

	secondFactor SecondFactor
	otpEnabled   bool

	identityField   string
	waitSeconds     int
	unknownIdentity UnknownIdentityFunc
	logger          *slog.Logger
}

type AuthOption func(*AuthHandler)

// WithUnknownIdentity replaces the strategy invoked when no user
// matches the submitted email.
func WithUnknownIdentity(fn UnknownIdentityFunc) AuthOption {
	return func(h *AuthHandler) {
		h.unknownIdentity = fn
	}
}

// WithSecondFactor enables the OTP gate for users that have a
// registered device.
func WithSecondFactor(sf SecondFactor) AuthOption {
	return func(h *AuthHandler) {
		h.secondFactor = sf
		h.otpEnabled = sf != nil
	}
}

func NewAuthHandler(
	us *store.UserStore,
	ts *store.TokenStore,
	ss *store.SessionStore,
	policy *token.Policy,
	guard *redirect.Guard,
	backends *auth.Registry,
	sender Sender,
	identityField string,
	waitSeconds int,
	logger *slog.Logger,
	opts ...AuthOption,
) *AuthHandler {
	h := &AuthHandler{
		users:           us,
		tokens:          ts,
		sessions:        ss,
		policy:          policy,
		guard:           guard,
		backends:        backends,
		sender:          sender,
		identityField:   identityField,
		waitSeconds:     waitSeconds,
		unknownIdentity: DefaultUnknownIdentity,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type loginPageData struct {
	Email       string
	Error       string
	Flash       string
	NextEncoded string
	ShowOTP     bool
}

// resolveNext applies the redirect guard to the next query parameter.
// On failure it writes the generic not-found response itself and
// returns false; the offending value is never logged.
func (h *AuthHandler) resolveNext(w http.ResponseWriter, r *http.Request) (string, bool) {
	next, err := h.guard.Resolve(r.URL.Query().Get("next"), r.Host)
	if err != nil {
		if errors.Is(err, redirect.ErrUnsafe) {
			h.logger.Warn("unsafe redirect target rejected in login flow")
			http.NotFound(w, r)
			return "", false
		}
		h.logger.Error("resolve next url", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return "", false
	}
	return next, true
}

// LoginPage shows the email form, or redirects callers that already
// hold a session straight to the guarded destination.
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	next, ok := h.resolveNext(w, r)
	if !ok {
		return
	}
	if user := h.currentUser(r); user != nil {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	templates.ExecuteTemplate(w, "login.html", loginPageData{
		Flash:       h.readFlash(w, r),
		NextEncoded: url.QueryEscape(next),
		ShowOTP:     h.otpEnabled,
	})
}

// Login handles the email submission: resolve the user, check the
// optional second factor, mint a token and email the link.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next, ok := h.resolveNext(w, r)
	if !ok {
		return
	}
	nextEncoded := url.QueryEscape(next)

	emailAddr := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	if emailAddr == "" {
		h.renderLoginError(w, "", nextEncoded, "Email is required.")
		return
	}

	user, err := h.users.FindByIdentity(h.identityField, emailAddr)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		if msg := h.unknownIdentity(emailAddr); msg != "" {
			h.renderLoginError(w, emailAddr, nextEncoded, msg)
			return
		}
		// Pretend success: no token, no email.
		http.Redirect(w, r, "/email-sent?next="+nextEncoded, http.StatusSeeOther)
		return
	}

	if h.otpEnabled {
		has, err := h.secondFactor.HasDevice(user.ID)
		if err != nil {
			h.logger.Error("second factor lookup", "error", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		if has {
			code := strings.TrimSpace(r.FormValue("otp_code"))
			valid := false
			if code != "" {
				valid, err = h.secondFactor.Verify(user.ID, code)
				if err != nil {
					h.logger.Error("second factor verify", "error", err)
					http.Error(w, "Internal error", http.StatusInternalServerError)
					return
				}
			}
			if !valid {
				h.renderLoginError(w, emailAddr, nextEncoded, "This one-time code is not valid.")
				return
			}
		}
	}

	tok, err := h.tokens.Create(user.ID)
	if err != nil {
		h.logger.Error("create login token", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// A login email that may not have gone out is a security-relevant
	// state: fail the request rather than pretending it was sent.
	if err := h.sender.SendLoginLink(user.Email, tok.Key, nextEncoded); err != nil {
		h.logger.Error("send login email", "error", err)
		http.Error(w, "Failed to send the login email", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/email-sent?next="+nextEncoded, http.StatusSeeOther)
}

func (h *AuthHandler) renderLoginError(w http.ResponseWriter, email, nextEncoded, msg string) {
	templates.ExecuteTemplate(w, "login.html", loginPageData{
		Email:       email,
		Error:       msg,
		NextEncoded: nextEncoded,
		ShowOTP:     h.otpEnabled,
	})
}

// EmailSentPage confirms the email dispatch.
func (h *AuthHandler) EmailSentPage(w http.ResponseWriter, r *http.Request) {
	next, ok := h.resolveNext(w, r)
	if !ok {
		return
	}
	templates.ExecuteTemplate(w, "email_sent.html", map[string]any{
		"NextEncoded": url.QueryEscape(next),
	})
}

// Wait renders the anti-prefetch page. Mail scanners that follow the
// emailed link land here and leave before the client-side refresh
// fires, so the single-use token survives until the human arrives.
// The token is not read or mutated.
func (h *AuthHandler) Wait(w http.ResponseWriter, r *http.Request) {
	next, ok := h.resolveNext(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")

	validateURL := "/login/validate/" + url.PathEscape(key) + "?next=" + url.QueryEscape(next)
	templates.ExecuteTemplate(w, "wait.html", map[string]any{
		"WaitSeconds": h.waitSeconds,
		"ValidateURL": validateURL,
	})
}

// Validate exchanges the emailed token for a session.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	next, ok := h.resolveNext(w, r)
	if !ok {
		return
	}

	// Already signed in: the token stays untouched so the link keeps
	// working in another browser.
	if user := h.currentUser(r); user != nil {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	key := r.PathValue("key")
	tok, err := h.policy.ResolveValid(key)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) || errors.Is(err, token.ErrExpired) {
			h.redirectLinkInvalid(w, r)
			return
		}
		h.logger.Error("resolve login token", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// Backend ambiguity is a configuration error; detect it before
	// anything is consumed or deleted.
	backend, err := h.backends.Resolve()
	if err != nil {
		h.logger.Error("resolve auth backend", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// Winner-takes-all: of two racing validations of the same key,
	// only the one that actually removes the row may log in.
	consumed, err := h.tokens.Consume(key)
	if err != nil {
		h.logger.Error("consume login token", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if !consumed {
		h.redirectLinkInvalid(w, r)
		return
	}

	user, err := h.users.GetByID(tok.UserID)
	if err != nil {
		h.logger.Error("validate user lookup", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		// Account deleted since the token was issued.
		h.redirectLinkInvalid(w, r)
		return
	}

	if _, err := backend.Login(w, r, user); err != nil {
		h.logger.Error("establish session", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// Invalidate every outstanding token for this user, not just the
	// one that was used: stale siblings from repeated login requests
	// die together.
	if err := h.tokens.DeleteAllForUser(user.ID); err != nil {
		h.logger.Error("delete tokens after login", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, next, http.StatusSeeOther)
}

// Logout deletes the session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if ac, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessions.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *AuthHandler) currentUser(r *http.Request) *model.User {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := h.sessions.GetByToken(cookie.Value)
	if err != nil || sess == nil {
		return nil
	}
	user, err := h.users.GetByID(sess.UserID)
	if err != nil {
		return nil
	}
	return user
}

func (h *AuthHandler) redirectLinkInvalid(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    flashLinkInvalid,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *AuthHandler) readFlash(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	if cookie.Value == flashLinkInvalid {
		return linkInvalidMessage
	}
	return ""
}
