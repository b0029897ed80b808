package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/betagouv/magicauth/internal/model"
	"github.com/betagouv/magicauth/internal/store"
)

// SessionCookieName carries the session token between requests.
const SessionCookieName = "magicauth_session"

var (
	ErrNoBackend = errors.New("no auth backend registered")
	// ErrAmbiguousBackend means more than one backend is registered
	// and the configuration does not say which one logs users in.
	// The choice is never guessed.
	ErrAmbiguousBackend = errors.New("multiple auth backends registered without a configured default")
)

// Backend establishes an authenticated session for a user. Login is
// only called after the token (and, if enabled, the second factor)
// has been verified.
type Backend interface {
	Name() string
	Login(w http.ResponseWriter, r *http.Request, user *model.User) (*model.Session, error)
}

// Registry resolves which Backend handles logins. Ambiguity is a
// configuration error surfaced at startup, not a per-request fallback.
type Registry struct {
	backends    []Backend
	defaultName string
}

func NewRegistry(defaultName string, backends ...Backend) *Registry {
	return &Registry{backends: backends, defaultName: defaultName}
}

func (r *Registry) Resolve() (Backend, error) {
	switch {
	case len(r.backends) == 0:
		return nil, ErrNoBackend
	case r.defaultName == "":
		if len(r.backends) > 1 {
			return nil, ErrAmbiguousBackend
		}
		return r.backends[0], nil
	}
	for _, b := range r.backends {
		if b.Name() == r.defaultName {
			return b, nil
		}
	}
	return nil, fmt.Errorf("auth backend %q not registered: %w", r.defaultName, ErrAmbiguousBackend)
}

// CookieBackend stores sessions server-side and hands the browser an
// opaque token in an HttpOnly cookie.
type CookieBackend struct {
	sessions *store.SessionStore
}

func NewCookieBackend(sessions *store.SessionStore) *CookieBackend {
	return &CookieBackend{sessions: sessions}
}

func (b *CookieBackend) Name() string { return "cookie" }

func (b *CookieBackend) Login(w http.ResponseWriter, r *http.Request, user *model.User) (*model.Session, error) {
	sess, err := b.sessions.Create(user.ID)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	return sess, nil
}
