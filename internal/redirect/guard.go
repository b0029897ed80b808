// Package redirect validates caller-supplied post-login destinations
// so a crafted login link cannot bounce the user to a foreign host.
package redirect

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
)

// ErrUnsafe is returned for any destination that fails the safety
// check. Callers surface it as a generic not-found failure and must
// not log the offending value.
var ErrUnsafe = errors.New("unsafe redirect target")

// Guard checks "next" destinations against the request host and an
// allow-list. The zero requirement is a same-origin relative path;
// absolute URLs must name the request host or an allow-listed one.
type Guard struct {
	defaultTarget string
	allowedHosts  map[string]bool
	requireHTTPS  bool
}

func NewGuard(defaultTarget string, allowedHosts []string, requireHTTPS bool) *Guard {
	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = true
		}
	}
	return &Guard{
		defaultTarget: defaultTarget,
		allowedHosts:  hosts,
		requireHTTPS:  requireHTTPS,
	}
}

// DefaultTarget returns the configured logged-in landing target.
func (g *Guard) DefaultTarget() string {
	return g.defaultTarget
}

// Resolve returns the destination to redirect to. An absent next
// falls back to the default target; a present one must pass the
// safety check or the whole request fails with ErrUnsafe.
func (g *Guard) Resolve(next, requestHost string) (string, error) {
	if next == "" {
		return g.defaultTarget, nil
	}
	if !g.isSafe(next, requestHost) {
		return "", ErrUnsafe
	}
	return next, nil
}

// isSafe mirrors the usual browser-aware host/scheme check: the URL is
// checked both as given and with backslashes flattened to slashes,
// since Chrome treats \ in paths as /.
func (g *Guard) isSafe(raw, requestHost string) bool {
	if strings.TrimSpace(raw) != raw {
		return false
	}
	return g.check(raw, requestHost) &&
		g.check(strings.ReplaceAll(raw, "\\", "/"), requestHost)
}

func (g *Guard) check(raw, requestHost string) bool {
	if raw == "" {
		return false
	}
	// Control characters up front can smuggle scheme separators.
	if unicode.IsControl(rune(raw[0])) {
		return false
	}
	if strings.HasPrefix(raw, "///") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	// Reject URLs like http:///example.com that hide the host in the path.
	if u.Host == "" && u.Scheme != "" {
		return false
	}

	if u.Host != "" {
		host := strings.ToLower(u.Host)
		if !strings.EqualFold(host, requestHost) && !g.allowedHosts[host] {
			return false
		}
	}

	scheme := u.Scheme
	if scheme == "" && u.Host != "" {
		scheme = "http"
	}
	if scheme != "" {
		if g.requireHTTPS {
			return scheme == "https"
		}
		return scheme == "http" || scheme == "https"
	}
	return true
}
