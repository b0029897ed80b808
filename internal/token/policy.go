// Package token layers the expiry and validity rules on top of the
// raw token store.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/betagouv/magicauth/internal/model"
	"github.com/betagouv/magicauth/internal/store"
)

var (
	ErrNotFound = errors.New("token not found")
	ErrExpired  = errors.New("token expired")
)

// Policy decides whether a presented token key is still usable.
type Policy struct {
	store    *store.TokenStore
	duration time.Duration
	now      func() time.Time
}

func NewPolicy(s *store.TokenStore, duration time.Duration) *Policy {
	return &Policy{store: s, duration: duration, now: time.Now}
}

// ResolveValid returns the token for the given key if it exists and is
// within its validity window. A token found past the window is deleted
// on the spot, so expired rows are purged the first time anyone tries
// to use them. Repeat queries then report ErrNotFound, which callers
// collapse into the same user-facing outcome.
func (p *Policy) ResolveValid(key string) (*model.MagicToken, error) {
	tok, err := p.store.GetByKey(key)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if tok == nil {
		return nil, ErrNotFound
	}
	if p.now().Sub(tok.CreatedAt) >= p.duration {
		if err := p.store.Delete(key); err != nil {
			return nil, fmt.Errorf("purge expired token: %w", err)
		}
		return nil, ErrExpired
	}
	return tok, nil
}
