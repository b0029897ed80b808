package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/betagouv/magicauth/internal/model"
)

// TokenStore persists single-use login tokens. Keys are generated
// here; everything above this layer treats them as opaque strings.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.MagicToken, error) {
	var t model.MagicToken
	err := scanner.Scan(&t.Key, &t.UserID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const tokenCols = `key, user_id, created_at`

// generateKey returns 20 crypto-random bytes hex-encoded (160 bits).
func generateKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create generates a fresh random key and persists a token for the
// user. A primary-key collision means the random source is broken, so
// the insert error is returned as-is rather than retried.
func (s *TokenStore) Create(userID int64) (*model.MagicToken, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	createdAt := time.Now().UTC()

	_, err = s.db.Exec(
		`INSERT INTO magic_tokens (key, user_id, created_at) VALUES (?, ?, ?)`,
		key, userID, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert magic token: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+tokenCols+` FROM magic_tokens WHERE key = ?`, key)
	return scanToken(row)
}

// GetByKey returns the token with the given key, or nil if not found.
// Anything other than exactly one row counts as not found.
func (s *TokenStore) GetByKey(key string) (*model.MagicToken, error) {
	rows, err := s.db.Query(`SELECT `+tokenCols+` FROM magic_tokens WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("get magic token by key: %w", err)
	}
	defer rows.Close()

	var token *model.MagicToken
	for rows.Next() {
		if token != nil {
			// Duplicate keys mean the unique constraint is broken;
			// refuse to pick one.
			return nil, nil
		}
		token, err = scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan magic token: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get magic token by key: %w", err)
	}
	return token, nil
}

// Delete removes a single token. No-op if the key does not exist.
func (s *TokenStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM magic_tokens WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete magic token: %w", err)
	}
	return nil
}

// Consume deletes the token and reports whether this call removed it.
// When two validations race on the same key, exactly one caller sees
// true; session establishment is gated on that result.
func (s *TokenStore) Consume(key string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM magic_tokens WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("consume magic token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteAllForUser removes every outstanding token owned by the user,
// including stale siblings from repeated login requests. No-op if
// none exist.
func (s *TokenStore) DeleteAllForUser(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM magic_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete magic tokens for user: %w", err)
	}
	return nil
}

// CountForUser returns the number of outstanding tokens for a user.
func (s *TokenStore) CountForUser(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM magic_tokens WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count magic tokens: %w", err)
	}
	return n, nil
}

// DeleteExpired removes tokens created at or before the cutoff.
// Expiry is otherwise enforced lazily; this supports the optional
// periodic sweep.
func (s *TokenStore) DeleteExpired(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM magic_tokens WHERE created_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired magic tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
