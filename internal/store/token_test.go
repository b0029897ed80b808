package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/betagouv/magicauth/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	us := NewUserStore(db)
	u, err := us.Create(email, "", "")
	if err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return u.ID
}

func TestTokenCreate(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	tok, err := ts.Create(userID)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if len(tok.Key) != 40 {
		t.Errorf("key length = %d, want 40", len(tok.Key))
	}
	if tok.UserID != userID {
		t.Errorf("user_id = %d, want %d", tok.UserID, userID)
	}
	if tok.CreatedAt.IsZero() {
		t.Error("expected non-zero created_at")
	}
}

func TestTokenCreateDistinctKeys(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		tok, err := ts.Create(userID)
		if err != nil {
			t.Fatalf("create token %d: %v", i, err)
		}
		if seen[tok.Key] {
			t.Fatalf("duplicate key %q", tok.Key)
		}
		seen[tok.Key] = true
	}
}

func TestTokenGetByKey(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	created, _ := ts.Create(userID)

	tok, err := ts.GetByKey(created.Key)
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if tok == nil {
		t.Fatal("expected token, got nil")
	}
	if tok.Key != created.Key {
		t.Errorf("key = %q, want %q", tok.Key, created.Key)
	}
}

func TestTokenGetByKeyNotFound(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)

	tok, err := ts.GetByKey("nonexistent")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if tok != nil {
		t.Error("expected nil for nonexistent key")
	}
}

func TestTokenDeleteIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	created, _ := ts.Create(userID)

	if err := ts.Delete(created.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Second delete is a no-op
	if err := ts.Delete(created.Key); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	tok, _ := ts.GetByKey(created.Key)
	if tok != nil {
		t.Error("expected nil after delete")
	}
}

func TestTokenConsumeOnce(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	created, _ := ts.Create(userID)

	ok, err := ts.Consume(created.Key)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok {
		t.Fatal("first consume should win")
	}

	ok, err = ts.Consume(created.Key)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Error("second consume should observe the token as absent")
	}
}

func TestTokenDeleteAllForUser(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	aliceID := createTestUser(t, db, "alice@example.com")
	bobID := createTestUser(t, db, "bob@example.com")

	ts.Create(aliceID)
	ts.Create(aliceID)
	bobTok, _ := ts.Create(bobID)

	if err := ts.DeleteAllForUser(aliceID); err != nil {
		t.Fatalf("delete all for user: %v", err)
	}

	n, err := ts.CountForUser(aliceID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("alice tokens = %d, want 0", n)
	}

	// Other users' tokens are untouched
	tok, _ := ts.GetByKey(bobTok.Key)
	if tok == nil {
		t.Error("bob's token should survive")
	}

	// Idempotent when nothing remains
	if err := ts.DeleteAllForUser(aliceID); err != nil {
		t.Fatalf("repeat delete all: %v", err)
	}
}

func TestTokenDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	old, _ := ts.Create(userID)
	if _, err := db.Exec(
		`UPDATE magic_tokens SET created_at = ? WHERE key = ?`,
		time.Now().UTC().Add(-time.Hour), old.Key,
	); err != nil {
		t.Fatalf("backdate token: %v", err)
	}
	fresh, _ := ts.Create(userID)

	count, err := ts.DeleteExpired(time.Now().UTC().Add(-5 * time.Minute))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}

	if tok, _ := ts.GetByKey(old.Key); tok != nil {
		t.Error("old token should be gone")
	}
	if tok, _ := ts.GetByKey(fresh.Key); tok == nil {
		t.Error("fresh token should remain")
	}
}
