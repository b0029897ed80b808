package store

import (
	"database/sql"
	"fmt"

	"github.com/betagouv/magicauth/internal/model"
)

// Identity columns the email form may match against. The column name
// is interpolated into SQL, so anything outside this set is refused.
var identityColumns = map[string]bool{
	"email":    true,
	"username": true,
}

// ValidIdentityField reports whether the given user attribute can be
// used for login lookups.
func ValidIdentityField(field string) bool {
	return identityColumns[field]
}

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := scanner.Scan(&u.ID, &u.Email, &u.Username, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const userCols = `id, email, username, name, created_at, updated_at`

func (s *UserStore) Create(email, username, name string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, username, name) VALUES (?, ?, ?)`,
		email, username, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// FindByIdentity looks up a user by the configured identity column,
// case-insensitively. Returns nil if no user matches.
func (s *UserStore) FindByIdentity(field, value string) (*model.User, error) {
	if !ValidIdentityField(field) {
		return nil, fmt.Errorf("invalid identity field %q", field)
	}
	row := s.db.QueryRow(
		`SELECT `+userCols+` FROM users WHERE LOWER(`+field+`) = LOWER(?)`,
		value,
	)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w", field, err)
	}
	return u, nil
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
