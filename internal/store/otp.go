package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/betagouv/magicauth/internal/model"
)

// OTPStore persists TOTP devices and their recovery codes.
type OTPStore struct {
	db *sql.DB
}

func NewOTPStore(db *sql.DB) *OTPStore {
	return &OTPStore{db: db}
}

func scanOTPDevice(scanner interface{ Scan(...any) error }) (*model.OTPDevice, error) {
	var d model.OTPDevice
	var confirmedAt sql.NullTime

	err := scanner.Scan(&d.ID, &d.UserID, &d.Name, &d.Secret, &confirmedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		d.ConfirmedAt = &confirmedAt.Time
	}
	return &d, nil
}

const otpDeviceCols = `id, user_id, name, secret, confirmed_at, created_at`

func (s *OTPStore) CreateDevice(userID int64, name, secret string) (*model.OTPDevice, error) {
	result, err := s.db.Exec(
		`INSERT INTO otp_devices (user_id, name, secret) VALUES (?, ?, ?)`,
		userID, name, secret,
	)
	if err != nil {
		return nil, fmt.Errorf("insert otp device: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+otpDeviceCols+` FROM otp_devices WHERE id = ?`, id)
	return scanOTPDevice(row)
}

// GetDevice returns the device only if it belongs to the given user.
func (s *OTPStore) GetDevice(id, userID int64) (*model.OTPDevice, error) {
	row := s.db.QueryRow(
		`SELECT `+otpDeviceCols+` FROM otp_devices WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	d, err := scanOTPDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp device: %w", err)
	}
	return d, nil
}

func (s *OTPStore) ListForUser(userID int64) ([]*model.OTPDevice, error) {
	return s.listDevices(`SELECT `+otpDeviceCols+` FROM otp_devices WHERE user_id = ? ORDER BY created_at`, userID)
}

func (s *OTPStore) ListConfirmedForUser(userID int64) ([]*model.OTPDevice, error) {
	return s.listDevices(`SELECT `+otpDeviceCols+` FROM otp_devices WHERE user_id = ? AND confirmed_at IS NOT NULL ORDER BY created_at`, userID)
}

func (s *OTPStore) listDevices(query string, userID int64) ([]*model.OTPDevice, error) {
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("list otp devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.OTPDevice
	for rows.Next() {
		d, err := scanOTPDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan otp device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *OTPStore) MarkConfirmed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE otp_devices SET confirmed_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("confirm otp device: %w", err)
	}
	return nil
}

func (s *OTPStore) DeleteDevice(id, userID int64) error {
	_, err := s.db.Exec(`DELETE FROM otp_devices WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete otp device: %w", err)
	}
	return nil
}

// ReplaceRecoveryCodes drops all of a user's recovery codes and stores
// a fresh set of hashes.
func (s *OTPStore) ReplaceRecoveryCodes(userID int64, hashes []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM otp_recovery_codes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear recovery codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.Exec(
			`INSERT INTO otp_recovery_codes (user_id, code_hash) VALUES (?, ?)`,
			userID, h,
		); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}
	return tx.Commit()
}

// ListUnusedRecoveryCodes returns recovery codes not yet consumed.
func (s *OTPStore) ListUnusedRecoveryCodes(userID int64) ([]*model.OTPRecoveryCode, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, code_hash, used_at, created_at FROM otp_recovery_codes WHERE user_id = ? AND used_at IS NULL`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []*model.OTPRecoveryCode
	for rows.Next() {
		var c model.OTPRecoveryCode
		var usedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &usedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recovery code: %w", err)
		}
		if usedAt.Valid {
			c.UsedAt = &usedAt.Time
		}
		codes = append(codes, &c)
	}
	return codes, rows.Err()
}

// MarkRecoveryCodeUsed consumes a recovery code. Reports whether this
// call consumed it, so a racing login cannot reuse the same code.
func (s *OTPStore) MarkRecoveryCodeUsed(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE otp_recovery_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark recovery code used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
