package model

import "time"

// OTPDevice is a registered TOTP generator (phone app or hardware
// token). A device only counts toward the second-factor requirement
// once it has been confirmed with a first valid code.
type OTPDevice struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Name        string     `json:"name"`
	Secret      string     `json:"-"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (d *OTPDevice) Confirmed() bool {
	return d.ConfirmedAt != nil
}

// OTPRecoveryCode holds the bcrypt hash of a single-use fallback code.
// The plaintext is shown to the user once, at generation time.
type OTPRecoveryCode struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	CodeHash  string     `json:"-"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}
