package model

import "time"

// MagicToken is a single-use login credential. The key doubles as the
// primary lookup key and the bearer value embedded in the emailed link.
type MagicToken struct {
	Key       string    `json:"key"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
