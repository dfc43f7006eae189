package model

import "time"

// PasswordResetToken is a single-use, time-boxed password recovery
// credential owned by one admin. The raw token is never stored.
type PasswordResetToken struct {
	ID          int64      `db:"id"`
	AdminUserID int64      `db:"admin_user_id"`
	TokenHash   string     `db:"token_hash"`
	ExpiresAt   time.Time  `db:"expires_at"`
	ConsumedAt  *time.Time `db:"consumed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Usable reports whether the token is unconsumed and unexpired at now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}
