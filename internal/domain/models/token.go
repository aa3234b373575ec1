package models

import "time"

// RefreshToken represents a refresh token stored in the database.
// Only the peppered SHA-256 hash of the bearer string is persisted;
// ReplacedByHash links each rotated token to its single successor.
type RefreshToken struct {
	TokenHash      string
	UserID         int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	ReplacedByHash *string
}

// Active reports whether the token may still authorize a rotation.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
