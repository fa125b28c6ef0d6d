package model

import "time"

// Session is a server-side record backing an issued bearer token. Tokens
// are JWTs; the session row exists so sign-out can revoke them.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
