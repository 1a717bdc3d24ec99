package auth

import "time"

// UserCredential is a registered account. PasswordHash never leaves the
// service: it is excluded from JSON serialization and only compared through
// VerifyPassword.
type UserCredential struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken is the persisted side of an issued refresh token. TokenID is
// the random identifier embedded in the signed token; deleting the record
// revokes the token server-side.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenID   string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
