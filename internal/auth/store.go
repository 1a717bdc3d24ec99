package auth

import (
	"context"
	"time"
)

// Store describes the persistence capabilities required by the auth
// subsystem. It is an interface so the service can be exercised against test
// doubles; the Postgres implementation lives in this package.
type Store interface {
	Users() UserStore
	RefreshTokens() RefreshTokenStore

	// WithinTx runs fn against a transaction-scoped Store. It commits when
	// fn returns nil and rolls back otherwise, propagating fn's error
	// unchanged. Nested calls are not supported.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// UserStore manages user credential records.
type UserStore interface {
	// Create inserts the user. A concurrent insert with the same email
	// surfaces as ErrEmailTaken, backed by the unique index.
	Create(ctx context.Context, u *UserCredential) error
	Find(ctx context.Context, id string) (*UserCredential, error)
	FindByEmail(ctx context.Context, email string) (*UserCredential, error)
	// Delete removes a user; refresh token records cascade in the schema.
	Delete(ctx context.Context, id string) error
}

// RefreshTokenStore manages the revocation records backing refresh tokens.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, tokenID string) (*RefreshToken, error)
	// Delete removes the record for tokenID and reports whether it existed.
	// Deleting an absent record is not an error.
	Delete(ctx context.Context, tokenID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
