// Package auth implements credential registration and the access/refresh
// token lifecycle: register, login, refresh (with rotation) and logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatapp/auth-service/internal/ids"
	"github.com/chatapp/auth-service/internal/token"
)

// Service orchestrates the auth flows. All collaborators are injected; the
// service holds no package-level state and no signing material of its own.
type Service struct {
	store Store
	codec *token.Codec
	log   *zap.Logger
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, codec *token.Codec, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store: store,
		codec: codec,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail lower-cases and trims an email address. Applied before any
// lookup or insert so the unique index compares canonical values.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new credential record. The email existence check is
// advisory; the unique index inside the transaction is the final authority,
// so a concurrent duplicate insert also comes back as ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (*UserCredential, error) {
	email = NormalizeEmail(email)

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &UserCredential{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
	}
	err = s.store.WithinTx(ctx, func(tx Store) error {
		return tx.Users().Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*UserCredential, TokenPair, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, fmt.Errorf("lookup email: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.mintTokens(ctx, user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh validates a refresh token against its persisted record and rotates
// it: the old record is deleted and a new pair is issued atomically.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (TokenPair, error) {
	claims, err := s.codec.Verify(rawRefresh, token.KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	record, err := s.store.RefreshTokens().Find(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Signature checks out but the record is gone: logged out or
			// already rotated. Possible token reuse, worth the log line.
			s.log.Warn("revoked refresh token presented", zap.String("user_id", claims.Subject))
			return TokenPair{}, ErrTokenRevoked
		}
		return TokenPair{}, fmt.Errorf("lookup refresh record: %w", err)
	}
	if record.UserID != claims.Subject {
		s.log.Warn("refresh token subject mismatch",
			zap.String("record_user", record.UserID), zap.String("claim_user", claims.Subject))
		return TokenPair{}, ErrTokenRevoked
	}

	access, accessExp, err := s.codec.IssueAccess(record.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, tokenID, refreshExp, err := s.codec.IssueRefresh(record.UserID)
	if err != nil {
		return TokenPair{}, err
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.RefreshTokens().Delete(ctx, claims.TokenID); err != nil {
			return err
		}
		return tx.RefreshTokens().Create(ctx, &RefreshToken{
			UserID:    record.UserID,
			TokenID:   tokenID,
			ExpiresAt: refreshExp,
		})
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("rotate refresh record: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout revokes the refresh token by deleting its record. Deleting an
// absent record is not an error, so logout is idempotent.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	claims, err := s.codec.Verify(rawRefresh, token.KindRefresh)
	if err != nil {
		return err
	}
	if _, err := s.store.RefreshTokens().Delete(ctx, claims.TokenID); err != nil {
		return fmt.Errorf("delete refresh record: %w", err)
	}
	return nil
}

// LogoutAll revokes every refresh token the user has outstanding. Used for
// logout-everywhere and after password changes.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.RefreshTokens().DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh records: %w", err)
	}
	if n > 0 {
		s.log.Info("revoked all sessions", zap.String("user_id", userID), zap.Int64("revoked", n))
	}
	return n, nil
}

// DeleteAccount removes the credential record. Refresh records go with it
// via the foreign key cascade; the store fake mirrors that in tests.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	err := s.store.WithinTx(ctx, func(tx Store) error {
		return tx.Users().Delete(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.log.Info("account deleted", zap.String("user_id", userID))
	return nil
}

// Authenticate verifies an access token statelessly and returns the subject.
func (s *Service) Authenticate(rawAccess string) (string, error) {
	claims, err := s.codec.Verify(rawAccess, token.KindAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// User loads a credential record by id.
func (s *Service) User(ctx context.Context, id string) (*UserCredential, error) {
	return s.store.Users().Find(ctx, id)
}

// SweepExpired removes refresh records whose expiry has passed. Run
// periodically; expired tokens already fail signature-side, this just keeps
// the table from growing without bound.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.RefreshTokens().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("swept expired refresh tokens", zap.Int64("deleted", n))
	}
	return n, nil
}

func (s *Service) mintTokens(ctx context.Context, userID string) (TokenPair, error) {
	access, accessExp, err := s.codec.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, tokenID, refreshExp, err := s.codec.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}
	err = s.store.RefreshTokens().Create(ctx, &RefreshToken{
		UserID:    userID,
		TokenID:   tokenID,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("save refresh record: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
