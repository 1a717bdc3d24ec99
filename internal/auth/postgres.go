package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chatapp/auth-service/internal/ids"
)

// pgUniqueViolation is the Postgres error code for unique constraint
// violations. The unique index on email is the final authority for the
// registration race: two requests may both pass the existence check, but
// only one insert survives.
const pgUniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL via database/sql.
type PGStore struct {
	db *sql.DB // nil when transaction-scoped
	q  querier
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

func (s *PGStore) Users() UserStore                 { return &userStore{q: s.q} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{q: s.q} }

func (s *PGStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return errors.New("auth: nested transactions are not supported")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&PGStore{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// User store ---------------------------------------------------------------

type userStore struct{ q querier }

func (s *userStore) Create(ctx context.Context, u *UserCredential) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.q.QueryRowContext(ctx,
		`insert into user_credentials(id, email, display_name, password_hash)
		 values($1,$2,$3,$4)
		 returning created_at, updated_at`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash,
	)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*UserCredential, error) {
	return s.scanUser(s.q.QueryRowContext(ctx,
		`select id, email, display_name, password_hash, created_at, updated_at
		 from user_credentials where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*UserCredential, error) {
	return s.scanUser(s.q.QueryRowContext(ctx,
		`select id, email, display_name, password_hash, created_at, updated_at
		 from user_credentials where email=$1`, email))
}

func (s *userStore) scanUser(row *sql.Row) (*UserCredential, error) {
	var u UserCredential
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from user_credentials where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ q querier }

func (s *refreshTokenStore) Create(ctx context.Context, t *RefreshToken) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	row := s.q.QueryRowContext(ctx,
		`insert into refresh_tokens(id, user_id, token_id, expires_at)
		 values($1,$2,$3,$4)
		 returning created_at, updated_at`,
		t.ID, t.UserID, t.TokenID, t.ExpiresAt,
	)
	return row.Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (s *refreshTokenStore) Find(ctx context.Context, tokenID string) (*RefreshToken, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, user_id, token_id, expires_at, created_at, updated_at
		 from refresh_tokens where token_id=$1`, tokenID)
	var t RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenID, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *refreshTokenStore) Delete(ctx context.Context, tokenID string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `delete from refresh_tokens where token_id=$1`, tokenID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
