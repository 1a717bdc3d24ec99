// Package token issues and verifies the signed access and refresh tokens
// used by the auth service. The codec is the only component holding signing
// key material; everything else handles tokens as opaque strings.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the two token families. They are signed with distinct
// secrets so that compromise of one cannot forge the other.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const minSecretLen = 32

var (
	// ErrExpired indicates a well-formed token whose expiry has passed.
	ErrExpired = errors.New("token: expired")
	// ErrSignature indicates a malformed token or a signature mismatch.
	ErrSignature = errors.New("token: invalid signature")
	// ErrKind indicates a valid token of the wrong family, e.g. an access
	// token presented where a refresh token is required.
	ErrKind = errors.New("token: wrong token kind")
	// ErrSigning indicates the signer itself failed. Treated as fatal by
	// callers.
	ErrSigning = errors.New("token: signing failed")
)

// Claims is the verified subset of the JWT payload the service acts on.
type Claims struct {
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Config carries the externally supplied signing material and lifetimes.
// Secrets are provided by the environment; the codec never generates or
// stores them itself.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

// Codec signs and verifies access and refresh tokens (HS256).
type Codec struct {
	cfg Config
}

// NewCodec validates the configuration and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < minSecretLen {
		return nil, fmt.Errorf("token: access secret must be at least %d bytes", minSecretLen)
	}
	if len(cfg.RefreshSecret) < minSecretLen {
		return nil, fmt.Errorf("token: refresh secret must be at least %d bytes", minSecretLen)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: TTLs must be greater than zero")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Codec{cfg: cfg}, nil
}

// IssueAccess signs a short-lived access token for the given user. Access
// tokens are self-contained: verification never touches the store.
func (c *Codec) IssueAccess(userID string) (string, time.Time, error) {
	return c.sign(userID, KindAccess, uuid.NewString())
}

// IssueRefresh signs a refresh token and returns the random token identifier
// embedded in it. The caller must persist the identifier; a refresh token
// whose identifier is no longer on record is treated as revoked.
func (c *Codec) IssueRefresh(userID string) (token string, tokenID string, expiresAt time.Time, err error) {
	tokenID = uuid.NewString()
	token, expiresAt, err = c.sign(userID, KindRefresh, tokenID)
	return token, tokenID, expiresAt, err
}

func (c *Codec) sign(userID string, kind Kind, tokenID string) (string, time.Time, error) {
	now := c.cfg.Now()
	exp := now.Add(c.ttl(kind))
	claims := jwtClaims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        tokenID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and token family. Tokens of the other
// family are reported as ErrKind rather than ErrSignature so the caller can
// log the misuse distinctly; clients see the same 401 either way.
func (c *Codec) Verify(raw string, kind Kind) (Claims, error) {
	claims, err := c.parse(raw, kind)
	if err == nil {
		if Kind(claims.TokenType) != kind {
			return Claims{}, ErrKind
		}
		return toClaims(claims), nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpired
	}
	// A token signed with the counterpart secret fails signature checks
	// here. Classify it as a kind mismatch when the other secret accepts it.
	if _, otherErr := c.parse(raw, counterpart(kind)); otherErr == nil || errors.Is(otherErr, jwt.ErrTokenExpired) {
		return Claims{}, ErrKind
	}
	return Claims{}, ErrSignature
}

func (c *Codec) parse(raw string, kind Kind) (*jwtClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(c.cfg.Now)}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrSignature
		}
		return c.secret(kind), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrSignature
	}
	return claims, nil
}

func (c *Codec) secret(kind Kind) []byte {
	if kind == KindRefresh {
		return c.cfg.RefreshSecret
	}
	return c.cfg.AccessSecret
}

func (c *Codec) ttl(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.cfg.RefreshTTL
	}
	return c.cfg.AccessTTL
}

func counterpart(kind Kind) Kind {
	if kind == KindAccess {
		return KindRefresh
	}
	return KindAccess
}

func toClaims(c *jwtClaims) Claims {
	out := Claims{Subject: c.Subject, TokenID: c.ID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
