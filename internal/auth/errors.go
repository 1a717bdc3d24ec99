package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrEmailTaken         = errors.New("auth: email already in use")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrTokenRevoked       = errors.New("auth: refresh token revoked")
)
