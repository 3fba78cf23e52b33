package model

import "errors"

var (
	// Input errors
	ErrValidationFailed = errors.New("validation failed")
	ErrUnknownRole      = errors.New("unknown role")

	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token related errors
	ErrAuthRequired    = errors.New("authentication required")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenMalformed  = errors.New("token malformed")
	ErrRefreshExpired  = errors.New("refresh token expired")
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrTokenConflict   = errors.New("refresh token already issued")

	// Permission related errors
	ErrForbidden = errors.New("forbidden")

	// Storage errors, translated by the service layer
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
)
