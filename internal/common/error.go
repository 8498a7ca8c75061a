// Package common defines sentinel errors shared by repositories, services
// and the HTTP layer. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// ErrUpstreamUnavailable means a collaborator such as the chat model
	// failed and nothing was persisted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// Account and OTP lifecycle.
	ErrAlreadyRegistered   = errors.New("user already registered")
	ErrOtpAlreadyPending   = errors.New("an unexpired verification code was already sent")
	ErrInvalidOrExpiredOtp = errors.New("invalid or expired verification code")
	ErrUserNotFound        = errors.New("user not found")

	// Token errors. Both collapse to ErrorUnauthorized at the edge.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
