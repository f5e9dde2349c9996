package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// login failures do not reveal which one it was.
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")

	// ErrCodeNotFound means no user currently holds the verification code,
	// including codes that were already consumed.
	ErrCodeNotFound = errors.New("verification code not found")
	ErrCodeExpired  = errors.New("verification code has expired")

	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")

	// ErrUserNotFound means a session token verified fine but its subject no
	// longer resolves to a user.
	ErrUserNotFound = errors.New("user not found for token subject")
)
