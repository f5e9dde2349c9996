package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                        uuid.UUID  `json:"id"`
	Email                     string     `json:"email"`
	PasswordHash              string     `json:"-"` // never expose the hash
	EmailVerified             bool       `json:"email_verified"`
	VerificationCode          *string    `json:"-"`
	VerificationCodeExpiresAt *time.Time `json:"-"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// Sanitized returns a copy safe to hand back to callers: no password hash,
// no pending verification code.
func (u *User) Sanitized() *User {
	return &User{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
