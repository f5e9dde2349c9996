package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/internal/user"
)

// TokenService issues and verifies session tokens
type TokenService interface {
	CreateToken(userID uuid.UUID) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// UserRepository is the credential store boundary. Implementations must
// enforce email uniqueness on Create and conditional-on-current-code
// semantics on ConsumeVerificationCode.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash, verificationCode string, codeExpiresAt time.Time) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByVerificationCode(ctx context.Context, code string) (*user.User, error)
	ConsumeVerificationCode(ctx context.Context, code string) error
	UpdateVerificationCode(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) error
}

// UserCache caches sanitized users for session validation. Best-effort:
// failures are logged by callers, never propagated.
type UserCache interface {
	Get(ctx context.Context, id uuid.UUID) (*user.User, error)
	Set(ctx context.Context, u *user.User) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// EmailService sends account notifications
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, code, origin string) error
}
