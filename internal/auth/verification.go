package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/internal/user"
)

// VerificationManager issues and consumes single-use email verification
// codes. Codes are opaque random strings stored on the user record; the
// store's conditional update is what enforces the single-use guarantee.
type VerificationManager struct {
	userRepo UserRepository
	codeTTL  time.Duration
}

func NewVerificationManager(userRepo UserRepository, codeTTL time.Duration) *VerificationManager {
	return &VerificationManager{
		userRepo: userRepo,
		codeTTL:  codeTTL,
	}
}

// NewCode generates a cryptographically random code and its expiry. Used at
// registration time, before the user row exists.
func (m *VerificationManager) NewCode() (string, time.Time, error) {
	code, err := generateRandomCode()
	if err != nil {
		return "", time.Time{}, err
	}
	return code, time.Now().Add(m.codeTTL), nil
}

// Issue stores a fresh code for an existing unverified user, replacing any
// pending one so at most one code is active per user.
func (m *VerificationManager) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	code, expiresAt, err := m.NewCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	if err := m.userRepo.UpdateVerificationCode(ctx, userID, code, expiresAt); err != nil {
		return "", err
	}

	return code, nil
}

// Consume atomically looks up and invalidates a verification code. A code
// that was already consumed, or never existed, fails with ErrCodeNotFound;
// a known but stale code fails with ErrCodeExpired and leaves the user
// unverified.
func (m *VerificationManager) Consume(ctx context.Context, code string) (*user.User, error) {
	pending, err := m.userRepo.GetByVerificationCode(ctx, code)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up verification code: %w", err)
	}

	if pending.VerificationCodeExpiresAt == nil || time.Now().After(*pending.VerificationCodeExpiresAt) {
		return nil, ErrCodeExpired
	}

	// Conditional update keyed on the code value: under concurrent attempts
	// only one caller flips the flag, the rest race into ErrNotFound
	if err := m.userRepo.ConsumeVerificationCode(ctx, code); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}

	return pending, nil
}

// generateRandomCode creates a cryptographically secure opaque code
func generateRandomCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
