package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/authgate/authgate/internal/logging"
	"github.com/authgate/authgate/internal/user"
)

// Service orchestrates the authentication use cases: registration, login,
// email verification and session validation. It owns no state of its own;
// the credential store is the only shared mutable resource.
type Service struct {
	userRepo     UserRepository
	userCache    UserCache
	verification *VerificationManager
	tokens       TokenService
	hasher       *PasswordHasher
	emailService EmailService
	logger       *logging.Logger
}

func NewService(
	userRepo UserRepository,
	userCache UserCache,
	verification *VerificationManager,
	tokens TokenService,
	hasher *PasswordHasher,
	emailService EmailService,
	logger *logging.Logger,
) *Service {
	return &Service{
		userRepo:     userRepo,
		userCache:    userCache,
		verification: verification,
		tokens:       tokens,
		hasher:       hasher,
		emailService: emailService,
		logger:       logger,
	}
}

// Register creates an unverified account, kicks off the verification email
// and logs the new user straight in. The email send is fire-and-forget:
// a delivery failure is logged but never fails registration.
func (s *Service) Register(ctx context.Context, email, password, origin string) (string, *user.User, error) {
	email = normalizeEmail(email)

	if err := validateRegistration(email, password); err != nil {
		return "", nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash password: %w", err)
	}

	code, codeExpiresAt, err := s.verification.NewCode()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	// The unique constraint on email makes duplicate detection atomic; a
	// failed insert leaves no partial state behind
	newUser, err := s.userRepo.Create(ctx, email, passwordHash, code, codeExpiresAt)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return "", nil, user.ErrDuplicateEmail
		}
		return "", nil, fmt.Errorf("failed to create user: %w", err)
	}

	go func() {
		// Detached context: the send must outlive the request
		emailCtx := context.Background()
		if err := s.emailService.SendVerificationEmail(emailCtx, email, code, origin); err != nil {
			s.logger.Warn("failed to send verification email", "email", email, "error", err)
		}
	}()

	token, err := s.tokens.CreateToken(newUser.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return token, newUser.Sanitized(), nil
}

// Login authenticates by email and password and issues a fresh session
// token. Unknown email and wrong password are deliberately the same error.
// Verification status is not checked: unverified users may log in.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Verify(password, existing.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.CreateToken(existing.ID)
	if err != nil {
		return "", fmt.Errorf("failed to create session token: %w", err)
	}

	return token, nil
}

// VerifyEmail consumes a verification code, flipping the holder to verified
// exactly once. See VerificationManager.Consume for the error contract.
func (s *Service) VerifyEmail(ctx context.Context, code string) error {
	verified, err := s.verification.Consume(ctx, code)
	if err != nil {
		return err
	}

	// The cached copy still says unverified; drop it
	if err := s.userCache.Invalidate(ctx, verified.ID); err != nil {
		s.logger.Warn("failed to invalidate cached user", "user_id", verified.ID, "error", err)
	}

	s.logger.Info("email verified", "user_id", verified.ID)
	return nil
}

// ValidateSession resolves a bearer token to its sanitized user. Any
// verifier failure, expiry included, surfaces as ErrInvalidToken.
func (s *Service) ValidateSession(ctx context.Context, token string) (*user.User, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if cached, err := s.userCache.Get(ctx, userID); err == nil {
		return cached, nil
	} else if !errors.Is(err, user.ErrNotFound) {
		s.logger.Warn("user cache lookup failed", "user_id", userID, "error", err)
	}

	existing, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.userCache.Set(ctx, existing); err != nil {
		s.logger.Warn("failed to cache user", "user_id", userID, "error", err)
	}

	return existing.Sanitized(), nil
}

// ResendVerificationEmail issues a fresh code (invalidating the old one) and
// re-sends the verification email. Always returns nil for unknown or
// already-verified emails to prevent enumeration.
func (s *Service) ResendVerificationEmail(ctx context.Context, email, origin string) error {
	email = normalizeEmail(email)

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		s.logger.Warn("failed to get user for resend verification", "error", err)
		return nil
	}

	if existing.EmailVerified {
		return nil
	}

	code, err := s.verification.Issue(ctx, existing.ID)
	if err != nil {
		s.logger.Warn("failed to issue verification code", "error", err)
		return nil
	}

	go func() {
		emailCtx := context.Background()
		if err := s.emailService.SendVerificationEmail(emailCtx, email, code, origin); err != nil {
			s.logger.Warn("failed to resend verification email", "email", email, "error", err)
		}
	}()

	return nil
}

// validateRegistration only guards the invariants the core cares about;
// schema-level checks (format, length policies) belong to the HTTP layer.
func validateRegistration(email, password string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if password == "" {
		return ErrPasswordRequired
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
