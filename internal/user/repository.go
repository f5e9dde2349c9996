package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/authgate/authgate/internal/database"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrStoreUnavailable marks transient infrastructure failures so callers
	// can tell them apart from lookup misses. No retries happen here.
	ErrStoreUnavailable = errors.New("user store unavailable")
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// Repository persists users in Postgres via Bun
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new unverified user. The email must already be normalized
// (lower-cased) by the caller; the unique index on email makes duplicate
// detection atomic in the store.
func (r *Repository) Create(ctx context.Context, email, passwordHash, verificationCode string, codeExpiresAt time.Time) (*User, error) {
	dbUser := &database.User{
		Email:                     email,
		PasswordHash:              passwordHash,
		EmailVerified:             false,
		VerificationCode:          &verificationCode,
		VerificationCodeExpiresAt: &codeExpiresAt,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("%w: create user: %v", ErrStoreUnavailable, err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email (case-insensitive)
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("lower(email) = lower(?)", email).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get user by email: %v", ErrStoreUnavailable, err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get user by id: %v", ErrStoreUnavailable, err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByVerificationCode retrieves the user currently holding the given
// pending verification code
func (r *Repository) GetByVerificationCode(ctx context.Context, code string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("verification_code = ?", code).
		Where("email_verified = ?", false).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get user by verification code: %v", ErrStoreUnavailable, err)
	}

	return mapDBUserToModel(dbUser), nil
}

// ConsumeVerificationCode marks the holder of the code as verified and
// clears the code in a single conditional update. The WHERE clause keys on
// the current code value, so under concurrent attempts exactly one update
// wins; the rest see zero rows and get ErrNotFound.
func (r *Repository) ConsumeVerificationCode(ctx context.Context, code string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verified = ?", true).
		Set("verification_code = NULL").
		Set("verification_code_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("verification_code = ?", code).
		Where("email_verified = ?", false).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("%w: consume verification code: %v", ErrStoreUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: consume verification code: %v", ErrStoreUnavailable, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateVerificationCode replaces a user's pending verification code,
// invalidating any prior one. Only unverified users are touched.
func (r *Repository) UpdateVerificationCode(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("verification_code = ?", code).
		Set("verification_code_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Where("email_verified = ?", false).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("%w: update verification code: %v", ErrStoreUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update verification code: %v", ErrStoreUnavailable, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// mapDBUserToModel converts the persistence model to the domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:                        dbu.ID,
		Email:                     dbu.Email,
		PasswordHash:              dbu.PasswordHash,
		EmailVerified:             dbu.EmailVerified,
		VerificationCode:          dbu.VerificationCode,
		VerificationCodeExpiresAt: dbu.VerificationCodeExpiresAt,
		CreatedAt:                 dbu.CreatedAt,
		UpdatedAt:                 dbu.UpdatedAt,
	}
}
