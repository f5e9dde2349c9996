package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the persistence model for the users table.
// Emails are stored lower-cased and carry a unique constraint so duplicate
// detection happens in the store, not in application code.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                        uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email                     string     `bun:"email,notnull,unique"`
	PasswordHash              string     `bun:"password_hash,notnull"`
	EmailVerified             bool       `bun:"email_verified,notnull,default:false"`
	VerificationCode          *string    `bun:"verification_code"`
	VerificationCodeExpiresAt *time.Time `bun:"verification_code_expires_at"`
	CreatedAt                 time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt                 time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}
