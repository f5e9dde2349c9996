package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/logging"
	"github.com/authgate/authgate/internal/user"
)

// fakeUserRepo is an in-memory credential store. It reproduces the
// conditional-update semantics of the Postgres repository: duplicate emails
// are rejected atomically and code consumption is keyed on the current code
// value under a lock.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*user.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, email, passwordHash, verificationCode string, codeExpiresAt time.Time) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return nil, user.ErrDuplicateEmail
		}
	}

	now := time.Now()
	u := &user.User{
		ID:                        uuid.New(),
		Email:                     email,
		PasswordHash:              passwordHash,
		VerificationCode:          &verificationCode,
		VerificationCodeExpiresAt: &codeExpiresAt,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	r.users[u.ID] = u

	clone := *u
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepo) GetByVerificationCode(_ context.Context, code string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if !u.EmailVerified && u.VerificationCode != nil && *u.VerificationCode == code {
			clone := *u
			return &clone, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) ConsumeVerificationCode(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if !u.EmailVerified && u.VerificationCode != nil && *u.VerificationCode == code {
			u.EmailVerified = true
			u.VerificationCode = nil
			u.VerificationCodeExpiresAt = nil
			u.UpdatedAt = time.Now()
			return nil
		}
	}
	return user.ErrNotFound
}

func (r *fakeUserRepo) UpdateVerificationCode(_ context.Context, userID uuid.UUID, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.EmailVerified {
		return user.ErrNotFound
	}
	u.VerificationCode = &code
	u.VerificationCodeExpiresAt = &expiresAt
	u.UpdatedAt = time.Now()
	return nil
}

// expireCode backdates a user's pending code for expiry tests
func (r *fakeUserRepo) expireCode(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	past := time.Now().Add(-time.Minute)
	r.users[id].VerificationCodeExpiresAt = &past
}

func (r *fakeUserRepo) pendingCode(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code := r.users[id].VerificationCode; code != nil {
		return *code
	}
	return ""
}

func (r *fakeUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// fakeUserCache is a map-backed UserCache
type fakeUserCache struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newFakeUserCache() *fakeUserCache {
	return &fakeUserCache{users: make(map[uuid.UUID]*user.User)}
}

func (c *fakeUserCache) Get(_ context.Context, id uuid.UUID) (*user.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (c *fakeUserCache) Set(_ context.Context, u *user.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.users[u.ID] = u.Sanitized()
	return nil
}

func (c *fakeUserCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.users, id)
	return nil
}

// fakeEmailService records sends and can be told to fail
type fakeEmailService struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	sends chan struct{}
}

func newFakeEmailService() *fakeEmailService {
	return &fakeEmailService{sends: make(chan struct{}, 16)}
}

func (e *fakeEmailService) SendVerificationEmail(_ context.Context, toEmail, code, origin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sends <- struct{}{}
	if e.fail {
		return errors.New("smtp unavailable")
	}
	e.sent = append(e.sent, toEmail)
	return nil
}

func (e *fakeEmailService) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-e.sends:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for verification email send")
	}
}

type testEnv struct {
	service *Service
	repo    *fakeUserRepo
	cache   *fakeUserCache
	email   *fakeEmailService
	tokens  *PasetoService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTokenTTL(t, time.Hour)
}

func newTestEnvWithTokenTTL(t *testing.T, tokenTTL time.Duration) *testEnv {
	t.Helper()

	tokens, err := NewPasetoService(testKey(), tokenTTL)
	require.NoError(t, err)

	repo := newFakeUserRepo()
	cache := newFakeUserCache()
	emailSvc := newFakeEmailService()
	logger := logging.NewLogger(true)

	service := NewService(
		repo,
		cache,
		NewVerificationManager(repo, 24*time.Hour),
		tokens,
		NewPasswordHasher(),
		emailSvc,
		logger,
	)

	return &testEnv{
		service: service,
		repo:    repo,
		cache:   cache,
		email:   emailSvc,
		tokens:  tokens,
	}
}

func TestRegisterLoginValidateRoundtrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	token, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "jane@example.com", registered.Email)
	assert.False(t, registered.EmailVerified)

	// Sanitized output: no hash, no code
	assert.Empty(t, registered.PasswordHash)
	assert.Nil(t, registered.VerificationCode)
	assert.Nil(t, registered.VerificationCodeExpiresAt)

	// The registration token validates to the same user
	fromToken, err := env.service.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, fromToken.ID)
	assert.False(t, fromToken.EmailVerified)
	assert.Empty(t, fromToken.PasswordHash)
	assert.Nil(t, fromToken.VerificationCode)

	// Login with the same credentials issues a fresh valid session
	loginToken, err := env.service.Login(ctx, "jane@example.com", "pw123")
	require.NoError(t, err)

	fromLogin, err := env.service.ValidateSession(ctx, loginToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, fromLogin.ID)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, registered, err := env.service.Register(ctx, "  Jane@Example.COM ", "pw123", "")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", registered.Email)

	// Login matches regardless of case
	_, err = env.service.Login(ctx, "JANE@example.com", "pw123")
	require.NoError(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)

	_, _, err = env.service.Register(ctx, "jane@example.com", "another-password", "")
	require.ErrorIs(t, err, user.ErrDuplicateEmail)

	// Case-insensitive match counts as duplicate too
	_, _, err = env.service.Register(ctx, "JANE@EXAMPLE.COM", "another-password", "")
	require.ErrorIs(t, err, user.ErrDuplicateEmail)

	// The failed attempts left no partial state
	assert.Equal(t, 1, env.repo.count())
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)

	_, wrongPassword := env.service.Login(ctx, "jane@example.com", "wrong")
	_, unknownEmail := env.service.Login(ctx, "nobody@example.com", "pw123")

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	// Same error kind, not just same family
	assert.Equal(t, wrongPassword, unknownEmail)
}

func TestLoginDoesNotRequireVerifiedEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)
	require.False(t, registered.EmailVerified)

	_, err = env.service.Login(ctx, "jane@example.com", "pw123")
	require.NoError(t, err)
}

func TestVerifyEmailIsSingleUse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)

	code := env.repo.pendingCode(registered.ID)
	require.NotEmpty(t, code)

	require.NoError(t, env.service.VerifyEmail(ctx, code))

	// Consumed codes are gone: second attempt is indistinguishable from an
	// unknown code
	err = env.service.VerifyEmail(ctx, code)
	require.ErrorIs(t, err, ErrCodeNotFound)

	u, err := env.repo.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.Nil(t, u.VerificationCode)
}

func TestVerifyEmailUnknownCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	err := env.service.VerifyEmail(context.Background(), "no-such-code")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)

	code := env.repo.pendingCode(registered.ID)
	env.repo.expireCode(registered.ID)

	err = env.service.VerifyEmail(ctx, code)
	require.ErrorIs(t, err, ErrCodeExpired)

	// The user stays unverified
	u, err := env.repo.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)
}

func TestVerifyEmailConcurrentConsume(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)
	code := env.repo.pendingCode(registered.ID)

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- env.service.VerifyEmail(ctx, code)
		}()
	}
	wg.Wait()
	close(results)

	var successes, notFound int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCodeNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes, "exactly one consumption must win")
	assert.Equal(t, attempts-1, notFound)
}

func TestValidateSessionExpiredToken(t *testing.T) {
	t.Parallel()

	env := newTestEnvWithTokenTTL(t, -1*time.Second)
	ctx := context.Background()

	token, _, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)

	_, err = env.service.ValidateSession(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateSessionGarbageToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.service.ValidateSession(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateSessionUnknownSubject(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	// Valid token for a user that does not exist in the store
	token, err := env.tokens.CreateToken(uuid.New())
	require.NoError(t, err)

	_, err = env.service.ValidateSession(context.Background(), token)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateSessionReflectsVerification(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	token, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)

	// First validation populates the cache with the unverified user
	u, err := env.service.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)

	require.NoError(t, env.service.VerifyEmail(ctx, env.repo.pendingCode(registered.ID)))

	// Verification invalidated the cached copy
	u, err = env.service.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
}

func TestRegisterSurvivesEmailSendFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.email.fail = true
	ctx := context.Background()

	token, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotNil(t, registered)

	// The send was attempted and failed; registration already succeeded
	env.email.waitForSend(t)

	_, err = env.service.Login(ctx, "jane@example.com", "pw123")
	require.NoError(t, err)
}

func TestRegisterSendsVerificationEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.service.Register(ctx, "jane@example.com", "pw123", "https://app.example.com")
	require.NoError(t, err)

	env.email.waitForSend(t)

	env.email.mu.Lock()
	defer env.email.mu.Unlock()
	require.Len(t, env.email.sent, 1)
	assert.Equal(t, "jane@example.com", env.email.sent[0])
}

func TestResendVerificationReplacesCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)
	env.email.waitForSend(t)

	oldCode := env.repo.pendingCode(registered.ID)

	require.NoError(t, env.service.ResendVerificationEmail(ctx, "jane@example.com", ""))
	env.email.waitForSend(t)

	newCode := env.repo.pendingCode(registered.ID)
	require.NotEmpty(t, newCode)
	require.NotEqual(t, oldCode, newCode)

	// Only one code can be active: the replaced one no longer verifies
	require.ErrorIs(t, env.service.VerifyEmail(ctx, oldCode), ErrCodeNotFound)
	require.NoError(t, env.service.VerifyEmail(ctx, newCode))
}

func TestResendVerificationHidesAccountExistence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// Unknown address: still nil
	require.NoError(t, env.service.ResendVerificationEmail(ctx, "nobody@example.com", ""))

	// Already verified: still nil, no new code issued
	_, registered, err := env.service.Register(ctx, "jane@example.com", "pw123", "")
	require.NoError(t, err)
	require.NoError(t, env.service.VerifyEmail(ctx, env.repo.pendingCode(registered.ID)))
	require.NoError(t, env.service.ResendVerificationEmail(ctx, "jane@example.com", ""))
	assert.Empty(t, env.repo.pendingCode(registered.ID))
}

func TestRegisterRequiresEmailAndPassword(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.service.Register(ctx, "", "pw123", "")
	require.ErrorIs(t, err, ErrEmailRequired)

	_, _, err = env.service.Register(ctx, "jane@example.com", "", "")
	require.ErrorIs(t, err, ErrPasswordRequired)
}
