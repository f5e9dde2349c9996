package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	t.Parallel()

	hasher := NewPasswordHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, hasher.Verify("correct horse battery staple", hash))
	assert.False(t, hasher.Verify("wrong password", hash))
}

func TestPasswordHasher_SaltedHashesDiffer(t *testing.T) {
	t.Parallel()

	hasher := NewPasswordHasher()

	hash1, err := hasher.Hash("pw123")
	require.NoError(t, err)
	hash2, err := hasher.Hash("pw123")
	require.NoError(t, err)

	// Same password, fresh salt, different stored value; both must verify
	assert.NotEqual(t, hash1, hash2)
	assert.True(t, hasher.Verify("pw123", hash1))
	assert.True(t, hasher.Verify("pw123", hash2))
}

func TestPasswordHasher_VerifyMalformedHash(t *testing.T) {
	t.Parallel()

	hasher := NewPasswordHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"wrong part count", "$argon2id$v=19$m=65536,t=3,p=4$onlyonepart"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$!!!$AAAA"},
		{"bad hash encoding", "$argon2id$v=19$m=65536,t=3,p=4$AAAA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.False(t, hasher.Verify("pw123", tt.hash))
		})
	}
}
