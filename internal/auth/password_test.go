package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =========================================================================
// HELPER
// =========================================================================

// newTestPasswordService returns a PasswordService with minimal argon2
// memory so tests run in milliseconds.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(TestParams)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputIsPHCString(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("password123")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8,t=1,p=1$"), "unexpected hash prefix: %q", hash)
	assert.Len(t, strings.Split(hash, "$"), 6)
}

func TestHash_DefaultParamsAreEmbedded(t *testing.T) {
	ps := NewPasswordService()

	hash, err := ps.Hash("x")
	require.NoError(t, err)

	assert.Contains(t, hash, "$m=65536,t=1,p=4$")
	assert.True(t, ps.Verify("x", hash))
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := newTestPasswordService()

	hash1, err := ps.Hash("same-password")
	require.NoError(t, err)
	hash2, err := ps.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, hash1, hash2, "salt must be random per call")
	assert.True(t, ps.Verify("same-password", hash1))
	assert.True(t, ps.Verify("same-password", hash2))
}

func TestHash_EntropyFailureIsAnError(t *testing.T) {
	ps := newTestPasswordService()
	ps.rand = failingReader{}

	hash, err := ps.Hash("password")

	require.Error(t, err)
	assert.Empty(t, hash)
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_WrongPassword(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("the-real-password")
	require.NoError(t, err)

	assert.False(t, ps.Verify("the-wrong-password", hash))
	assert.False(t, ps.Verify("", hash))
}

func TestVerify_HashFromOtherParamsStillVerifies(t *testing.T) {
	cheap := newTestPasswordService()
	other := NewPasswordServiceForTest(Params{Time: 2, Memory: 16, Threads: 2, SaltLen: 24, KeyLen: 48})

	hash, err := other.Hash("portable")
	require.NoError(t, err)

	assert.True(t, cheap.Verify("portable", hash), "verify must read params from the hash, not the service")
}

func TestVerify_MalformedHashes(t *testing.T) {
	ps := newTestPasswordService()

	good, err := ps.Hash("pw")
	require.NoError(t, err)
	parts := strings.Split(good, "$")

	cases := map[string]string{
		"empty":             "",
		"garbage":           "not-a-valid-hash",
		"bcrypt":            "$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
		"wrong algorithm":   "$argon2i$" + strings.Join(parts[2:], "$"),
		"wrong version":     "$argon2id$v=16$" + strings.Join(parts[3:], "$"),
		"missing params":    "$argon2id$v=19$$" + parts[4] + "$" + parts[5],
		"zero iterations":   "$argon2id$v=19$m=8,t=0,p=1$" + parts[4] + "$" + parts[5],
		"huge memory":       "$argon2id$v=19$m=4294967295,t=1,p=1$" + parts[4] + "$" + parts[5],
		"huge iterations":   "$argon2id$v=19$m=8,t=4000000,p=1$" + parts[4] + "$" + parts[5],
		"threads overflow":  "$argon2id$v=19$m=8,t=1,p=256$" + parts[4] + "$" + parts[5],
		"bad salt encoding": "$argon2id$v=19$m=8,t=1,p=1$!!!$" + parts[5],
		"bad key encoding":  "$argon2id$v=19$m=8,t=1,p=1$" + parts[4] + "$!!!",
		"short key":         "$argon2id$v=19$m=8,t=1,p=1$" + parts[4] + "$AAAA",
		"extra segment":     good + "$extra",
		"leading text":      "x" + good,
	}

	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, ps.Verify("pw", encoded))
		})
	}
}

func TestVerifyDummy_DoesNotPanic(t *testing.T) {
	ps := newTestPasswordService()

	ps.VerifyDummy("anything")
	ps.VerifyDummy("anything else")

	assert.NotEmpty(t, ps.dummyHash)
}

// =========================================================================
// ROUND-TRIP TEST
// =========================================================================

func TestHashVerify_RoundTrip(t *testing.T) {
	ps := newTestPasswordService()

	cases := []struct {
		name     string
		password string
	}{
		{"simple alphanumeric", "hello123"},
		{"special characters", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"whitespace", "  leading and trailing  "},
		{"long", strings.Repeat("a", 1024)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ps.Hash(tc.password)
			require.NoError(t, err)

			assert.True(t, ps.Verify(tc.password, hash))
			assert.False(t, ps.Verify(tc.password+"x", hash))
		})
	}
}
