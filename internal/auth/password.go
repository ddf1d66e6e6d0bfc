// Passwords are hashed with Argon2id, a memory-hard KDF. Every call to Hash
// draws a fresh random salt, and the salt plus the cost parameters travel
// inside the returned string, so Verify needs nothing but the string itself.
//
// Hash format (PHC string):
//
//	$argon2id$v=19$m=65536,t=1,p=4$<base64 salt>$<base64 key>
//	          ^    ^       ^   ^
//	          |    |       |   parallelism (threads)
//	          |    |       iterations
//	          |    memory in KiB
//	          argon2 version

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost parameters used for new hashes.
type Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams follow the OWASP recommendation for argon2id.
var DefaultParams = Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Limits applied to parameters decoded from a stored hash. A hash outside
// these bounds is treated as malformed instead of being computed.
const (
	maxTime    = 16
	maxMemory  = 512 * 1024
	minSaltLen = 8
	maxSaltLen = 64
	minKeyLen  = 16
	maxKeyLen  = 64
)

// PasswordService provides argon2id hashing and verification.
type PasswordService struct {
	params Params
	rand   io.Reader

	dummyOnce sync.Once
	dummyHash string
}

// NewPasswordService creates a PasswordService with DefaultParams.
func NewPasswordService() *PasswordService {
	return &PasswordService{params: DefaultParams, rand: rand.Reader}
}

// NewPasswordServiceForTest creates a PasswordService with custom (cheap)
// parameters. Use this in tests in other packages to avoid allocating 64 MiB
// per hash.
//
// Do NOT use in production.
func NewPasswordServiceForTest(params Params) *PasswordService {
	return &PasswordService{params: params, rand: rand.Reader}
}

// WithRand returns a PasswordService with the same parameters that draws
// salts from r.
func (p *PasswordService) WithRand(r io.Reader) *PasswordService {
	return &PasswordService{params: p.params, rand: r}
}

// TestParams are the cheapest parameters argon2 accepts with a realistic
// salt and key size.
var TestParams = Params{
	Time:    1,
	Memory:  8,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

// Hash hashes the given plaintext password with argon2id.
//
// An error here means the entropy source failed. Callers must treat it as an
// internal fault and never fall back to a static salt.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	salt := make([]byte, p.params.SaltLen)
	if _, err := io.ReadFull(p.rand, salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.params.Time, p.params.Memory, p.params.Threads, p.params.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.params.Memory,
		p.params.Time,
		p.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the encoded hash.
//
// A malformed hash and a wrong password both return false; callers cannot
// tell them apart. The key comparison is constant-time.
func (p *PasswordService) Verify(plaintext, encoded string) bool {
	d, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	key := argon2.IDKey([]byte(plaintext), d.salt, d.time, d.memory, d.threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

// VerifyDummy spends the same work as a real Verify against a hash no
// password matches. Login calls it when the email is unknown so response
// time does not reveal whether an account exists.
func (p *PasswordService) VerifyDummy(plaintext string) {
	p.dummyOnce.Do(func() {
		h, err := p.Hash("dummy password for timing equalisation")
		if err != nil {
			return
		}
		p.dummyHash = h
	})
	if p.dummyHash == "" {
		return
	}
	_ = p.Verify(plaintext, p.dummyHash)
}

type decodedHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

func decodeHash(encoded string) (*decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("auth: invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, fmt.Errorf("auth: unsupported hash algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("auth: parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, fmt.Errorf("auth: parsing hash params: %w", err)
	}
	if time == 0 || time > maxTime {
		return nil, fmt.Errorf("auth: hash iterations %d out of range", time)
	}
	if threads == 0 || threads > 255 {
		return nil, fmt.Errorf("auth: hash parallelism %d out of range", threads)
	}
	if memory < 8*threads || memory > maxMemory {
		return nil, fmt.Errorf("auth: hash memory %d out of range", memory)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("auth: decoding salt: %w", err)
	}
	if len(salt) < minSaltLen || len(salt) > maxSaltLen {
		return nil, fmt.Errorf("auth: salt length %d out of range", len(salt))
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("auth: decoding key: %w", err)
	}
	if len(key) < minKeyLen || len(key) > maxKeyLen {
		return nil, fmt.Errorf("auth: key length %d out of range", len(key))
	}

	return &decodedHash{
		time:    time,
		memory:  memory,
		threads: uint8(threads),
		salt:    salt,
		key:     key,
	}, nil
}
