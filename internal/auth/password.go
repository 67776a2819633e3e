package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedCredential is returned when an encoded operator password hash
// cannot be parsed.
var ErrMalformedCredential = errors.New("auth: malformed password hash")

// Cost parameters for newly hashed passwords. Parsed hashes keep the
// parameters they were created with.
var defaultArgon = argonParams{memory: 64 * 1024, time: 1, threads: 4}

const (
	argonSaltLen = 16
	argonKeyLen  = 32
)

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

// OperatorCredential is the parsed operator password hash checked on login.
type OperatorCredential struct {
	params argonParams
	salt   []byte
	key    []byte
}

// HashPassword derives an Argon2id key for password and returns it in the
// self-describing form
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
//
// with salt and key in unpadded base64.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	p := defaultArgon
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// ParseCredential parses a hash produced by HashPassword. The server parses
// the configured hash once at startup so a bad value fails fast.
func ParseCredential(encoded string) (*OperatorCredential, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return nil, ErrMalformedCredential
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedCredential, fields[2])
	}
	var p argonParams
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, fmt.Errorf("%w: parameters: %v", ErrMalformedCredential, err)
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return nil, fmt.Errorf("%w: zero cost parameter", ErrMalformedCredential)
	}
	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt", ErrMalformedCredential)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrMalformedCredential)
	}
	return &OperatorCredential{params: p, salt: salt, key: key}, nil
}

// Verify reports whether password matches. The comparison is constant time.
func (c *OperatorCredential) Verify(password string) bool {
	if c == nil {
		return false
	}
	got := argon2.IDKey([]byte(password), c.salt, c.params.time, c.params.memory, c.params.threads, uint32(len(c.key)))
	return subtle.ConstantTimeCompare(got, c.key) == 1
}
