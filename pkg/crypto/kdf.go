package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters.
const (
	// SaltLength is the length of the vault salt in bytes (256 bits).
	SaltLength = 32

	// DefaultKeyIterations is the PBKDF2 iteration count for the encryption key.
	DefaultKeyIterations = 120000

	// DefaultHashIterations is the PBKDF2 iteration count for the verifier.
	DefaultHashIterations = 120000

	// MinIterations is the lowest iteration count accepted outside tests.
	MinIterations = 120000

	// HashLength is the length of the password verifier in bytes.
	HashLength = 32
)

// verifierContext separates the verifier's PBKDF2 input from the key's, so
// the stored verifier is never equal to (or a function of) the encryption key
// even when both iteration counts match.
var verifierContext = []byte("passvault/verify/v1")

var (
	// ErrEmptySalt indicates key derivation was requested without a salt.
	ErrEmptySalt = errors.New("crypto: salt must not be empty")

	// ErrInvalidIterations indicates a non-positive iteration count.
	ErrInvalidIterations = errors.New("crypto: iteration count must be positive")
)

// KDFParams configures PBKDF2 for the key and for the verifier independently.
type KDFParams struct {
	KeyIterations  int
	HashIterations int
}

// DefaultKDFParams returns the production iteration counts.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		KeyIterations:  DefaultKeyIterations,
		HashIterations: DefaultHashIterations,
	}
}

// Validate checks that both iteration counts are usable.
func (p KDFParams) Validate() error {
	if p.KeyIterations < 1 || p.HashIterations < 1 {
		return ErrInvalidIterations
	}
	return nil
}

// GenerateSalt returns SaltLength cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 256-bit encryption key from a password using
// PBKDF2-HMAC-SHA256. The result is deterministic for a (password, salt) pair.
func (p KDFParams) DeriveKey(password, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	if p.KeyIterations < 1 {
		return nil, ErrInvalidIterations
	}
	return pbkdf2.Key(password, salt, p.KeyIterations, KeyLength, sha256.New), nil
}

// DeriveVerificationHash derives the value stored to check the master
// password. It uses the same KDF family with its own iteration count and a
// domain-separated salt.
func (p KDFParams) DeriveVerificationHash(password, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	if p.HashIterations < 1 {
		return nil, ErrInvalidIterations
	}
	verifierSalt := make([]byte, 0, len(salt)+len(verifierContext))
	verifierSalt = append(verifierSalt, salt...)
	verifierSalt = append(verifierSalt, verifierContext...)
	return pbkdf2.Key(password, verifierSalt, p.HashIterations, HashLength, sha256.New), nil
}

// VerifyPassword recomputes the verifier and compares it in constant time.
// Any internal failure, including a panic inside the primitive, yields false.
func (p KDFParams) VerifyPassword(password, salt, storedHash []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(storedHash) == 0 {
		return false
	}
	computed, err := p.DeriveVerificationHash(password, salt)
	if err != nil {
		return false
	}
	defer SecureWipe(computed)

	return subtle.ConstantTimeCompare(computed, storedHash) == 1
}
