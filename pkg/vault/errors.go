package vault

import (
	"errors"
	"fmt"

	"github.com/passvault/passvault/pkg/crypto"
)

// Error categories. Every error returned by Store wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	// ErrConfig means the persisted vault settings are missing or damaged.
	ErrConfig = errors.New("vault: configuration error")

	// ErrCrypto means key derivation or decryption failed.
	ErrCrypto = errors.New("vault: cryptographic error")

	// ErrStorage means the backend could not be read or written.
	ErrStorage = errors.New("vault: storage error")

	// ErrState means the operation is not valid in the current state.
	ErrState = errors.New("vault: invalid state")
)

// Errors
var (
	ErrSaltMissing     = fmt.Errorf("%w: salt not found", ErrConfig)
	ErrHashMissing     = fmt.Errorf("%w: master password hash not found", ErrConfig)
	ErrVaultLocked     = fmt.Errorf("%w: vault is locked", ErrState)
	ErrVaultExists     = fmt.Errorf("%w: vault already exists", ErrState)
	ErrVaultNotCreated = fmt.Errorf("%w: vault has not been created", ErrState)
	ErrAlreadyUnlocked = fmt.Errorf("%w: vault is already unlocked", ErrState)
	ErrVaultBusy       = fmt.Errorf("%w: vault is in use by another process", ErrState)
	ErrOrphanedData    = fmt.Errorf("%w: vault data exists without a master password", ErrState)

	ErrInvalidPassword = errors.New("vault: invalid master password")
	ErrEntryNotFound   = errors.New("vault: entry not found")
	ErrEntryExists     = errors.New("vault: entry with this id already exists")
	ErrTitleRequired   = errors.New("vault: title is required")
	ErrSecretRequired  = errors.New("vault: password or token is required")
	ErrPasswordReused  = errors.New("vault: password was used recently")
	ErrWiped           = errors.New("vault: vault was wiped after too many failed attempts")
)

// ErrInsufficientDisk is returned before a write that would not fit.
var ErrInsufficientDisk = errors.New("vault: insufficient disk space")

// classify wraps a lower-level error with its category. Errors that already
// carry a category are returned unchanged; anything not cryptographic is a
// storage failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, cat := range []error{ErrConfig, ErrCrypto, ErrStorage, ErrState} {
		if errors.Is(err, cat) {
			return err
		}
	}

	cat := ErrStorage
	if isCryptoError(err) {
		cat = ErrCrypto
	}
	return fmt.Errorf("%w: %s: %w", cat, op, err)
}

func isCryptoError(err error) bool {
	for _, target := range []error{
		crypto.ErrDecryptionFailed,
		crypto.ErrCiphertextTooShort,
		crypto.ErrMalformedCiphertext,
		crypto.ErrInvalidPadding,
		crypto.ErrInvalidKeyLength,
		crypto.ErrUnknownMethod,
		crypto.ErrEmptySalt,
		crypto.ErrInvalidIterations,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
