package backup

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/passvault/passvault/pkg/crypto"
)

// HMACLength is the length of the trailing HMAC-SHA256.
const HMACLength = sha256.Size

// HKDF info strings for key derivation.
const (
	hkdfInfoEncryption = "passvault-backup-encryption"
	hkdfInfoMAC        = "passvault-backup-mac"
)

// deriveKeys derives the payload key and the MAC key from password. Both
// come from one PBKDF2 run split with HKDF.
func deriveKeys(password string, kdf KDFHeader) (encKey, macKey []byte, err error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}
	pw := []byte(password)
	defer crypto.SecureWipe(pw)

	params := crypto.KDFParams{KeyIterations: kdf.Iterations, HashIterations: kdf.Iterations}
	master, err := params.DeriveKey(pw, kdf.Salt)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(master)

	encKey, err = expand(master, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	macKey, err = expand(master, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

func expand(secret []byte, info string) ([]byte, error) {
	key := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func computeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
