// Package crypto provides the cryptographic primitives for passvault.
//
// This package implements PBKDF2-HMAC-SHA256 key derivation, a separate
// password verifier, and two payload ciphers: AES-256-GCM (authenticated,
// the default) and AES-256-CBC with PKCS#7 padding (legacy, confidentiality
// only).
//
// # Payload Format
//
// Every ciphertext is self-contained: the random nonce (GCM, 12 bytes) or
// IV (CBC, 16 bytes) is prepended to the encrypted bytes and the result is
// encoded with standard base64. The method is never inferred from the
// payload; callers must supply the method that was used to encrypt.
//
// # Example Usage
//
//	salt, _ := crypto.GenerateSalt()
//	kdf := crypto.DefaultKDFParams()
//	key, _ := kdf.DeriveKey([]byte("password"), salt)
//
//	text, _ := crypto.EncryptString(key, "hunter2", crypto.MethodGCM)
//	plain, _ := crypto.DecryptString(key, text, crypto.MethodGCM)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// GCMNonceLength is the length of GCM nonces in bytes (96 bits).
	GCMNonceLength = 12

	// GCMTagLength is the length of the GCM authentication tag in bytes (128 bits).
	GCMTagLength = 16

	// CBCIVLength is the length of CBC initialization vectors in bytes (128 bits).
	CBCIVLength = aes.BlockSize
)

// Method selects the cipher used for a payload.
type Method string

const (
	// MethodGCM is AES-256-GCM. It detects tampering and is the default.
	MethodGCM Method = "aes-256-gcm"

	// MethodCBC is AES-256-CBC with PKCS#7 padding. It is kept for vaults
	// created before GCM became the default and has no integrity check.
	MethodCBC Method = "aes-256-cbc"
)

// DefaultMethod is the method assigned to new vaults.
const DefaultMethod = MethodGCM

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrUnknownMethod indicates an unsupported encryption method.
	ErrUnknownMethod = errors.New("crypto: unknown encryption method")

	// ErrCiphertextTooShort indicates the payload cannot hold a nonce or IV.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrMalformedCiphertext indicates the payload is not valid base64 or
	// not a whole number of cipher blocks.
	ErrMalformedCiphertext = errors.New("crypto: malformed ciphertext")

	// ErrDecryptionFailed indicates authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrInvalidPadding indicates CBC padding did not verify after decryption.
	ErrInvalidPadding = errors.New("crypto: decryption failed, invalid padding")
)

// ParseMethod parses a method name. Matching is case-insensitive and accepts
// the legacy enum spellings AES_256_GCM and AES_256_CBC.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case string(MethodGCM):
		return MethodGCM, nil
	case string(MethodCBC):
		return MethodCBC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	return m == MethodGCM || m == MethodCBC
}

// String returns the display name of the method.
func (m Method) String() string {
	switch m {
	case MethodGCM:
		return "AES-256-GCM"
	case MethodCBC:
		return "AES-256-CBC"
	default:
		return "unknown"
	}
}

// Authenticated reports whether the method detects tampering.
func (m Method) Authenticated() bool {
	return m == MethodGCM
}

// Encrypt encrypts plaintext with the given method and returns nonce||ciphertext.
//
// A fresh random nonce (GCM) or IV (CBC) is generated for every call using
// crypto/rand, so encrypting the same plaintext twice yields different output.
func Encrypt(key, plaintext []byte, method Method) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	switch method {
	case MethodGCM:
		return encryptGCM(key, plaintext)
	case MethodCBC:
		return encryptCBC(key, plaintext)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(method))
	}
}

// Decrypt reverses Encrypt.
//
// For MethodGCM any corruption of the payload returns ErrDecryptionFailed and
// never a different plaintext. For MethodCBC corruption may surface as
// ErrInvalidPadding or as garbage plaintext.
func Decrypt(key, payload []byte, method Method) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	switch method {
	case MethodGCM:
		return decryptGCM(key, payload)
	case MethodCBC:
		return decryptCBC(key, payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(method))
	}
}

// EncryptString encrypts a UTF-8 string and returns the base64 payload.
// An empty plaintext maps to an empty payload.
func EncryptString(key []byte, plaintext string, method Method) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	input := []byte(plaintext)
	defer SecureWipe(input)

	payload, err := Encrypt(key, input, method)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptString decodes and decrypts a payload produced by EncryptString.
// An empty payload maps to an empty plaintext.
func DecryptString(key []byte, text string, method Method) (string, error) {
	plain, err := DecryptText(key, text, method)
	if err != nil {
		return "", err
	}
	defer SecureWipe(plain)
	return string(plain), nil
}

// DecryptText decodes and decrypts a base64 payload, returning the raw
// plaintext bytes so the caller can wipe them when done.
func DecryptText(key []byte, text string, method Method) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return Decrypt(key, payload, method)
}

// EncryptText encrypts raw bytes and returns the base64 payload.
// An empty plaintext maps to an empty payload.
func EncryptText(key, plaintext []byte, method Method) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	payload, err := Encrypt(key, plaintext, method)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

func encryptGCM(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, GCMNonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag to the nonce slice
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptGCM(key, payload []byte) ([]byte, error) {
	if len(payload) < GCMNonceLength {
		return nil, ErrCiphertextTooShort
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := payload[:GCMNonceLength]
	ciphertext := payload[GCMNonceLength:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagLength)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

func encryptCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	defer SecureWipe(padded)

	out := make([]byte, CBCIVLength+len(padded))
	iv := out[:CBCIVLength]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[CBCIVLength:], padded)
	return out, nil
}

func decryptCBC(key, payload []byte) ([]byte, error) {
	if len(payload) < CBCIVLength {
		return nil, ErrCiphertextTooShort
	}
	ciphertext := payload[CBCIVLength:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, payload[:CBCIVLength]).CryptBlocks(plain, ciphertext)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		SecureWipe(plain)
		return nil, err
	}
	return unpadded, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
