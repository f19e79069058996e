package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// testKDF keeps derivation fast; production counts are asserted separately.
var testKDF = KDFParams{KeyIterations: 1000, HashIterations: 1000}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// TestDeriveKey tests the PBKDF2 key derivation function
func TestDeriveKey(t *testing.T) {
	password := []byte("test-password-123")
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	if len(salt) != SaltLength {
		t.Fatalf("GenerateSalt() length = %d, want %d", len(salt), SaltLength)
	}

	key, err := testKDF.DeriveKey(password, salt)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	// Same password + salt produces same key (deterministic)
	key2, _ := testKDF.DeriveKey(password, salt)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	differentKey, _ := testKDF.DeriveKey([]byte("different-password"), salt)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different password should produce different key")
	}

	otherSalt, _ := GenerateSalt()
	differentKey, _ = testKDF.DeriveKey(password, otherSalt)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
}

func TestDeriveKeyRejectsBadInput(t *testing.T) {
	if _, err := testKDF.DeriveKey([]byte("pw"), nil); !errors.Is(err, ErrEmptySalt) {
		t.Errorf("DeriveKey(nil salt) error = %v, want ErrEmptySalt", err)
	}
	bad := KDFParams{KeyIterations: 0, HashIterations: 1}
	if _, err := bad.DeriveKey([]byte("pw"), []byte("salt")); !errors.Is(err, ErrInvalidIterations) {
		t.Errorf("DeriveKey(0 iterations) error = %v, want ErrInvalidIterations", err)
	}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidIterations) {
		t.Errorf("Validate() error = %v, want ErrInvalidIterations", err)
	}
}

// TestKDFParameters verifies the production parameters
func TestKDFParameters(t *testing.T) {
	p := DefaultKDFParams()
	if p.KeyIterations < 120000 {
		t.Errorf("KeyIterations = %d, want >= 120000", p.KeyIterations)
	}
	if p.HashIterations < 120000 {
		t.Errorf("HashIterations = %d, want >= 120000", p.HashIterations)
	}
	if KeyLength != 32 {
		t.Errorf("KeyLength = %d, want 32 (256-bit)", KeyLength)
	}
	if SaltLength != 32 {
		t.Errorf("SaltLength = %d, want 32", SaltLength)
	}
}

func TestVerificationHashIsNotTheKey(t *testing.T) {
	salt, _ := GenerateSalt()
	password := []byte("correct horse")

	key, _ := testKDF.DeriveKey(password, salt)
	hash, err := testKDF.DeriveVerificationHash(password, salt)
	if err != nil {
		t.Fatalf("DeriveVerificationHash() error = %v", err)
	}
	if bytes.Equal(key, hash) {
		t.Error("verification hash must differ from the encryption key")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, _ := GenerateSalt()
	password := []byte("correct horse")
	hash, _ := testKDF.DeriveVerificationHash(password, salt)

	if !testKDF.VerifyPassword(password, salt, hash) {
		t.Error("VerifyPassword() with correct password = false, want true")
	}
	if testKDF.VerifyPassword([]byte("wrong horse"), salt, hash) {
		t.Error("VerifyPassword() with wrong password = true, want false")
	}
	if testKDF.VerifyPassword(password, nil, hash) {
		t.Error("VerifyPassword() with missing salt = true, want false")
	}
	if testKDF.VerifyPassword(password, salt, nil) {
		t.Error("VerifyPassword() with missing hash = true, want false")
	}
	broken := KDFParams{KeyIterations: 1, HashIterations: 0}
	if broken.VerifyPassword(password, salt, hash) {
		t.Error("VerifyPassword() with broken params = true, want false")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintexts := [][]byte{
		[]byte("x"),
		[]byte("secret data to encrypt"),
		bytes.Repeat([]byte("a"), 16), // exactly one block
		bytes.Repeat([]byte("b"), 1000),
		[]byte("日本語のパスワード"),
	}

	for _, method := range []Method{MethodGCM, MethodCBC} {
		for _, pt := range plaintexts {
			payload, err := Encrypt(key, pt, method)
			if err != nil {
				t.Fatalf("Encrypt(%s) error = %v", method, err)
			}
			got, err := Decrypt(key, payload, method)
			if err != nil {
				t.Fatalf("Decrypt(%s) error = %v", method, err)
			}
			if !bytes.Equal(got, pt) {
				t.Errorf("Decrypt(%s) = %q, want %q", method, got, pt)
			}
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	key := randomKey(t)
	for _, method := range []Method{MethodGCM, MethodCBC} {
		a, _ := EncryptString(key, "same", method)
		b, _ := EncryptString(key, "same", method)
		if a == b {
			t.Errorf("%s: two encryptions of the same plaintext are identical", method)
		}
	}
}

func TestPayloadLayout(t *testing.T) {
	key := randomKey(t)

	text, err := EncryptString(key, "hello", MethodGCM)
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if len(raw) != GCMNonceLength+len("hello")+GCMTagLength {
		t.Errorf("GCM payload length = %d, want %d", len(raw), GCMNonceLength+5+GCMTagLength)
	}

	text, _ = EncryptString(key, "hello", MethodCBC)
	raw, _ = base64.StdEncoding.DecodeString(text)
	if len(raw) != CBCIVLength+16 {
		t.Errorf("CBC payload length = %d, want %d", len(raw), CBCIVLength+16)
	}
}

// TestGCMTamperDetection flips every bit of a payload and expects failure.
func TestGCMTamperDetection(t *testing.T) {
	key := randomKey(t)
	payload, err := Encrypt(key, []byte("tamper-evident"), MethodGCM)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for i := 0; i < len(payload)*8; i++ {
		tampered := append([]byte(nil), payload...)
		tampered[i/8] ^= 1 << (i % 8)
		got, err := Decrypt(key, tampered, MethodGCM)
		if err == nil {
			t.Fatalf("bit %d: Decrypt() returned %q, want error", i, got)
		}
		if !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("bit %d: Decrypt() error = %v, want ErrDecryptionFailed", i, err)
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	payload, _ := Encrypt(randomKey(t), []byte("data"), MethodGCM)
	if _, err := Decrypt(randomKey(t), payload, MethodGCM); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

// TestCBCHasNoIntegrity documents that CBC corruption is not reliably detected.
func TestCBCHasNoIntegrity(t *testing.T) {
	key := randomKey(t)
	payload, _ := Encrypt(key, bytes.Repeat([]byte("z"), 40), MethodCBC)

	// Corrupting the IV changes the first block without any error.
	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0x01
	got, err := Decrypt(key, tampered, MethodCBC)
	if err != nil {
		t.Fatalf("Decrypt() error = %v, want silent corruption", err)
	}
	if bytes.Equal(got, bytes.Repeat([]byte("z"), 40)) {
		t.Error("Decrypt() of corrupted IV returned the original plaintext")
	}
}

func TestEmptyPlaintextIsNoOp(t *testing.T) {
	key := randomKey(t)
	for _, method := range []Method{MethodGCM, MethodCBC} {
		text, err := EncryptString(key, "", method)
		if err != nil || text != "" {
			t.Errorf("EncryptString(%s, \"\") = %q, %v; want \"\", nil", method, text, err)
		}
		plain, err := DecryptString(key, "", method)
		if err != nil || plain != "" {
			t.Errorf("DecryptString(%s, \"\") = %q, %v; want \"\", nil", method, plain, err)
		}
	}
}

func TestMalformedCiphertext(t *testing.T) {
	key := randomKey(t)

	tests := []struct {
		name   string
		text   string
		method Method
		want   error
	}{
		{"gcm too short", base64.StdEncoding.EncodeToString(make([]byte, 5)), MethodGCM, ErrCiphertextTooShort},
		{"cbc too short", base64.StdEncoding.EncodeToString(make([]byte, 8)), MethodCBC, ErrCiphertextTooShort},
		{"cbc iv only", base64.StdEncoding.EncodeToString(make([]byte, 16)), MethodCBC, ErrMalformedCiphertext},
		{"cbc partial block", base64.StdEncoding.EncodeToString(make([]byte, 20)), MethodCBC, ErrMalformedCiphertext},
		{"not base64", "!!not-base64!!", MethodGCM, ErrMalformedCiphertext},
		{"gcm nonce only", base64.StdEncoding.EncodeToString(make([]byte, 12)), MethodGCM, ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptString(key, tt.text, tt.method)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecryptString() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInvalidKeyAndMethod(t *testing.T) {
	if _, err := Encrypt(make([]byte, 16), []byte("x"), MethodGCM); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Encrypt(short key) error = %v, want ErrInvalidKeyLength", err)
	}
	if _, err := Decrypt(make([]byte, 16), []byte("x"), MethodGCM); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Decrypt(short key) error = %v, want ErrInvalidKeyLength", err)
	}
	if _, err := Encrypt(randomKey(t), []byte("x"), Method("rot13")); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("Encrypt(unknown method) error = %v, want ErrUnknownMethod", err)
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"aes-256-gcm", MethodGCM, false},
		{"AES_256_GCM", MethodGCM, false},
		{"aes-256-cbc", MethodCBC, false},
		{" AES_256_CBC ", MethodCBC, false},
		{"des", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMethod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMethod(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !MethodGCM.Authenticated() || MethodCBC.Authenticated() {
		t.Error("only GCM should report Authenticated")
	}
	if !strings.Contains(MethodCBC.String(), "CBC") {
		t.Errorf("MethodCBC.String() = %q", MethodCBC.String())
	}
}

func TestSessionKey(t *testing.T) {
	raw := randomKey(t)
	want := append([]byte(nil), raw...)

	k, err := NewSessionKey(raw)
	if err != nil {
		t.Fatalf("NewSessionKey() error = %v", err)
	}
	if !bytes.Equal(raw, make([]byte, KeyLength)) {
		t.Error("NewSessionKey() should wipe the source slice")
	}
	if !bytes.Equal(k.Bytes(), want) {
		t.Error("SessionKey.Bytes() does not match the original key")
	}

	k.Destroy()
	if k.Alive() {
		t.Error("SessionKey still alive after Destroy")
	}
	if k.Bytes() != nil {
		t.Error("SessionKey.Bytes() should be nil after Destroy")
	}
	k.Destroy() // second call is a no-op

	if _, err := NewSessionKey(make([]byte, 8)); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("NewSessionKey(short) error = %v, want ErrInvalidKeyLength", err)
	}
}

// TestSecureWipe tests the secure memory wiping function
func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive data that should be wiped")
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte at index %d = %d, want 0", i, b)
		}
	}

	// Empty and nil slices are fine
	SecureWipe([]byte{})
	SecureWipe(nil)
}
