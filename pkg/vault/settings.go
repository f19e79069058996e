package vault

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// SettingsFileName is the plaintext settings file inside the vault directory.
const SettingsFileName = "settings.yaml"

// Setting ranges
const (
	DefaultReuseCheckCount   = 3
	MinReuseCheckCount       = 1
	MaxReuseCheckCount       = 50
	DefaultWipeAfterAttempts = 2
	MinWipeAfterAttempts     = 1
	MaxWipeAfterAttempts     = 10
)

// Settings is the vault configuration that must be readable before the key
// exists. It never holds key material, only the salt and the verifier.
type Settings struct {
	Salt              string `yaml:"salt,omitempty"`        // base64
	MasterHash        string `yaml:"master_hash,omitempty"` // base64
	EncryptionMethod  string `yaml:"encryption_method"`
	StorageType       string `yaml:"storage_type"`
	ReuseCheckCount   int    `yaml:"reuse_check_count"`
	EnforceReuseCheck bool   `yaml:"enforce_reuse_check"`
	WipeAfterAttempts int    `yaml:"wipe_after_attempts"`
	PrankOnly         bool   `yaml:"prank_only"`
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() *Settings {
	return &Settings{
		EncryptionMethod:  string(crypto.DefaultMethod),
		StorageType:       string(storage.DefaultKind),
		ReuseCheckCount:   DefaultReuseCheckCount,
		EnforceReuseCheck: true,
		WipeAfterAttempts: DefaultWipeAfterAttempts,
	}
}

// LoadSettings reads the settings file. A missing file yields defaults;
// absent keys keep their default values.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read settings: %w", ErrConfig, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: failed to parse settings: %w", ErrConfig, err)
	}
	s.normalize()
	return s, nil
}

// Save writes the settings atomically with owner-only permissions.
func (s *Settings) Save(path string) error {
	s.normalize()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: failed to encode settings: %w", ErrConfig, err)
	}
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Clone returns a copy of s.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// normalize clamps numeric ranges.
func (s *Settings) normalize() {
	s.ReuseCheckCount = clamp(s.ReuseCheckCount, MinReuseCheckCount, MaxReuseCheckCount)
	s.WipeAfterAttempts = clamp(s.WipeAfterAttempts, MinWipeAfterAttempts, MaxWipeAfterAttempts)
}

// HasCredentials reports whether a salt and verifier are recorded.
func (s *Settings) HasCredentials() bool {
	return s.Salt != "" && s.MasterHash != ""
}

// SaltBytes decodes the salt.
func (s *Settings) SaltBytes() ([]byte, error) {
	if s.Salt == "" {
		return nil, ErrSaltMissing
	}
	salt, err := base64.StdEncoding.DecodeString(s.Salt)
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is not valid base64", ErrConfig)
	}
	return salt, nil
}

// HashBytes decodes the master password verifier.
func (s *Settings) HashBytes() ([]byte, error) {
	if s.MasterHash == "" {
		return nil, ErrHashMissing
	}
	hash, err := base64.StdEncoding.DecodeString(s.MasterHash)
	if err != nil || len(hash) == 0 {
		return nil, fmt.Errorf("%w: master password hash is not valid base64", ErrConfig)
	}
	return hash, nil
}

// SetCredentials records a new salt and verifier.
func (s *Settings) SetCredentials(salt, hash []byte) {
	s.Salt = base64.StdEncoding.EncodeToString(salt)
	s.MasterHash = base64.StdEncoding.EncodeToString(hash)
}

// ClearCredentials forgets the salt and verifier.
func (s *Settings) ClearCredentials() {
	s.Salt = ""
	s.MasterHash = ""
}

// Method returns the recorded encryption method. Unknown values fall back
// to the default.
func (s *Settings) Method() crypto.Method {
	m, err := crypto.ParseMethod(s.EncryptionMethod)
	if err != nil {
		return crypto.DefaultMethod
	}
	return m
}

// Kind returns the recorded storage backend. Unknown values fall back to
// the default.
func (s *Settings) Kind() storage.Kind {
	k, err := storage.ParseKind(s.StorageType)
	if err != nil {
		return storage.DefaultKind
	}
	return k
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
