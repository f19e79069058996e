package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// IntegrityCheckResult reports the outcome of CheckIntegrity.
type IntegrityCheckResult struct {
	Valid            bool     `json:"valid"`
	SettingsValid    bool     `json:"settings_valid"`
	SaltValid        bool     `json:"salt_valid"`
	HashValid        bool     `json:"hash_valid"`
	DataPresent      bool     `json:"data_present"`
	DBIntegrity      bool     `json:"db_integrity"`
	PermissionsValid bool     `json:"permissions_valid"`
	Errors           []string `json:"errors,omitempty"`
}

type integrityChecker interface {
	IntegrityCheck() error
}

// CheckIntegrity inspects the vault without the key: settings, salt and
// verifier shape, presence of data in the active backend, SQLite integrity
// and file permissions. It works in any state.
func (s *Store) CheckIntegrity() (*IntegrityCheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &IntegrityCheckResult{
		Valid:            true,
		SettingsValid:    true,
		DBIntegrity:      true,
		PermissionsValid: true,
	}
	fail := func(format string, args ...any) {
		r.Valid = false
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}

	if _, err := LoadSettings(s.settingsPath()); err != nil {
		r.SettingsValid = false
		fail("settings file unreadable: %v", err)
	}

	if s.state() == StateUninitialized {
		if s.settings.Salt != "" || s.settings.MasterHash != "" {
			fail("settings hold only one of salt and master password hash")
		}
		return r, nil
	}

	if salt, err := s.settings.SaltBytes(); err != nil {
		fail("salt: %v", err)
	} else if len(salt) != crypto.SaltLength {
		fail("salt has incorrect size: expected %d, got %d", crypto.SaltLength, len(salt))
	} else {
		r.SaltValid = true
	}

	if hash, err := s.settings.HashBytes(); err != nil {
		fail("master password hash: %v", err)
	} else if len(hash) != crypto.HashLength {
		fail("master password hash has incorrect size: expected %d, got %d", crypto.HashLength, len(hash))
	} else {
		r.HashValid = true
	}

	kind := s.settings.Kind()
	has, err := s.backends[kind].HasData()
	switch {
	case err != nil:
		fail("%s backend unreadable: %v", kind, err)
	case !has && kind == storage.KindFile:
		fail("vault file is missing or empty")
	default:
		r.DataPresent = has
	}

	if ic, ok := s.backends[storage.KindSQL].(integrityChecker); ok {
		if err := ic.IntegrityCheck(); err != nil {
			r.DBIntegrity = false
			fail("database integrity check failed: %v", err)
		}
	}

	if os.PathSeparator == '/' {
		s.checkPermissions(r, fail)
	}
	return r, nil
}

func (s *Store) checkPermissions(r *IntegrityCheckResult, fail func(string, ...any)) {
	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			r.PermissionsValid = false
			fail("vault directory has insecure permissions: %04o (expected 0700)", perm)
		}
	}
	for _, name := range []string{SettingsFileName, storage.BlobFileName, storage.DBFileName} {
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			r.PermissionsValid = false
			fail("%s has insecure permissions: %04o (expected 0600)", name, perm)
		}
	}
}
