package vault

import (
	"go.uber.org/zap"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// Settings returns a copy of the settings without the salt and verifier.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.settings
	c.ClearCredentials()
	return c
}

// EncryptionMethod returns the method the payload is encrypted with.
func (s *Store) EncryptionMethod() crypto.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Method()
}

// StorageType returns the active backend kind.
func (s *Store) StorageType() storage.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Kind()
}

// ReuseCheckCount returns the reuse window size.
func (s *Store) ReuseCheckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.ReuseCheckCount
}

// EnforceReuseCheck reports whether reused secrets are rejected.
func (s *Store) EnforceReuseCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.EnforceReuseCheck
}

// WipeAfterAttempts returns the failed-attempt threshold.
func (s *Store) WipeAfterAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.WipeAfterAttempts
}

// PrankOnly reports whether the threshold triggers a decoy instead of a wipe.
func (s *Store) PrankOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.PrankOnly
}

// SetReuseCheckCount sets the reuse window, clamped to 1..50.
func (s *Store) SetReuseCheckCount(n int) error {
	return s.updateSettings("reuse_check_count", func(st *Settings) {
		st.ReuseCheckCount = clamp(n, MinReuseCheckCount, MaxReuseCheckCount)
	})
}

// SetEnforceReuseCheck turns reuse blocking on or off.
func (s *Store) SetEnforceReuseCheck(enforce bool) error {
	return s.updateSettings("enforce_reuse_check", func(st *Settings) {
		st.EnforceReuseCheck = enforce
	})
}

// SetWipeAfterAttempts sets the failed-attempt threshold, clamped to 1..10.
func (s *Store) SetWipeAfterAttempts(n int) error {
	return s.updateSettings("wipe_after_attempts", func(st *Settings) {
		st.WipeAfterAttempts = clamp(n, MinWipeAfterAttempts, MaxWipeAfterAttempts)
	})
}

// SetPrankOnly selects decoy mode for the failed-attempt threshold.
func (s *Store) SetPrankOnly(prank bool) error {
	return s.updateSettings("prank_only", func(st *Settings) {
		st.PrankOnly = prank
	})
}

func (s *Store) updateSettings(name string, apply func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings.Clone()
	apply(next)
	if err := next.Save(s.settingsPath()); err != nil {
		return err
	}
	s.settings = next
	_ = s.audit.Log(audit.OpVaultSettings, audit.ResultSuccess, "", "", map[string]any{"setting": name})
	s.log.Info("setting changed", zap.String("setting", name))
	return nil
}

// SetEncryptionMethod changes the cipher. An existing vault must be
// unlocked: the entry set is rewritten under the new method before the
// setting is recorded, so the recorded method always matches the payload.
func (s *Store) SetEncryptionMethod(m crypto.Method) error {
	if !m.Valid() {
		return classify("set method", crypto.ErrUnknownMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.settings.Method()
	if m == old {
		return nil
	}

	switch s.state() {
	case StateLocked:
		return ErrVaultLocked
	case StateUnlocked:
		if err := s.ensureAllHistory(); err != nil {
			return err
		}
		if err := s.checkDiskSpaceForWrite(0); err != nil {
			return err
		}
		if err := s.backend().SaveEntries(s.key.Bytes(), m, s.entries); err != nil {
			return classify("re-encrypt entries", err)
		}
	}

	next := s.settings.Clone()
	next.EncryptionMethod = string(m)
	if err := next.Save(s.settingsPath()); err != nil {
		if s.key.Alive() {
			if rbErr := s.backend().SaveEntries(s.key.Bytes(), old, s.entries); rbErr != nil {
				s.log.Error("failed to restore entries after settings write failure", zap.Error(rbErr))
			}
		}
		return err
	}
	s.settings = next

	_ = s.audit.Log(audit.OpVaultSettings, audit.ResultSuccess, "", "", map[string]any{"setting": "encryption_method"})
	s.log.Info("encryption method changed", zap.String("from", string(old)), zap.String("to", string(m)))
	return nil
}

// SwitchStorageType migrates the entry set to another backend. The new
// backend is written completely before the preference changes, and the old
// backend's data is left in place. Switching to the active kind is a no-op.
func (s *Store) SwitchStorageType(kind storage.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}
	if !kind.Valid() {
		return classify("switch storage", storage.ErrUnknownKind)
	}
	from := s.settings.Kind()
	if kind == from {
		return nil
	}

	if err := s.ensureAllHistory(); err != nil {
		return err
	}
	if err := s.checkDiskSpaceForWrite(0); err != nil {
		return err
	}

	target := s.backends[kind]
	if err := target.SaveEntries(s.key.Bytes(), s.settings.Method(), s.entries); err != nil {
		s.auditError(audit.OpVaultStorageSwitch, "", err)
		return classify("migrate entries", err)
	}

	next := s.settings.Clone()
	next.StorageType = string(kind)
	if err := next.Save(s.settingsPath()); err != nil {
		s.auditError(audit.OpVaultStorageSwitch, "", err)
		return err
	}
	s.settings = next

	_ = s.audit.Log(audit.OpVaultStorageSwitch, audit.ResultSuccess, "", "",
		map[string]any{"from": string(from), "to": string(kind), "entries": len(s.entries)})
	s.log.Info("storage switched",
		zap.String("from", string(from)),
		zap.String("to", string(kind)),
		zap.Int("entries", len(s.entries)))
	return nil
}

// BackendHasData reports whether the backend of kind holds persisted data.
func (s *Store) BackendHasData(kind storage.Kind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backends[kind]
	if !ok {
		return false, classify("backend", storage.ErrUnknownKind)
	}
	has, err := b.HasData()
	if err != nil {
		return false, classify("check backend", err)
	}
	return has, nil
}
