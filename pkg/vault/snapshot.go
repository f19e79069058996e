package vault

import (
	"go.uber.org/zap"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/storage"
)

// Snapshot calls read with the vault directory and the active backend kind.
// No backend holds its files open while read runs and no other store
// operation can interleave. The store must be unlocked.
func (s *Store) Snapshot(read func(dir string, active storage.Kind) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}
	if err := s.closeBackends(); err != nil {
		return err
	}
	if err := read(s.dir, s.settings.Kind()); err != nil {
		s.auditError(audit.OpVaultBackup, "", err)
		return classify("snapshot", err)
	}
	s.auditSuccess(audit.OpVaultBackup, "")
	return nil
}

// Replace lets write rewrite the persisted files of the vault directory,
// then reloads the settings. Backends reopen on next use. The store must
// not be unlocked; it is Uninitialized or Locked afterwards depending on
// the settings write left behind.
func (s *Store) Replace(write func(dir string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Alive() {
		return ErrAlreadyUnlocked
	}
	if err := s.closeBackends(); err != nil {
		return err
	}
	if err := write(s.dir); err != nil {
		s.auditError(audit.OpVaultRestore, "", err)
		return classify("replace", err)
	}

	settings, err := LoadSettings(s.settingsPath())
	if err != nil {
		return err
	}
	s.settings = settings
	s.entries = nil
	s.historyLoaded = nil

	s.auditSuccess(audit.OpVaultRestore, "")
	s.log.Info("vault files replaced",
		zap.String("storage", string(settings.Kind())),
		zap.Bool("initialized", settings.HasCredentials()))
	return nil
}

// closeBackends closes every backend. Caller holds s.mu.
func (s *Store) closeBackends() error {
	for _, b := range s.backends {
		if err := b.Close(); err != nil {
			return classify("close backend", err)
		}
	}
	return nil
}
