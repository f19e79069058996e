// Package vault implements the credential store: a locked/unlocked session
// around a pluggable storage backend.
//
// A Store moves between three states:
//
//	Uninitialized --CreateVault--> Unlocked
//	Locked        --Unlock-------> Unlocked
//	Unlocked      --Lock---------> Locked
//
// The derived key lives in a crypto.SessionKey for the duration of the
// session and is destroyed on Lock and Close. Every mutation rewrites the
// full entry set through the active backend.
//
// Unlock does not check the password against the stored verifier. Callers
// must call VerifyPassword (or go through a LockoutPolicy) first; a wrong
// password otherwise surfaces as a decryption error while loading entries.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// File names and permissions
const (
	LockFileName = ".lock"
	AuditDirName = "audit"
	FileMode     = 0600 // Owner read/write only
	DirMode      = 0700 // Owner read/write/execute only
)

// State is the lifecycle state of a Store.
type State int

const (
	StateUninitialized State = iota
	StateLocked
	StateUnlocked
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Store is the credential store for one vault directory. Its methods are
// safe to call from multiple goroutines but are serialized internally.
type Store struct {
	dir      string
	mu       sync.Mutex
	settings *Settings
	kdf      crypto.KDFParams
	key      *crypto.SessionKey

	entries       []*storage.Entry
	historyLoaded map[string]bool

	backends map[storage.Kind]storage.Storage
	audit    *audit.Logger
	log      *zap.Logger
	now      func() time.Time
	dirLock  *dirLock
	noLock   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithKDFParams overrides the PBKDF2 iteration counts.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(s *Store) { s.kdf = p }
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBackend replaces the backend used for kind.
func WithBackend(kind storage.Kind, b storage.Storage) Option {
	return func(s *Store) { s.backends[kind] = b }
}

// WithoutDirLock skips the exclusive directory lock.
func WithoutDirLock() Option {
	return func(s *Store) { s.noLock = true }
}

// New opens the vault directory, creating it if needed, and loads its
// settings. The returned Store is Uninitialized or Locked.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:      dir,
		kdf:      crypto.DefaultKDFParams(),
		backends: make(map[storage.Kind]storage.Storage),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.kdf.Validate(); err != nil {
		return nil, classify("kdf", err)
	}

	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("%w: failed to create vault directory: %w", ErrStorage, err)
	}

	if !s.noLock {
		lock, err := acquireDirLock(filepath.Join(dir, LockFileName))
		if err != nil {
			return nil, err
		}
		s.dirLock = lock
	}

	settings, err := LoadSettings(s.settingsPath())
	if err != nil {
		_ = s.dirLock.release()
		return nil, err
	}
	s.settings = settings

	for _, kind := range []storage.Kind{storage.KindFile, storage.KindSQL} {
		if _, ok := s.backends[kind]; ok {
			continue
		}
		b, err := storage.Open(kind, dir)
		if err != nil {
			_ = s.dirLock.release()
			return nil, classify("open backend", err)
		}
		s.backends[kind] = b
	}

	s.audit = audit.NewLogger(filepath.Join(dir, AuditDirName), audit.WithLogger(s.log), audit.WithClock(s.now))
	s.checkAndWarnPermissions()
	return s, nil
}

// Dir returns the vault directory.
func (s *Store) Dir() string {
	return s.dir
}

// AuditLog returns the audit logger.
func (s *Store) AuditLog() *audit.Logger {
	return s.audit
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Store) state() State {
	switch {
	case !s.settings.HasCredentials():
		return StateUninitialized
	case s.key.Alive():
		return StateUnlocked
	default:
		return StateLocked
	}
}

// IsVaultCreated reports whether a master password has been set.
func (s *Store) IsVaultCreated() bool {
	return s.State() != StateUninitialized
}

// IsUnlocked reports whether a session key is held.
func (s *Store) IsUnlocked() bool {
	return s.State() == StateUnlocked
}

// CreateVault sets the master password of a new vault, persists an empty
// entry set and leaves the store Unlocked.
func (s *Store) CreateVault(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() != StateUninitialized {
		return ErrVaultExists
	}
	for kind, b := range s.backends {
		has, err := b.HasData()
		if err != nil {
			return classify("check backend", err)
		}
		if has {
			s.log.Warn("refusing to create vault over existing data", zap.String("storage", string(kind)))
			return ErrOrphanedData
		}
	}
	if err := s.checkDiskSpaceForWrite(0); err != nil {
		return err
	}

	salt, hash, key, err := s.deriveCredentials(password)
	if err != nil {
		return err
	}
	sk, err := crypto.NewSessionKey(key)
	if err != nil {
		return classify("create", err)
	}

	entries := []*storage.Entry{}
	if err := s.backend().SaveEntries(sk.Bytes(), s.settings.Method(), entries); err != nil {
		sk.Destroy()
		return classify("create", err)
	}

	next := s.settings.Clone()
	next.SetCredentials(salt, hash)
	if err := next.Save(s.settingsPath()); err != nil {
		sk.Destroy()
		return err
	}
	s.settings = next

	s.key = sk
	s.entries = entries
	s.historyLoaded = make(map[string]bool)

	s.startAudit()
	s.auditSuccess(audit.OpVaultCreate, "")
	s.log.Info("vault created",
		zap.String("storage", string(s.settings.Kind())),
		zap.String("method", string(s.settings.Method())))
	return nil
}

// Unlock derives the session key from password and the stored salt and
// loads the entry list without history. It does not verify the password.
func (s *Store) Unlock(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Alive() {
		return ErrAlreadyUnlocked
	}
	if s.state() != StateLocked {
		// Half-written credentials mean the settings were damaged.
		switch {
		case s.settings.Salt == "" && s.settings.MasterHash == "":
			return ErrVaultNotCreated
		case s.settings.MasterHash == "":
			return ErrHashMissing
		default:
			return ErrSaltMissing
		}
	}

	salt, err := s.settings.SaltBytes()
	if err != nil {
		return err
	}

	pw := []byte(password)
	key, err := s.kdf.DeriveKey(pw, salt)
	crypto.SecureWipe(pw)
	if err != nil {
		return classify("derive key", err)
	}
	sk, err := crypto.NewSessionKey(key)
	if err != nil {
		return classify("unlock", err)
	}

	entries, err := s.backend().LoadEntries(sk.Bytes(), s.settings.Method(), false)
	if err != nil {
		sk.Destroy()
		return classify("load entries", err)
	}

	s.key = sk
	s.entries = entries
	s.historyLoaded = make(map[string]bool, len(entries))

	s.startAudit()
	s.auditSuccess(audit.OpVaultUnlock, "")
	s.log.Info("vault unlocked", zap.Int("entries", len(entries)))
	return nil
}

// Lock destroys the session key and drops the in-memory entries.
func (s *Store) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() != StateUnlocked {
		return ErrVaultLocked
	}
	s.auditSuccess(audit.OpVaultLock, "")
	s.lockLocked()
	s.log.Info("vault locked")
	return nil
}

// lockLocked clears session state. Caller holds s.mu.
func (s *Store) lockLocked() {
	s.audit.ClearKey()
	s.key.Destroy()
	s.key = nil
	for _, e := range s.entries {
		e.Secret = ""
		e.History = nil
	}
	s.entries = nil
	s.historyLoaded = nil
}

// VerifyPassword checks password against the stored verifier. It never
// returns an error: any failure reads as a wrong password.
func (s *Store) VerifyPassword(password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyLocked(password)
}

func (s *Store) verifyLocked(password string) bool {
	salt, err := s.settings.SaltBytes()
	if err != nil {
		return false
	}
	hash, err := s.settings.HashBytes()
	if err != nil {
		return false
	}

	pw := []byte(password)
	defer crypto.SecureWipe(pw)

	if s.kdf.VerifyPassword(pw, salt, hash) {
		return true
	}
	s.log.Warn("master password verification failed")
	_ = s.audit.Log(audit.OpVaultVerifyFailed, audit.ResultDenied, "", "", nil)
	return false
}

// ChangeMasterPassword re-encrypts the full entry set under a key derived
// from newPassword and a fresh salt. The old password is always verified.
// The store ends Unlocked.
func (s *Store) ChangeMasterPassword(oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() == StateUninitialized {
		return ErrVaultNotCreated
	}
	if !s.verifyLocked(oldPassword) {
		return ErrInvalidPassword
	}

	method := s.settings.Method()
	oldKey := s.key
	wasUnlocked := oldKey.Alive()

	if !wasUnlocked {
		salt, err := s.settings.SaltBytes()
		if err != nil {
			return err
		}
		pw := []byte(oldPassword)
		key, err := s.kdf.DeriveKey(pw, salt)
		crypto.SecureWipe(pw)
		if err != nil {
			return classify("derive key", err)
		}
		if oldKey, err = crypto.NewSessionKey(key); err != nil {
			return classify("change password", err)
		}
		entries, err := s.backend().LoadEntries(oldKey.Bytes(), method, true)
		if err != nil {
			oldKey.Destroy()
			return classify("load entries", err)
		}
		s.entries = entries
		s.historyLoaded = make(map[string]bool, len(entries))
		for _, e := range entries {
			s.historyLoaded[e.ID] = true
		}
	} else if err := s.ensureAllHistory(); err != nil {
		return err
	}

	abort := func() {
		if !wasUnlocked {
			oldKey.Destroy()
			s.entries = nil
			s.historyLoaded = nil
		}
	}

	salt, hash, key, err := s.deriveCredentials(newPassword)
	if err != nil {
		abort()
		return err
	}
	newKey, err := crypto.NewSessionKey(key)
	if err != nil {
		abort()
		return classify("change password", err)
	}

	if err := s.checkDiskSpaceForWrite(0); err != nil {
		newKey.Destroy()
		abort()
		return err
	}
	if err := s.backend().SaveEntries(newKey.Bytes(), method, s.entries); err != nil {
		newKey.Destroy()
		abort()
		return classify("re-encrypt entries", err)
	}

	next := s.settings.Clone()
	next.SetCredentials(salt, hash)
	if err := next.Save(s.settingsPath()); err != nil {
		// The payload is already under the new key; put it back.
		if rbErr := s.backend().SaveEntries(oldKey.Bytes(), method, s.entries); rbErr != nil {
			s.log.Error("failed to restore entries after settings write failure", zap.Error(rbErr))
		}
		newKey.Destroy()
		abort()
		return err
	}
	s.settings = next

	s.audit.ClearKey()
	oldKey.Destroy()
	s.key = newKey

	s.startAudit()
	s.auditSuccess(audit.OpVaultPasswordChange, "")
	s.log.Info("master password changed", zap.Int("entries", len(s.entries)))
	return nil
}

// Wipe irrecoverably destroys the persisted data of every backend and the
// audit log, and forgets the salt and verifier. The store returns to
// Uninitialized; other settings are kept.
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Alive() {
		s.lockLocked()
	}

	var firstErr error
	for kind, b := range s.backends {
		if err := b.Wipe(); err != nil {
			s.log.Error("failed to wipe backend", zap.String("storage", string(kind)), zap.Error(err))
			if firstErr == nil {
				firstErr = classify("wipe", err)
			}
		}
	}
	if err := s.audit.Purge(); err != nil {
		s.log.Warn("failed to purge audit log", zap.Error(err))
	}
	// Queued until the next vault is created.
	_ = s.audit.Log(audit.OpVaultWipe, audit.ResultSuccess, "", "", nil)

	next := s.settings.Clone()
	next.ClearCredentials()
	if err := next.Save(s.settingsPath()); err != nil && firstErr == nil {
		firstErr = err
	}
	s.settings = next

	s.log.Warn("vault wiped")
	return firstErr
}

// Close locks the store, closes the backends and releases the directory
// lock. The Store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Alive() {
		s.auditSuccess(audit.OpVaultLock, "")
		s.lockLocked()
	}

	var firstErr error
	for _, b := range s.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = classify("close", err)
		}
	}
	if err := s.dirLock.release(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.dirLock = nil
	return firstErr
}

// deriveCredentials generates a salt and derives the verifier and the key
// for password.
func (s *Store) deriveCredentials(password string) (salt, hash, key []byte, err error) {
	pw := []byte(password)
	defer crypto.SecureWipe(pw)

	salt, err = crypto.GenerateSalt()
	if err != nil {
		return nil, nil, nil, classify("generate salt", err)
	}
	hash, err = s.kdf.DeriveVerificationHash(pw, salt)
	if err != nil {
		return nil, nil, nil, classify("derive verifier", err)
	}
	key, err = s.kdf.DeriveKey(pw, salt)
	if err != nil {
		return nil, nil, nil, classify("derive key", err)
	}
	return salt, hash, key, nil
}

func (s *Store) settingsPath() string {
	return filepath.Join(s.dir, SettingsFileName)
}

// backend returns the active backend.
func (s *Store) backend() storage.Storage {
	return s.backends[s.settings.Kind()]
}

// requireUnlocked returns ErrVaultLocked unless a session key is held.
func (s *Store) requireUnlocked() error {
	if s.state() != StateUnlocked {
		return ErrVaultLocked
	}
	return nil
}

func (s *Store) startAudit() {
	if err := s.audit.SetKey(s.key.Bytes()); err != nil {
		s.log.Warn("failed to initialize audit log", zap.Error(err))
	}
}

func (s *Store) auditSuccess(op, entryID string) {
	if err := s.audit.LogSuccess(op, entryID); err != nil {
		s.log.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
	}
}

func (s *Store) auditError(op, entryID string, cause error) {
	if err := s.audit.LogError(op, entryID, cause); err != nil {
		s.log.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
	}
}

// checkAndWarnPermissions logs a warning for group- or world-accessible
// vault files. It never blocks.
func (s *Store) checkAndWarnPermissions() {
	if os.PathSeparator != '/' {
		return
	}
	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			s.log.Warn("vault directory has insecure permissions",
				zap.String("perm", fmt.Sprintf("%04o", perm)))
		}
	}
	for _, name := range []string{SettingsFileName, storage.BlobFileName, storage.DBFileName} {
		if info, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			if perm := info.Mode().Perm(); perm&0077 != 0 {
				s.log.Warn("vault file has insecure permissions",
					zap.String("file", name),
					zap.String("perm", fmt.Sprintf("%04o", perm)))
			}
		}
	}
}
