package backup

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"
)

// File layout:
//
//	magic(8) | header length(4) | header JSON | payload length(4) | payload | HMAC(32)
//
// The payload is the JSON Payload sealed with AES-256-GCM. The HMAC covers
// everything before it. Keys come from the master password and a salt
// generated for each backup, never the vault's own salt.

// Options configures Create.
type Options struct {
	// IncludeAudit adds the audit log files.
	IncludeAudit bool
	// KDF sets the PBKDF2 iteration count (KeyIterations). Zero values use
	// the production default.
	KDF crypto.KDFParams
	// Now overrides the creation time source.
	Now func() time.Time
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// Force replaces an existing vault.
	Force bool
	// WithAudit restores the audit log when the backup carries one.
	WithAudit bool
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Header        *Header
	Files         int
	AuditRestored bool
}

// Create writes an encrypted backup of the unlocked store to w. password
// must be the current master password, so the restored vault opens with
// the same password as the backup.
func Create(w io.Writer, s *vault.Store, password string, opts Options) (*Header, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if !s.IsUnlocked() {
		return nil, vault.ErrVaultLocked
	}
	if !s.VerifyPassword(password) {
		return nil, vault.ErrInvalidPassword
	}

	entries, err := s.GetAllEntries()
	if err != nil {
		return nil, err
	}

	payload := &Payload{Files: make(map[string][]byte)}
	var active storage.Kind
	err = s.Snapshot(func(dir string, kind storage.Kind) error {
		active = kind
		return collectFiles(dir, kind, opts.IncludeAudit, payload.Files)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect vault files: %w", err)
	}

	iterations := opts.KDF.KeyIterations
	if iterations == 0 {
		iterations = crypto.DefaultKeyIterations
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	header := &Header{
		Version:       FormatVersion,
		CreatedAt:     now().UTC(),
		Storage:       string(active),
		KDF:           KDFHeader{Salt: salt, Iterations: iterations},
		IncludesAudit: payload.HasAudit(),
		EntryCount:    len(entries),
	}

	encKey, macKey, err := deriveKeys(password, header.KDF)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	plaintext, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	sealed, err := crypto.Encrypt(encKey, plaintext, crypto.MethodGCM)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	var buf bytes.Buffer
	if err := writeHeader(&buf, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(sealed))); err != nil {
		return nil, fmt.Errorf("failed to write payload length: %w", err)
	}
	buf.Write(sealed)
	mac := computeHMAC(buf.Bytes(), macKey)
	buf.Write(mac)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	return header, nil
}

// Inspect returns the header of a backup without checking its integrity.
func Inspect(data []byte) (*Header, error) {
	return readHeader(bytes.NewReader(data))
}

// Open verifies the HMAC of a backup and decrypts its payload.
func Open(data []byte, password string) (*Header, *Payload, error) {
	r := bytes.NewReader(data)
	header, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	var sealedLen uint32
	if err := binary.Read(r, binary.BigEndian, &sealedLen); err != nil {
		return nil, nil, ErrTruncated
	}
	if uint64(r.Len()) != uint64(sealedLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	macOffset := len(data) - HMACLength
	sealed := data[macOffset-int(sealedLen) : macOffset]
	storedMAC := data[macOffset:]

	encKey, macKey, err := deriveKeys(password, header.KDF)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !hmac.Equal(computeHMAC(data[:macOffset], macKey), storedMAC) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := crypto.Decrypt(encKey, sealed, crypto.MethodGCM)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := decodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

// Restore replaces the vault files of s with the backup's. The store must
// be locked or uninitialized; an existing vault is only replaced with
// Force. The restored vault opens with the password the backup was made
// with.
func Restore(s *vault.Store, data []byte, password string, opts RestoreOptions) (*RestoreResult, error) {
	header, payload, err := Open(data, password)
	if err != nil {
		return nil, err
	}
	if _, ok := payload.Files[vault.SettingsFileName]; !ok {
		return nil, fmt.Errorf("%w: settings missing", ErrInvalidFile)
	}

	existed := s.IsVaultCreated()
	if existed && !opts.Force {
		return nil, vault.ErrVaultExists
	}
	withAudit := opts.WithAudit && payload.HasAudit()

	result := &RestoreResult{Header: header, AuditRestored: withAudit}
	err = s.Replace(func(dir string) error {
		if existed || withAudit {
			if err := s.AuditLog().Purge(); err != nil {
				return err
			}
		}
		if err := removeDataFiles(dir); err != nil {
			return err
		}
		for _, name := range sortedNames(payload.Files) {
			if !withAudit && path.Dir(name) == vault.AuditDirName {
				continue
			}
			if err := storage.WriteFileAtomic(filepath.Join(dir, filepath.FromSlash(name)), payload.Files[name]); err != nil {
				return err
			}
			result.Files++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore vault files: %w", err)
	}
	return result, nil
}

// collectFiles reads the settings, the active backend's file and, if asked,
// the audit log files from dir into files.
func collectFiles(dir string, active storage.Kind, includeAudit bool, files map[string][]byte) error {
	names := []string{vault.SettingsFileName}
	switch active {
	case storage.KindSQL:
		names = append(names, storage.DBFileName)
	default:
		names = append(names, storage.BlobFileName)
	}
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) && i > 0 {
			// Nothing written to the backend yet.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		files[name] = data
	}

	if !includeAudit {
		return nil
	}
	auditDir := filepath.Join(dir, vault.AuditDirName)
	list, err := os.ReadDir(auditDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list audit log: %w", err)
	}
	for _, e := range list {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(auditDir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		files[path.Join(vault.AuditDirName, e.Name())] = data
	}
	return nil
}

// removeDataFiles deletes the backend files of both kinds so no stale data
// survives next to the restored set.
func removeDataFiles(dir string) error {
	for _, name := range []string{
		storage.BlobFileName,
		storage.DBFileName,
		storage.DBFileName + "-wal",
		storage.DBFileName + "-shm",
		storage.DBFileName + "-journal",
	} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
