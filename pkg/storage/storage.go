package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/passvault/passvault/pkg/crypto"
)

// Kind identifies a storage backend.
type Kind string

const (
	// KindFile stores all entries in a single encrypted file.
	KindFile Kind = "file"

	// KindSQL stores entries in a SQLite database, one row per entry.
	KindSQL Kind = "sql"
)

// DefaultKind is the backend used by new vaults.
const DefaultKind = KindFile

// File names inside the vault directory.
const (
	BlobFileName = "vault.dat"
	DBFileName   = "passvault.db"
	FileMode     = 0600 // Owner read/write only
	DirMode      = 0700 // Owner read/write/execute only
)

// Errors
var (
	// ErrNotFound indicates no entry with the requested id exists.
	ErrNotFound = errors.New("storage: entry not found")

	// ErrCorrupted indicates persisted data could not be parsed after decryption.
	ErrCorrupted = errors.New("storage: persisted data is corrupted")

	// ErrUnknownKind indicates an unsupported backend kind.
	ErrUnknownKind = errors.New("storage: unknown storage kind")
)

// Storage persists and retrieves the entry set. Implementations encrypt the
// sensitive fields with the key and method supplied on every call.
type Storage interface {
	// LoadEntries decrypts all entries. When includeHistory is false the
	// history payload is skipped and Entry.History is nil.
	LoadEntries(key []byte, method crypto.Method, includeHistory bool) ([]*Entry, error)

	// GetEntryWithHistory decrypts a single entry including its history.
	// It returns ErrNotFound if no such entry is stored.
	GetEntryWithHistory(key []byte, method crypto.Method, id string) (*Entry, error)

	// SaveEntries replaces the persisted set atomically.
	SaveEntries(key []byte, method crypto.Method, entries []*Entry) error

	// HasData reports whether any vault data is persisted.
	HasData() (bool, error)

	// Wipe irrecoverably removes the persisted data.
	Wipe() error

	// Kind returns the backend kind.
	Kind() Kind

	// Close releases resources held by the backend.
	Close() error
}

// ParseKind parses a backend name. It accepts the legacy enum spellings
// FILE and SQL.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindFile):
		return KindFile, nil
	case string(KindSQL):
		return KindSQL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindSQL
}

// String returns the display name of the backend.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "File (.dat)"
	case KindSQL:
		return "SQL database"
	default:
		return "unknown"
	}
}

// Open returns the backend of the given kind rooted at dir.
func Open(kind Kind, dir string) (Storage, error) {
	switch kind {
	case KindFile:
		return NewBlobStorage(dir), nil
	case KindSQL:
		return NewSQLStorage(dir), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

// shredFile overwrites a file with zeros before removing it. A missing file
// is not an error.
func shredFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: failed to stat %s: %w", path, err)
	}

	if info.Mode().IsRegular() && info.Size() > 0 {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			zeros := make([]byte, 32*1024)
			remaining := info.Size()
			for remaining > 0 {
				n := int64(len(zeros))
				if remaining < n {
					n = remaining
				}
				if _, err := f.Write(zeros[:n]); err != nil {
					break
				}
				remaining -= n
			}
			_ = f.Sync()
			_ = f.Close()
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: failed to remove %s: %w", path, err)
	}
	return nil
}
