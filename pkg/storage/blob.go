package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/passvault/passvault/pkg/crypto"
)

// BlobStorage keeps every entry in a single file holding
// base64(nonce || ciphertext) of the JSON-encoded entry list.
type BlobStorage struct {
	dir string
	mu  sync.RWMutex
}

// NewBlobStorage returns a blob backend writing to dir/vault.dat.
func NewBlobStorage(dir string) *BlobStorage {
	return &BlobStorage{dir: dir}
}

// Path returns the location of the vault file.
func (b *BlobStorage) Path() string {
	return filepath.Join(b.dir, BlobFileName)
}

// Kind returns KindFile.
func (b *BlobStorage) Kind() Kind {
	return KindFile
}

// LoadEntries decrypts the vault file. A missing or empty file yields an
// empty list.
func (b *BlobStorage) LoadEntries(key []byte, method crypto.Method, includeHistory bool) ([]*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries, err := b.readAll(key, method)
	if err != nil {
		return nil, err
	}
	if !includeHistory {
		for _, e := range entries {
			e.History = nil
		}
	}
	return entries, nil
}

// GetEntryWithHistory decrypts the whole file and returns the matching entry.
func (b *BlobStorage) GetEntryWithHistory(key []byte, method crypto.Method, id string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries, err := b.readAll(key, method)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// SaveEntries encrypts the full list and replaces the vault file atomically
// (temp file, fsync, rename).
func (b *BlobStorage) SaveEntries(key []byte, method crypto.Method, entries []*Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entries == nil {
		entries = []*Entry{}
	}
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("storage: failed to encode entries: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := crypto.EncryptText(key, plaintext, method)
	if err != nil {
		return err
	}

	return writeFileAtomic(b.Path(), []byte(payload))
}

// HasData reports whether the vault file exists and is non-empty.
func (b *BlobStorage) HasData() (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := os.Stat(b.Path())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: failed to stat vault file: %w", err)
	}
	return info.Size() > 0, nil
}

// Wipe overwrites and deletes the vault file.
func (b *BlobStorage) Wipe() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := shredFile(b.Path()); err != nil {
		return err
	}
	// Leftover temp files from an interrupted save.
	matches, _ := filepath.Glob(filepath.Join(b.dir, "."+BlobFileName+".tmp-*"))
	for _, m := range matches {
		_ = shredFile(m)
	}
	return nil
}

// Close is a no-op for the blob backend.
func (b *BlobStorage) Close() error {
	return nil
}

func (b *BlobStorage) readAll(key []byte, method crypto.Method) ([]*Entry, error) {
	data, err := os.ReadFile(b.Path())
	if os.IsNotExist(err) {
		return []*Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to read vault file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return []*Entry{}, nil
	}

	plaintext, err := crypto.DecryptText(key, text, method)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	var entries []*Entry
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	for _, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("%w: null entry", ErrCorrupted)
		}
		if e.History == nil {
			e.History = []HistoryItem{}
		}
	}
	return entries, nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("storage: failed to create directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: failed to create temp file: %w", err)
	}
	tmpPath := f.Name()

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if err := f.Chmod(FileMode); err != nil && !errors.Is(err, os.ErrInvalid) {
		cleanup()
		return fmt.Errorf("storage: failed to set permissions: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("storage: failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("storage: failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteFileAtomic is writeFileAtomic for other packages that persist small
// files next to the vault (settings, audit state).
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}
