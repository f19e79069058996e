package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage/migrations"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriver = "sqlite"
	busyTimeout  = 5000 // milliseconds
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// SQLStorage keeps one row per entry in a SQLite database. The title,
// username and timestamps are stored in plaintext; the secret and the JSON
// history are stored as base64(nonce || ciphertext) text, "" when empty.
type SQLStorage struct {
	path     string
	mu       sync.Mutex
	db       *sql.DB
	migrated bool
}

// NewSQLStorage returns a relational backend writing to dir/passvault.db.
// The database is created lazily on first write.
func NewSQLStorage(dir string) *SQLStorage {
	return &SQLStorage{path: filepath.Join(dir, DBFileName)}
}

// NewSQLStorageWithDB wraps an already migrated database handle.
func NewSQLStorageWithDB(db *sql.DB) *SQLStorage {
	return &SQLStorage{db: db, migrated: true}
}

// Path returns the database location, or "" for a wrapped handle.
func (s *SQLStorage) Path() string {
	return s.path
}

// Kind returns KindSQL.
func (s *SQLStorage) Kind() Kind {
	return KindSQL
}

// LoadEntries returns all rows ordered by creation time. When includeHistory
// is false the history column is not read or decrypted.
func (s *SQLStorage) LoadEntries(key []byte, method crypto.Method, includeHistory bool) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok, err := s.openExisting()
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*Entry{}, nil
	}

	query := `SELECT id, title, username, password_encrypted, created_at, updated_at FROM entries ORDER BY created_at ASC, rowid ASC`
	if includeHistory {
		query = `SELECT id, title, username, password_encrypted, created_at, updated_at, history_encrypted FROM entries ORDER BY created_at ASC, rowid ASC`
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows, key, method, includeHistory)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: failed to iterate entries: %w", err)
	}
	return entries, nil
}

// GetEntryWithHistory reads and decrypts a single row.
func (s *SQLStorage) GetEntryWithHistory(key []byte, method crypto.Method, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok, err := s.openExisting()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	rows, err := db.Query(`SELECT id, title, username, password_encrypted, created_at, updated_at, history_encrypted FROM entries WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("storage: failed to query entry: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanEntry(rows, key, method, true)
}

// sqlRow is an entry with its sensitive fields already encrypted.
type sqlRow struct {
	id, title, username, secret string
	createdAt, updatedAt        int64
	history                     string
}

// SaveEntries replaces the table contents in one transaction. Everything is
// encrypted before the transaction starts, so a crypto failure leaves the
// database untouched.
func (s *SQLStorage) SaveEntries(key []byte, method crypto.Method, entries []*Entry) error {
	rows := make([]sqlRow, 0, len(entries))
	for _, e := range entries {
		r, err := encryptRow(key, method, e)
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("storage: failed to clear entries: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO entries (id, title, username, password_encrypted, created_at, updated_at, history_encrypted) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.id, r.title, r.username, r.secret, r.createdAt, r.updatedAt, r.history); err != nil {
			return fmt.Errorf("storage: failed to insert entry %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: failed to commit transaction: %w", err)
	}
	return nil
}

// HasData reports whether an entry set has been saved, even an empty one,
// which matches a blob file holding an encrypted empty array. A missing
// database file is not created.
func (s *SQLStorage) HasData() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok, err := s.openExisting()
	if err != nil || !ok {
		return false, err
	}

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'entries'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: failed to check entries table: %w", err)
	}
	return true, nil
}

// Wipe closes the connection, then overwrites and deletes the database file
// together with its journal files.
func (s *SQLStorage) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		// Wrapped handle: there is no file we own, drop the rows instead.
		if s.db == nil {
			return nil
		}
		if _, err := s.db.Exec("DELETE FROM entries"); err != nil {
			return fmt.Errorf("storage: failed to wipe entries: %w", err)
		}
		return nil
	}

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
		s.migrated = false
	}

	var firstErr error
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := shredFile(s.path + suffix); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IntegrityCheck runs SQLite's integrity check on an existing database. A
// missing database passes.
func (s *SQLStorage) IntegrityCheck() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok, err := s.openExisting()
	if err != nil || !ok {
		return err
	}

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("storage: integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrCorrupted, result)
	}
	return nil
}

// Close closes the database connection. The backend reopens on next use.
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || s.path == "" {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.migrated = false
	return err
}

// openExisting opens the database only if the file already exists. ok is
// false when there is nothing on disk yet.
func (s *SQLStorage) openExisting() (*sql.DB, bool, error) {
	if s.db == nil && s.path != "" {
		if _, err := os.Stat(s.path); os.IsNotExist(err) {
			return nil, false, nil
		} else if err != nil {
			return nil, false, fmt.Errorf("storage: failed to stat database: %w", err)
		}
	}
	db, err := s.open()
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}

// open returns the connection, creating and migrating the database as needed.
func (s *SQLStorage) open() (*sql.DB, error) {
	if s.db != nil && s.migrated {
		return s.db, nil
	}

	if s.db == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), DirMode); err != nil {
			return nil, fmt.Errorf("storage: failed to create directory: %w", err)
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", s.path, busyTimeout)
		db, err := sql.Open(sqliteDriver, dsn)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to open database: %w", err)
		}
		// Single connection avoids "database is locked" for a single-user CLI.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		s.db = db
	}

	if err := runMigrations(context.Background(), s.db); err != nil {
		_ = s.db.Close()
		s.db = nil
		return nil, err
	}
	s.migrated = true

	if err := os.Chmod(s.path, FileMode); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: failed to set database permissions: %w", err)
	}
	return s.db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("storage: failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("storage: failed to migrate database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(rows rowScanner, key []byte, method crypto.Method, includeHistory bool) (*Entry, error) {
	var (
		e                      Entry
		secretText, historyTxt string
	)
	dest := []any{&e.ID, &e.Title, &e.Username, &secretText, &e.CreatedAt, &e.UpdatedAt}
	if includeHistory {
		dest = append(dest, &historyTxt)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("storage: failed to scan entry: %w", err)
	}

	secret, err := crypto.DecryptString(key, secretText, method)
	if err != nil {
		return nil, err
	}
	e.Secret = secret

	if includeHistory {
		history, err := decryptHistory(key, method, historyTxt)
		if err != nil {
			return nil, err
		}
		e.History = history
	}
	return &e, nil
}

func encryptRow(key []byte, method crypto.Method, e *Entry) (sqlRow, error) {
	secret, err := crypto.EncryptString(key, e.Secret, method)
	if err != nil {
		return sqlRow{}, err
	}
	history, err := encryptHistory(key, method, e.History)
	if err != nil {
		return sqlRow{}, err
	}
	return sqlRow{
		id:        e.ID,
		title:     e.Title,
		username:  e.Username,
		secret:    secret,
		createdAt: e.CreatedAt,
		updatedAt: e.UpdatedAt,
		history:   history,
	}, nil
}

func encryptHistory(key []byte, method crypto.Method, history []HistoryItem) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	plaintext, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("storage: failed to encode history: %w", err)
	}
	defer crypto.SecureWipe(plaintext)
	return crypto.EncryptText(key, plaintext, method)
}

func decryptHistory(key []byte, method crypto.Method, text string) ([]HistoryItem, error) {
	if text == "" {
		return []HistoryItem{}, nil
	}
	plaintext, err := crypto.DecryptText(key, text, method)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	var history []HistoryItem
	if err := json.Unmarshal(plaintext, &history); err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrCorrupted, err)
	}
	if history == nil {
		history = []HistoryItem{}
	}
	return history, nil
}
