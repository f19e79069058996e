package backup

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"
)

const testPassword = "correct horse battery staple"

var fastKDF = crypto.KDFParams{KeyIterations: 1000, HashIterations: 1000}

func openStore(t *testing.T, dir string) *vault.Store {
	t.Helper()
	s, err := vault.New(dir, vault.WithKDFParams(fastKDF), vault.WithoutDirLock())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// sourceStore returns an unlocked store holding one entry with history.
func sourceStore(t *testing.T) *vault.Store {
	t.Helper()
	s := openStore(t, t.TempDir())
	require.NoError(t, s.CreateVault(testPassword))
	require.NoError(t, s.AddEntry(&storage.Entry{Title: "Mail", Username: "me", Secret: "first"}))
	entries, err := s.GetAllEntries()
	require.NoError(t, err)
	_, err = s.SaveEntryChanges(entries[0].ID, "Mail", "me", "second")
	require.NoError(t, err)
	return s
}

func createBackup(t *testing.T, s *vault.Store, opts Options) ([]byte, *Header) {
	t.Helper()
	if opts.KDF.KeyIterations == 0 {
		opts.KDF = fastKDF
	}
	var buf bytes.Buffer
	header, err := Create(&buf, s, testPassword, opts)
	require.NoError(t, err)
	return buf.Bytes(), header
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := sourceStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, header := createBackup(t, src, Options{Now: func() time.Time { return created }})

	assert.Equal(t, FormatVersion, header.Version)
	assert.Equal(t, created, header.CreatedAt)
	assert.Equal(t, "file", header.Storage)
	assert.Equal(t, 1, header.EntryCount)
	assert.False(t, header.IncludesAudit)
	assert.Equal(t, 1000, header.KDF.Iterations)
	assert.NotContains(t, string(data), "second")

	dst := openStore(t, filepath.Join(t.TempDir(), "restored"))
	res, err := Restore(dst, data, testPassword, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.False(t, res.AuditRestored)
	assert.Equal(t, vault.StateLocked, dst.State())

	require.NoError(t, dst.Unlock(testPassword))
	entries, err := dst.GetAllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	full, err := dst.GetEntryWithHistory(entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "second", full.Secret)
	require.Len(t, full.History, 1)
	assert.Equal(t, "first", full.History[0].Value)
}

func TestBackupSQLStorage(t *testing.T) {
	src := sourceStore(t)
	require.NoError(t, src.SwitchStorageType(storage.KindSQL))
	data, header := createBackup(t, src, Options{})
	assert.Equal(t, "sql", header.Storage)

	dir := filepath.Join(t.TempDir(), "restored")
	dst := openStore(t, dir)
	_, err := Restore(dst, data, testPassword, RestoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, storage.KindSQL, dst.StorageType())
	assert.FileExists(t, filepath.Join(dir, storage.DBFileName))
	assert.NoFileExists(t, filepath.Join(dir, storage.BlobFileName))

	require.NoError(t, dst.Unlock(testPassword))
	entries, err := dst.GetAllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Mail", entries[0].Title)
}

func TestBackupWithAudit(t *testing.T) {
	src := sourceStore(t)
	data, header := createBackup(t, src, Options{IncludeAudit: true})
	assert.True(t, header.IncludesAudit)

	dst := openStore(t, filepath.Join(t.TempDir(), "restored"))
	res, err := Restore(dst, data, testPassword, RestoreOptions{WithAudit: true})
	require.NoError(t, err)
	assert.True(t, res.AuditRestored)

	require.NoError(t, dst.Unlock(testPassword))
	result, err := dst.AuditLog().Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Errors)
	assert.Zero(t, result.RecordsSkipped)
}

func TestRestoreExistingVault(t *testing.T) {
	src := sourceStore(t)
	data, _ := createBackup(t, src, Options{})

	dst := openStore(t, t.TempDir())
	require.NoError(t, dst.CreateVault("another password 123"))
	require.NoError(t, dst.AddEntry(&storage.Entry{Title: "Old", Secret: "old"}))

	_, err := Restore(dst, data, testPassword, RestoreOptions{Force: true})
	assert.ErrorIs(t, err, vault.ErrAlreadyUnlocked)

	require.NoError(t, dst.Lock())
	_, err = Restore(dst, data, testPassword, RestoreOptions{})
	assert.ErrorIs(t, err, vault.ErrVaultExists)

	_, err = Restore(dst, data, testPassword, RestoreOptions{Force: true})
	require.NoError(t, err)

	assert.False(t, dst.VerifyPassword("another password 123"))
	require.NoError(t, dst.Unlock(testPassword))
	entries, err := dst.GetAllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Mail", entries[0].Title)
}

func TestCreateRequiresMasterPassword(t *testing.T) {
	src := sourceStore(t)
	var buf bytes.Buffer

	_, err := Create(&buf, src, "", Options{KDF: fastKDF})
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = Create(&buf, src, "not the password", Options{KDF: fastKDF})
	assert.ErrorIs(t, err, vault.ErrInvalidPassword)

	require.NoError(t, src.Lock())
	_, err = Create(&buf, src, testPassword, Options{KDF: fastKDF})
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
	assert.Zero(t, buf.Len())
}

func TestOpenRejectsDamagedBackups(t *testing.T) {
	src := sourceStore(t)
	data, _ := createBackup(t, src, Options{})

	_, _, err := Open(data, "wrong password")
	assert.ErrorIs(t, err, ErrIntegrityFailed)

	tampered := bytes.Clone(data)
	tampered[len(tampered)-HMACLength-10] ^= 0xff
	_, _, err = Open(tampered, testPassword)
	assert.ErrorIs(t, err, ErrIntegrityFailed)

	_, _, err = Open(data[:len(data)-1], testPassword)
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = Open([]byte("not a backup at all"), testPassword)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, _, err = Open(data, "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestInspect(t *testing.T) {
	src := sourceStore(t)
	data, created := createBackup(t, src, Options{})

	header, err := Inspect(data)
	require.NoError(t, err)
	assert.Equal(t, created.EntryCount, header.EntryCount)
	assert.Equal(t, created.KDF.Salt, header.KDF.Salt)

	var buf bytes.Buffer
	bad := *created
	bad.Version = FormatVersion + 1
	require.NoError(t, writeHeader(&buf, &bad))
	_, err = Inspect(buf.Bytes())
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	buf.Reset()
	bad = *created
	bad.KDF.Iterations = 0
	require.NoError(t, writeHeader(&buf, &bad))
	_, err = Inspect(buf.Bytes())
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestValidFileName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{vault.SettingsFileName, true},
		{storage.BlobFileName, true},
		{storage.DBFileName, true},
		{"audit/2026-03.jsonl", true},
		{"audit/audit.meta", true},
		{"../settings.yaml", false},
		{"audit/../settings.yaml", false},
		{"audit/", false},
		{"audit/sub/file", false},
		{"/etc/passwd", false},
		{".lock", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validFileName(tt.name))
		})
	}
}
