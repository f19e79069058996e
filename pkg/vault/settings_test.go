package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), SettingsFileName))
	require.NoError(t, err)

	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, crypto.MethodGCM, s.Method())
	assert.Equal(t, storage.KindFile, s.Kind())
	assert.Equal(t, 3, s.ReuseCheckCount)
	assert.True(t, s.EnforceReuseCheck)
	assert.Equal(t, 2, s.WipeAfterAttempts)
	assert.False(t, s.PrankOnly)
	assert.False(t, s.HasCredentials())
}

func TestLoadSettingsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte("storage_type: sql\nprank_only: true\n"), 0600))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, storage.KindSQL, s.Kind())
	assert.True(t, s.PrankOnly)
	assert.Equal(t, DefaultReuseCheckCount, s.ReuseCheckCount)
	assert.Equal(t, crypto.MethodGCM, s.Method())
}

func TestLoadSettingsClamps(t *testing.T) {
	tests := []struct {
		yaml        string
		reuse, wipe int
	}{
		{"reuse_check_count: 0\nwipe_after_attempts: 0\n", 1, 1},
		{"reuse_check_count: 51\nwipe_after_attempts: 11\n", 50, 10},
		{"reuse_check_count: -4\nwipe_after_attempts: 99\n", 1, 10},
		{"reuse_check_count: 10\nwipe_after_attempts: 5\n", 10, 5},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), SettingsFileName)
		require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))

		s, err := LoadSettings(path)
		require.NoError(t, err)
		assert.Equal(t, tt.reuse, s.ReuseCheckCount, tt.yaml)
		assert.Equal(t, tt.wipe, s.WipeAfterAttempts, tt.yaml)
	}
}

func TestLoadSettingsUnknownValuesFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte("encryption_method: rot13\nstorage_type: cloud\n"), 0600))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, crypto.MethodGCM, s.Method())
	assert.Equal(t, storage.KindFile, s.Kind())
}

func TestLoadSettingsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte("reuse_check_count: [oops"), 0600))

	_, err := LoadSettings(path)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSettingsSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	s := DefaultSettings()
	s.SetCredentials([]byte("salt-bytes"), []byte("hash-bytes"))
	s.EncryptionMethod = string(crypto.MethodCBC)
	s.ReuseCheckCount = 7
	require.NoError(t, s.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	salt, err := loaded.SaltBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("salt-bytes"), salt)
	hash, err := loaded.HashBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hash-bytes"), hash)
}

func TestSettingsCredentials(t *testing.T) {
	s := DefaultSettings()
	_, err := s.SaltBytes()
	assert.ErrorIs(t, err, ErrSaltMissing)
	_, err = s.HashBytes()
	assert.ErrorIs(t, err, ErrHashMissing)

	s.Salt = "%%%"
	_, err = s.SaltBytes()
	assert.ErrorIs(t, err, ErrConfig)

	s.SetCredentials([]byte{1}, []byte{2})
	assert.True(t, s.HasCredentials())
	s.ClearCredentials()
	assert.False(t, s.HasCredentials())
}

func TestStoreSettingsSetters(t *testing.T) {
	s := createdStore(t)

	require.NoError(t, s.SetReuseCheckCount(100))
	assert.Equal(t, MaxReuseCheckCount, s.ReuseCheckCount())
	require.NoError(t, s.SetReuseCheckCount(0))
	assert.Equal(t, MinReuseCheckCount, s.ReuseCheckCount())
	require.NoError(t, s.SetWipeAfterAttempts(42))
	assert.Equal(t, MaxWipeAfterAttempts, s.WipeAfterAttempts())
	require.NoError(t, s.SetEnforceReuseCheck(false))
	require.NoError(t, s.SetPrankOnly(true))

	s = reopen(t, s)
	assert.Equal(t, MinReuseCheckCount, s.ReuseCheckCount())
	assert.Equal(t, MaxWipeAfterAttempts, s.WipeAfterAttempts())
	assert.False(t, s.EnforceReuseCheck())
	assert.True(t, s.PrankOnly())

	view := s.Settings()
	assert.Empty(t, view.Salt)
	assert.Empty(t, view.MasterHash)
	assert.True(t, s.IsVaultCreated(), "the view does not touch the stored credentials")
}

func TestSetEncryptionMethod(t *testing.T) {
	for _, kind := range []storage.Kind{storage.KindFile, storage.KindSQL} {
		t.Run(string(kind), func(t *testing.T) {
			s := createdStore(t)
			require.NoError(t, s.SwitchStorageType(kind))
			e := storage.NewEntry("Mail", "me", "hunter2", time.Now())
			require.NoError(t, s.AddEntry(e))
			_, err := s.SaveEntryChanges(e.ID, "Mail", "me", "hunter3")
			require.NoError(t, err)

			require.NoError(t, s.SetEncryptionMethod(crypto.MethodCBC))
			assert.Equal(t, crypto.MethodCBC, s.EncryptionMethod())

			s = reopen(t, s)
			assert.Equal(t, crypto.MethodCBC, s.EncryptionMethod())
			require.NoError(t, s.Unlock(testPassword))
			got, err := s.GetEntryWithHistory(e.ID)
			require.NoError(t, err)
			assert.Equal(t, "hunter3", got.Secret)
			require.Len(t, got.History, 1)
			assert.Equal(t, "hunter2", got.History[0].Value)

			require.NoError(t, s.SetEncryptionMethod(crypto.MethodCBC), "same method is a no-op")
			assert.Error(t, s.SetEncryptionMethod(crypto.Method("rot13")))
		})
	}
}

func TestSetEncryptionMethodBeforeCreate(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SetEncryptionMethod(crypto.MethodCBC))
	require.NoError(t, s.CreateVault(testPassword))
	require.NoError(t, s.AddEntry(storage.NewEntry("Mail", "me", "hunter2", time.Now())))

	s = reopen(t, s)
	assert.Equal(t, crypto.MethodCBC, s.EncryptionMethod())
	require.NoError(t, s.Unlock(testPassword))
	entries, err := s.GetAllEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSwitchStorageType(t *testing.T) {
	clock := newFakeClock()
	s := createdStore(t, WithClock(clock.Now))
	id := reuseFixture(t, s, clock)

	require.NoError(t, s.Lock())
	require.NoError(t, s.Unlock(testPassword))

	require.NoError(t, s.SwitchStorageType(storage.KindSQL))
	assert.Equal(t, storage.KindSQL, s.StorageType())

	// The old backend keeps its data.
	has, err := s.BackendHasData(storage.KindFile)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.BackendHasData(storage.KindSQL)
	require.NoError(t, err)
	assert.True(t, has)

	s = reopen(t, s, WithClock(clock.Now))
	assert.Equal(t, storage.KindSQL, s.StorageType())
	require.NoError(t, s.Unlock(testPassword))
	got, err := s.GetEntryWithHistory(id)
	require.NoError(t, err)
	assert.Equal(t, "P1", got.Secret)
	assert.Len(t, got.History, 2, "history survives migration even when it was never loaded")

	require.NoError(t, s.SwitchStorageType(storage.KindSQL), "same kind is a no-op")
	assert.Error(t, s.SwitchStorageType(storage.Kind("cloud")))

	require.NoError(t, s.SwitchStorageType(storage.KindFile))
	got, err = s.GetEntryWithHistory(id)
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
}

func TestSwitchStorageTypeEmptyVault(t *testing.T) {
	s := createdStore(t)

	require.NoError(t, s.SwitchStorageType(storage.KindSQL))
	has, err := s.BackendHasData(storage.KindFile)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.SwitchStorageType(storage.KindFile))
	has, err = s.BackendHasData(storage.KindSQL)
	require.NoError(t, err)
	assert.True(t, has, "an empty saved set still counts as data")
}

func TestBackendHasDataUnknownKind(t *testing.T) {
	s := newStore(t)
	_, err := s.BackendHasData(storage.Kind("cloud"))
	assert.ErrorIs(t, err, storage.ErrUnknownKind)
}
