// Package backup writes and restores encrypted snapshots of a vault
// directory.
package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the file is not a passvault backup.
	ErrInvalidMagic = errors.New("backup: invalid backup file: magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is not supported.
	ErrUnsupportedVersion = errors.New("backup: unsupported backup format version")

	// ErrTruncated indicates the file ends before the declared sections.
	ErrTruncated = errors.New("backup: backup file truncated")

	// ErrIntegrityFailed indicates the HMAC did not match: a wrong password
	// or a modified file.
	ErrIntegrityFailed = errors.New("backup: integrity check failed: wrong password or modified file")

	// ErrDecryptionFailed indicates the payload could not be decrypted.
	ErrDecryptionFailed = errors.New("backup: decryption failed")

	// ErrInvalidHeader indicates header fields outside the accepted ranges.
	ErrInvalidHeader = errors.New("backup: invalid header")

	// ErrInvalidFile indicates a payload file name outside the vault layout.
	ErrInvalidFile = errors.New("backup: unexpected file in payload")

	// ErrEmptyPassword indicates an empty password was provided.
	ErrEmptyPassword = errors.New("backup: password cannot be empty")
)
