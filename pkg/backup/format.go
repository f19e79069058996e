package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"
)

// MagicNumber starts every backup file: "PVLT_BKP".
var MagicNumber = [8]byte{'P', 'V', 'L', 'T', '_', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

const (
	maxHeaderSize = 64 * 1024
	// maxIterations bounds the work a crafted header can demand.
	maxIterations = 10_000_000
)

// KDFHeader records how the backup keys were derived from the password.
type KDFHeader struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
}

// Header is the plaintext part of a backup. It is covered by the HMAC.
type Header struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	Storage       string    `json:"storage"`
	KDF           KDFHeader `json:"kdf"`
	IncludesAudit bool      `json:"includes_audit"`
	EntryCount    int       `json:"entry_count"`
}

// Payload holds the vault files keyed by slash-separated path relative to
// the vault directory.
type Payload struct {
	Files map[string][]byte `json:"files"`
}

// HasAudit reports whether the payload carries audit log files.
func (p *Payload) HasAudit() bool {
	for name := range p.Files {
		if strings.HasPrefix(name, vault.AuditDirName+"/") {
			return true
		}
	}
	return false
}

// validFileName reports whether name belongs to the vault layout.
func validFileName(name string) bool {
	switch name {
	case vault.SettingsFileName, storage.BlobFileName, storage.DBFileName:
		return true
	}
	dir, base := path.Split(name)
	return dir == vault.AuditDirName+"/" && base != "" && base != "." && base != ".." &&
		!strings.ContainsAny(base, `/\`)
}

// writeHeader writes the magic number, the header length and the header.
func writeHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("failed to write magic number: %w", err)
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// readHeader reads and validates the magic number and header.
func readHeader(r *bytes.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagic
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, ErrTruncated
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header too large: %d bytes", ErrInvalidHeader, headerLen)
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	if header.KDF.Iterations < 1 || header.KDF.Iterations > maxIterations {
		return nil, fmt.Errorf("%w: iterations %d", ErrInvalidHeader, header.KDF.Iterations)
	}
	if len(header.KDF.Salt) == 0 {
		return nil, fmt.Errorf("%w: missing salt", ErrInvalidHeader)
	}
	return &header, nil
}

func encodePayload(p *Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	for name := range p.Files {
		if !validFileName(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFile, name)
		}
	}
	return &p, nil
}
