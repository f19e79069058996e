// Package transfer moves entries in and out of a vault as plaintext
// documents: the native versioned JSON format, plus read-only parsers for
// other password managers' exports.
//
// Exported documents are unencrypted. They never carry history, and
// imported entries always receive fresh ids.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/storage"
)

// FormatVersion is the version written by Export.
const FormatVersion = 1

// Errors
var (
	ErrUnsupportedVersion = errors.New("transfer: unsupported document version")
	ErrMalformed          = errors.New("transfer: malformed document")
)

// Document is the native export format.
type Document struct {
	Version int              `json:"version"`
	Entries []*storage.Entry `json:"entries"`
}

// Source is what Export reads from. *vault.Store implements it.
type Source interface {
	GetAllEntries() ([]*storage.Entry, error)
	AuditLog() *audit.Logger
}

// Sink is what Import writes to. *vault.Store implements it.
type Sink interface {
	AddEntry(e *storage.Entry) error
	AuditLog() *audit.Logger
}

// Export writes every entry of src to w as an indented Document, without
// history.
func Export(w io.Writer, src Source) (int, error) {
	entries, err := src.GetAllEntries()
	if err != nil {
		return 0, err
	}

	data, err := Encode(entries)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		logAudit(src.AuditLog(), audit.OpTransferExport, audit.ResultError, err.Error(), 0)
		return 0, fmt.Errorf("transfer: failed to write export: %w", err)
	}

	logAudit(src.AuditLog(), audit.OpTransferExport, audit.ResultSuccess, "", len(entries))
	return len(entries), nil
}

// Encode renders entries as a Document. History is always emitted empty.
func Encode(entries []*storage.Entry) ([]byte, error) {
	doc := Document{Version: FormatVersion, Entries: make([]*storage.Entry, 0, len(entries))}
	for _, e := range entries {
		c := e.Clone()
		c.History = []storage.HistoryItem{}
		doc.Entries = append(doc.Entries, c)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("transfer: failed to encode document: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a native Document. A document without an entries list
// decodes to no entries.
func Decode(data []byte) ([]*storage.Entry, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	out := make([]*storage.Entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Skipped is an input item that was not imported.
type Skipped struct {
	Title  string
	Reason string
}

// Result summarizes an Import.
type Result struct {
	Imported int
	Skipped  []Skipped
}

// Import adds entries to dst. Every entry gets a fresh id and an empty
// history; title and username are trimmed and NFC normalized; timestamps
// are kept, and missing ones are filled in by dst. Entries without a
// title are skipped. The first AddEntry error stops the import.
func Import(dst Sink, entries []*storage.Entry) (*Result, error) {
	res := &Result{}
	for _, in := range entries {
		e := Prepare(in)
		if e.Title == "" {
			res.Skipped = append(res.Skipped, Skipped{Title: in.Title, Reason: "missing title"})
			continue
		}
		if err := dst.AddEntry(e); err != nil {
			logAudit(dst.AuditLog(), audit.OpTransferImport, audit.ResultError, err.Error(), res.Imported)
			return res, err
		}
		res.Imported++
	}

	logAudit(dst.AuditLog(), audit.OpTransferImport, audit.ResultSuccess, "", res.Imported)
	return res, nil
}

// Prepare returns the entry as Import would add it.
func Prepare(in *storage.Entry) *storage.Entry {
	return &storage.Entry{
		ID:        uuid.NewString(),
		Title:     NormalizeText(in.Title),
		Username:  NormalizeText(in.Username),
		Secret:    in.Secret,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
		History:   []storage.HistoryItem{},
	}
}

// NormalizeText trims whitespace and applies Unicode NFC.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func logAudit(l *audit.Logger, op, result, errMsg string, count int) {
	if l == nil {
		return
	}
	_ = l.Log(op, result, "", errMsg, map[string]any{"entries": count})
}
