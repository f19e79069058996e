package transfer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/passvault/passvault/pkg/storage"
)

// Format identifies an import document format.
type Format string

const (
	FormatPassvault   Format = "passvault"
	Format1Password   Format = "1password"
	FormatBitwarden   Format = "bitwarden"
	FormatLastPass    Format = "lastpass"
	defaultFallbackAt        = 1
)

// ParseResult contains the entries parsed from a document.
type ParseResult struct {
	// Entries are the successfully parsed entries, ids not yet assigned.
	Entries []*storage.Entry

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []Skipped
}

// Parser turns a document into entries.
type Parser interface {
	Parse(data []byte) (*ParseResult, error)
	Format() Format
}

// GetParser returns a parser for the given format.
func GetParser(format Format) (Parser, error) {
	switch format {
	case FormatPassvault:
		return &NativeParser{}, nil
	case Format1Password:
		return &OnePasswordParser{}, nil
	case FormatBitwarden:
		return &BitwardenParser{}, nil
	case FormatLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("transfer: unsupported import format: %s", format)
	}
}

// ValidFormats returns the accepted format names.
func ValidFormats() []string {
	return []string{
		string(FormatPassvault),
		string(Format1Password),
		string(FormatBitwarden),
		string(FormatLastPass),
	}
}

// NativeParser parses documents written by Export.
type NativeParser struct{}

// Format returns FormatPassvault.
func (p *NativeParser) Format() Format {
	return FormatPassvault
}

// Parse decodes a native document.
func (p *NativeParser) Parse(data []byte) (*ParseResult, error) {
	entries, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &ParseResult{Entries: entries}, nil
}

// csvRows reads a header-indexed CSV document. Rows with the wrong column
// count or parse errors become warnings. fold lowercases header names.
func csvRows(data []byte, required string, fold bool, each func(rowNum int, get func(string) string)) ([]string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", ErrMalformed, err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		col = strings.TrimSpace(col)
		if fold {
			col = strings.ToLower(col)
		}
		colIndex[col] = i
	}
	if _, ok := colIndex[required]; !ok {
		return nil, fmt.Errorf("%w: missing required column: %s", ErrMalformed, required)
	}

	var warnings []string
	rowNum := 1
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(row) != len(header) {
			warnings = append(warnings, fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)",
				rowNum, len(header), len(row)))
			continue
		}
		each(rowNum, func(col string) string {
			if idx, ok := colIndex[col]; ok && idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		})
	}
	return warnings, nil
}

// FallbackTitle names an entry that has no title: the hostname of url if
// there is one, otherwise "Imported item N".
func FallbackTitle(url string, counter int) string {
	if host := extractHostname(url); host != "" {
		return host
	}
	return fmt.Sprintf("Imported item %d", counter)
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimPrefix(urlStr, "www.")
}

// DecodeHTMLEntities decodes the HTML entities LastPass writes into exports.
func DecodeHTMLEntities(s string) string {
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&apos;", "'",
	)
	return r.Replace(s)
}

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// newImported builds an entry from foreign fields, naming it from url or
// the counter when title is blank.
func newImported(title, username, secret, url string, counter *int) *storage.Entry {
	if IsEmptyOrWhitespace(title) {
		title = FallbackTitle(url, *counter)
		*counter++
	}
	return &storage.Entry{
		Title:    title,
		Username: username,
		Secret:   secret,
		History:  []storage.HistoryItem{},
	}
}
