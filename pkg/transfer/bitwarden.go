package transfer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/passvault/passvault/pkg/storage"
)

// BitwardenParser parses Bitwarden unencrypted JSON exports. Only login
// items map onto entries.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

// bitwardenExport represents the top-level Bitwarden export structure.
type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

// bitwardenItem represents a Bitwarden vault item.
type bitwardenItem struct {
	Type         int             `json:"type"`
	Name         string          `json:"name"`
	Login        *bitwardenLogin `json:"login"`
	CreationDate string          `json:"creationDate"`
	RevisionDate string          `json:"revisionDate"`
}

// bitwardenLogin represents Bitwarden login data.
type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
}

// bitwardenURI represents a Bitwarden URI entry.
type bitwardenURI struct {
	URI string `json:"uri"`
}

// Format returns FormatBitwarden.
func (p *BitwardenParser) Format() Format {
	return FormatBitwarden
}

// Parse parses Bitwarden JSON data. Creation and revision dates, when
// present, become the entry timestamps.
func (p *BitwardenParser) Parse(data []byte) (*ParseResult, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("%w: failed to parse Bitwarden JSON: %v", ErrMalformed, err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("%w: Bitwarden export is encrypted", ErrMalformed)
	}

	result := &ParseResult{}
	counter := defaultFallbackAt
	for i := range export.Items {
		item := &export.Items[i]
		if item.Type != bitwardenTypeLogin || item.Login == nil {
			result.Skipped = append(result.Skipped, Skipped{Title: item.Name, Reason: bitwardenTypeName(item.Type)})
			continue
		}
		login := item.Login
		if login.Username == "" && login.Password == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("item %d (%s): skipped: no username or password", i+1, item.Name))
			result.Skipped = append(result.Skipped, Skipped{Title: item.Name, Reason: "no useful data"})
			continue
		}

		var url string
		if len(login.URIs) > 0 {
			url = login.URIs[0].URI
		}
		e := newImported(item.Name, login.Username, login.Password, url, &counter)
		e.CreatedAt = parseBitwardenTime(item.CreationDate)
		e.UpdatedAt = parseBitwardenTime(item.RevisionDate)
		if e.UpdatedAt == 0 {
			e.UpdatedAt = e.CreatedAt
		}
		result.Entries = append(result.Entries, e)
	}
	return result, nil
}

func bitwardenTypeName(t int) string {
	switch t {
	case bitwardenTypeLogin:
		return "login without credentials"
	case bitwardenTypeSecureNote:
		return "secure note"
	case bitwardenTypeCard:
		return "card"
	case bitwardenTypeIdentity:
		return "identity"
	default:
		return fmt.Sprintf("unsupported item type: %d", t)
	}
}

// parseBitwardenTime returns epoch milliseconds, or 0 if s is not RFC 3339.
func parseBitwardenTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return storage.Millis(t)
}
