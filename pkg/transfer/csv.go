package transfer

import "fmt"

// OnePasswordParser parses 1Password CSV exports:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

// 1Password CSV column names (header-based parsing).
const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColArchived = "Archived"
)

// Format returns Format1Password.
func (p *OnePasswordParser) Format() Format {
	return Format1Password
}

// Parse parses 1Password CSV data. Archived items are skipped.
func (p *OnePasswordParser) Parse(data []byte) (*ParseResult, error) {
	result := &ParseResult{}
	counter := defaultFallbackAt

	warnings, err := csvRows(data, op1ColTitle, false, func(rowNum int, get func(string) string) {
		title := get(op1ColTitle)
		if get(op1ColArchived) == "true" {
			result.Skipped = append(result.Skipped, Skipped{Title: title, Reason: "archived"})
			return
		}
		username, password := get(op1ColUsername), get(op1ColPassword)
		if username == "" && password == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: skipped: no username or password", rowNum))
			result.Skipped = append(result.Skipped, Skipped{Title: title, Reason: "no useful data"})
			return
		}
		result.Entries = append(result.Entries, newImported(title, username, password, get(op1ColWebsite), &counter))
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = append(warnings, result.Warnings...)
	return result, nil
}

// LastPassParser parses LastPass CSV exports:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// LastPass CSV column names (header-based parsing).
const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColName     = "name"
)

// lpSecureNoteURL marks secure notes in LastPass exports.
const lpSecureNoteURL = "http://sn"

// Format returns FormatLastPass.
func (p *LastPassParser) Format() Format {
	return FormatLastPass
}

// Parse parses LastPass CSV data. Secure notes are skipped.
func (p *LastPassParser) Parse(data []byte) (*ParseResult, error) {
	result := &ParseResult{}
	counter := defaultFallbackAt

	warnings, err := csvRows(data, lpColName, true, func(rowNum int, get func(string) string) {
		value := func(col string) string { return DecodeHTMLEntities(get(col)) }

		name, url := value(lpColName), value(lpColURL)
		if url == lpSecureNoteURL {
			result.Skipped = append(result.Skipped, Skipped{Title: name, Reason: "secure note"})
			return
		}
		username, password := value(lpColUsername), value(lpColPassword)
		if username == "" && password == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: skipped: no username or password", rowNum))
			result.Skipped = append(result.Skipped, Skipped{Title: name, Reason: "no useful data"})
			return
		}
		result.Entries = append(result.Entries, newImported(name, username, password, url, &counter))
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = append(warnings, result.Warnings...)
	return result, nil
}
