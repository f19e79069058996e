// Package cli provides helpers shared by the passvault commands.
package cli

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNoMatch is returned when a pattern matches no title.
var ErrNoMatch = errors.New("no entries match")

// HasGlob reports whether pattern contains glob characters (*?[).
func HasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// MatchTitle returns the indices of the titles matched by pattern, in title
// order. Matching ignores case. A pattern without glob characters must equal
// the whole title; slashes in titles are ordinary characters.
func MatchTitle(pattern string, titles []string) ([]int, error) {
	glob := fold(pattern)
	// Validate pattern syntax
	if _, err := path.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	var matches []int
	for i, title := range titles {
		if !HasGlob(pattern) {
			if strings.EqualFold(title, pattern) {
				matches = append(matches, i)
			}
			continue
		}
		ok, err := path.Match(glob, fold(title))
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, i)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w '%s'", ErrNoMatch, pattern)
	}
	return matches, nil
}

// MatchTitles applies every pattern and returns the union of the matched
// indices in order of first match.
func MatchTitles(patterns []string, titles []string) ([]int, error) {
	seen := make(map[int]bool)
	var result []int

	for _, pattern := range patterns {
		matches, err := MatchTitle(pattern, titles)
		if err != nil {
			return nil, err
		}
		for _, i := range matches {
			if !seen[i] {
				seen[i] = true
				result = append(result, i)
			}
		}
	}
	return result, nil
}

// fold lowercases s and turns '/' into a byte path.Match treats as ordinary.
func fold(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "/", "\x00")
}
