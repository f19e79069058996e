package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/passvault/passvault/pkg/storage"
)

// DuplicateGroup represents a group of entries sharing the same current secret.
type DuplicateGroup struct {
	// EntryIDs contains the entries with duplicate values.
	EntryIDs []string `json:"entry_ids,omitempty"`
	// Titles contains the titles of those entries, in the same order.
	Titles []string `json:"titles,omitempty"`
	// Count is the number of duplicates.
	Count int `json:"count"`
}

// duplicateEntry tracks a single secret occurrence for grouping.
type duplicateEntry struct {
	id    string
	title string
	hash  string
}

// FindDuplicates groups entries whose current secrets are equal.
// Secrets are compared as HMAC-SHA256 digests under a session-local key so
// plaintext values are never used as map keys. Values are trimmed and NFC
// normalized first. Groups are sorted by count, most duplicated first.
func (c *Calculator) FindDuplicates(entries []*storage.Entry, includeIDs bool, limit int) ([]DuplicateGroup, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}

	var seen []duplicateEntry
	for _, e := range entries {
		value := normalizeValue(e.Secret)
		if value == "" {
			continue
		}
		seen = append(seen, duplicateEntry{
			id:    e.ID,
			title: e.Title,
			hash:  computeValueHash(value, c.hmacKey),
		})
	}

	hashGroups := make(map[string][]duplicateEntry)
	var order []string
	for _, d := range seen {
		if _, ok := hashGroups[d.hash]; !ok {
			order = append(order, d.hash)
		}
		hashGroups[d.hash] = append(hashGroups[d.hash], d)
	}

	var groups []DuplicateGroup
	for _, h := range order {
		members := hashGroups[h]
		if len(members) <= 1 {
			continue
		}
		group := DuplicateGroup{Count: len(members)}
		if includeIDs {
			for _, m := range members {
				group.EntryIDs = append(group.EntryIDs, m.id)
				group.Titles = append(group.Titles, m.title)
			}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// RecycledSecret reports whether the entry's current secret also appears in
// its own history. History must be loaded.
func RecycledSecret(e *storage.Entry) bool {
	cur := normalizeValue(e.Secret)
	if cur == "" {
		return false
	}
	for _, h := range e.History {
		if normalizeValue(h.Value) == cur {
			return true
		}
	}
	return false
}

func (c *Calculator) ensureKey() error {
	if c.hmacKey != nil {
		return nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	c.hmacKey = key
	return nil
}

// computeValueHash computes HMAC-SHA256 of a value with the session key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeValue trims surrounding whitespace and applies Unicode NFC.
func normalizeValue(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
