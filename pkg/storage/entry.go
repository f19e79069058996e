// Package storage persists vault entries.
//
// Two interchangeable backends implement Storage:
//
//   - BlobStorage writes the whole entry set as one encrypted JSON document
//     (vault.dat).
//   - SQLStorage keeps one SQLite row per entry with the secret and the
//     history encrypted column by column (passvault.db).
//
// Backends receive the session key and method from the caller and never
// store either.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// dayMillis is one day in epoch milliseconds.
const dayMillis = 24 * 60 * 60 * 1000

// Entry is one credential record. JSON field names match the on-disk vault
// document and must not change.
type Entry struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Username  string        `json:"username"`
	Secret    string        `json:"passwordOrToken"`
	CreatedAt int64         `json:"createdAt"` // epoch milliseconds
	UpdatedAt int64         `json:"updatedAt"` // epoch milliseconds
	History   []HistoryItem `json:"history"`   // oldest first
}

// HistoryItem is a retired secret and the window during which it was current.
type HistoryItem struct {
	StartDate int64  `json:"startDate"`
	EndDate   int64  `json:"endDate"`
	Value     string `json:"passValue"`
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NewEntry creates an entry with a fresh id. UpdatedAt starts equal to CreatedAt.
func NewEntry(title, username, secret string, now time.Time) *Entry {
	ts := Millis(now)
	return &Entry{
		ID:        uuid.NewString(),
		Title:     title,
		Username:  username,
		Secret:    secret,
		CreatedAt: ts,
		UpdatedAt: ts,
		History:   []HistoryItem{},
	}
}

// PushCurrentToHistory records the current secret as retired at now. It must
// be called immediately before the secret is overwritten; an empty secret is
// not recorded.
func (e *Entry) PushCurrentToHistory(now time.Time) {
	if e.Secret == "" {
		return
	}
	e.History = append(e.History, HistoryItem{
		StartDate: e.UpdatedAt,
		EndDate:   Millis(now),
		Value:     e.Secret,
	})
}

// ChangeSecret replaces the secret, retiring the old value into history when
// it actually changes, and advances UpdatedAt. It reports whether the
// secret changed.
func (e *Entry) ChangeSecret(secret string, now time.Time) bool {
	if secret == e.Secret {
		return false
	}
	e.PushCurrentToHistory(now)
	e.Secret = secret
	e.UpdatedAt = Millis(now)
	return true
}

// Clone returns a deep copy of the entry. A nil history stays nil so callers
// can tell "not loaded" from "empty".
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.History != nil {
		c.History = make([]HistoryItem, len(e.History))
		copy(c.History, e.History)
	}
	return &c
}

// DaysUsed returns the whole number of days the value was current.
func (h HistoryItem) DaysUsed() int {
	if h.EndDate <= h.StartDate {
		return 0
	}
	return int((h.EndDate - h.StartDate) / dayMillis)
}

// Start returns StartDate as a time.
func (h HistoryItem) Start() time.Time {
	return time.UnixMilli(h.StartDate)
}

// End returns EndDate as a time.
func (h HistoryItem) End() time.Time {
	return time.UnixMilli(h.EndDate)
}
