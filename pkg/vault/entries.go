package vault

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/storage"
)

// AddEntry appends a new entry and persists the full set. An empty ID is
// replaced with a fresh one and zero timestamps with the current time.
func (s *Store) AddEntry(e *storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}
	if e == nil || strings.TrimSpace(e.Title) == "" {
		return ErrTitleRequired
	}

	entry := e.Clone()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if s.indexOf(entry.ID) >= 0 {
		return ErrEntryExists
	}
	now := storage.Millis(s.now())
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt == 0 {
		entry.UpdatedAt = entry.CreatedAt
	}
	if entry.History == nil {
		entry.History = []storage.HistoryItem{}
	}

	next := append(s.cloneEntries(), entry)
	if err := s.persist(next); err != nil {
		return err
	}
	s.historyLoaded[entry.ID] = true
	e.ID = entry.ID
	e.CreatedAt = entry.CreatedAt
	e.UpdatedAt = entry.UpdatedAt

	s.auditSuccess(audit.OpEntryAdd, entry.ID)
	s.log.Info("entry added", zap.String("id", entry.ID))
	return nil
}

// UpdateEntry replaces the stored entry with the same ID and persists the
// full set. History already on record is never dropped or reordered; see
// mergeHistory.
func (s *Store) UpdateEntry(e *storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}
	if e == nil {
		return ErrEntryNotFound
	}
	if strings.TrimSpace(e.Title) == "" {
		return ErrTitleRequired
	}
	idx := s.indexOf(e.ID)
	if idx < 0 {
		return ErrEntryNotFound
	}
	if err := s.ensureHistory(idx); err != nil {
		return err
	}

	entry := e.Clone()
	entry.History = mergeHistory(s.entries[idx].History, e.History)
	entry.CreatedAt = s.entries[idx].CreatedAt

	next := s.cloneEntries()
	next[idx] = entry
	if err := s.persist(next); err != nil {
		return err
	}

	s.auditSuccess(audit.OpEntryUpdate, entry.ID)
	s.log.Info("entry updated", zap.String("id", entry.ID))
	return nil
}

// DeleteEntry removes the entry with id and persists the full set.
func (s *Store) DeleteEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return ErrEntryNotFound
	}

	cur := s.cloneEntries()
	next := append(cur[:idx:idx], cur[idx+1:]...)
	if err := s.persist(next); err != nil {
		return err
	}
	delete(s.historyLoaded, id)

	s.auditSuccess(audit.OpEntryDelete, id)
	s.log.Info("entry deleted", zap.String("id", id))
	return nil
}

// GetEntryByID returns a copy of the entry including its history.
func (s *Store) GetEntryByID(id string) (*storage.Entry, error) {
	return s.GetEntryWithHistory(id)
}

// GetEntryWithHistory returns a copy of the entry including its history,
// decrypting the history of that single entry on first access.
func (s *Store) GetEntryWithHistory(id string) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return nil, ErrEntryNotFound
	}
	if err := s.ensureHistory(idx); err != nil {
		return nil, err
	}
	return s.entries[idx].Clone(), nil
}

// GetAllEntries returns copies of all entries in storage order. History is
// only populated for entries whose history has already been loaded; use
// GetEntryWithHistory for a complete record.
func (s *Store) GetAllEntries() ([]*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.cloneEntries(), nil
}

// SaveEntryChanges applies an edit to an existing entry. When the secret
// changes it is checked against the reuse window; with enforcement on a
// reused value fails with ErrPasswordReused, otherwise the save proceeds
// and reused is reported as a warning. The old secret goes to history only
// when it actually changes.
func (s *Store) SaveEntryChanges(id, title, username, secret string) (reused bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return false, err
	}
	title = strings.TrimSpace(title)
	username = strings.TrimSpace(username)
	if title == "" {
		return false, ErrTitleRequired
	}
	if secret == "" {
		return false, ErrSecretRequired
	}

	idx := s.indexOf(id)
	if idx < 0 {
		return false, ErrEntryNotFound
	}
	if err := s.ensureHistory(idx); err != nil {
		return false, err
	}

	entry := s.entries[idx].Clone()
	if secret != entry.Secret {
		reused = IsReused(entry, secret, s.settings.ReuseCheckCount)
		if reused && s.settings.EnforceReuseCheck {
			s.auditError(audit.OpEntryUpdate, id, ErrPasswordReused)
			return true, ErrPasswordReused
		}
		entry.ChangeSecret(secret, s.now())
	}
	entry.Title = title
	entry.Username = username

	next := s.cloneEntries()
	next[idx] = entry
	if err := s.persist(next); err != nil {
		return reused, err
	}

	s.auditSuccess(audit.OpEntryUpdate, id)
	s.log.Info("entry updated", zap.String("id", id), zap.Bool("reuse_warning", reused))
	return reused, nil
}

// CheckReuse reports whether candidate is among the last N distinct secrets
// of the entry, N being the configured reuse window.
func (s *Store) CheckReuse(id, candidate string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return false, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return false, ErrEntryNotFound
	}
	if err := s.ensureHistory(idx); err != nil {
		return false, err
	}
	return IsReused(s.entries[idx], candidate, s.settings.ReuseCheckCount), nil
}

// persist writes next through the active backend and adopts it as the
// in-memory set on success. Caller holds s.mu with the store unlocked and
// all history loaded into next.
func (s *Store) persist(next []*storage.Entry) error {
	if err := s.ensureAllHistoryIn(next); err != nil {
		return err
	}
	if err := s.checkDiskSpaceForWrite(0); err != nil {
		return err
	}
	if err := s.backend().SaveEntries(s.key.Bytes(), s.settings.Method(), next); err != nil {
		return classify("save entries", err)
	}
	s.entries = next
	for _, e := range next {
		s.historyLoaded[e.ID] = true
	}
	return nil
}

// ensureHistory loads the history of entry idx from the backend if the
// list was loaded without it.
func (s *Store) ensureHistory(idx int) error {
	e := s.entries[idx]
	if s.historyLoaded[e.ID] {
		return nil
	}
	full, err := s.backend().GetEntryWithHistory(s.key.Bytes(), s.settings.Method(), e.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Added in this session and not yet readable: nothing to merge.
		full = &storage.Entry{History: []storage.HistoryItem{}}
	case err != nil:
		return classify("load history", err)
	}
	e.History = mergeHistory(full.History, e.History)
	s.historyLoaded[e.ID] = true
	return nil
}

// ensureAllHistory loads every missing history so a full save cannot drop
// it. More than one missing history is read in a single pass over the
// backend.
func (s *Store) ensureAllHistory() error {
	var missing []int
	for i, e := range s.entries {
		if !s.historyLoaded[e.ID] {
			missing = append(missing, i)
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return s.ensureHistory(missing[0])
	}

	full, err := s.backend().LoadEntries(s.key.Bytes(), s.settings.Method(), true)
	if err != nil {
		return classify("load history", err)
	}
	stored := make(map[string][]storage.HistoryItem, len(full))
	for _, f := range full {
		stored[f.ID] = f.History
	}
	for _, i := range missing {
		e := s.entries[i]
		e.History = mergeHistory(stored[e.ID], e.History)
		s.historyLoaded[e.ID] = true
	}
	return nil
}

// ensureAllHistoryIn loads missing histories for entries of next that are
// shared with the current set.
func (s *Store) ensureAllHistoryIn(next []*storage.Entry) error {
	var pending []*storage.Entry
	for _, e := range next {
		if !s.historyLoaded[e.ID] && s.indexOf(e.ID) >= 0 {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if err := s.ensureAllHistory(); err != nil {
		return err
	}
	for _, e := range pending {
		e.History = mergeHistory(s.entries[s.indexOf(e.ID)].History, e.History)
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) cloneEntries() []*storage.Entry {
	out := make([]*storage.Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// mergeHistory combines the stored history with an incoming one. An
// incoming history that extends the stored one replaces it, and a stale copy
// that the stored one extends is ignored. Otherwise only incoming items that
// ended after the last stored item are appended, so history keeps its order.
func mergeHistory(stored, incoming []storage.HistoryItem) []storage.HistoryItem {
	if hasPrefix(incoming, stored) {
		out := make([]storage.HistoryItem, len(incoming))
		copy(out, incoming)
		return out
	}
	out := make([]storage.HistoryItem, 0, len(stored)+len(incoming))
	out = append(out, stored...)
	if hasPrefix(stored, incoming) {
		return out
	}
	var last int64
	if len(stored) > 0 {
		last = stored[len(stored)-1].EndDate
	}
	for _, item := range incoming {
		if item.EndDate > last {
			out = append(out, item)
			last = item.EndDate
		}
	}
	return out
}

func hasPrefix(items, prefix []storage.HistoryItem) bool {
	if len(items) < len(prefix) {
		return false
	}
	for i := range prefix {
		if items[i] != prefix[i] {
			return false
		}
	}
	return true
}
