package vault

import "github.com/passvault/passvault/pkg/storage"

// ReuseCandidates returns up to n distinct secrets of e: the current value
// first, then history walked newest first. Empty values are skipped.
func ReuseCandidates(e *storage.Entry, n int) []string {
	if e == nil || n < 1 {
		return nil
	}
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(e.Secret)
	for i := len(e.History) - 1; i >= 0 && len(out) < n; i-- {
		add(e.History[i].Value)
	}
	return out
}

// IsReused reports whether candidate is one of the last n distinct secrets
// of e.
func IsReused(e *storage.Entry, candidate string, n int) bool {
	for _, v := range ReuseCandidates(e, n) {
		if v == candidate {
			return true
		}
	}
	return false
}
