package cli

import (
	"errors"
	"testing"
)

func TestMatchTitle(t *testing.T) {
	titles := []string{
		"AWS Console",
		"aws root",
		"Bank",
		"GitHub",
		"work/GitLab",
	}

	tests := []struct {
		name     string
		pattern  string
		expected []int
		wantErr  bool
	}{
		{
			name:     "exact match ignores case",
			pattern:  "bank",
			expected: []int{2},
		},
		{
			name:     "wildcard prefix",
			pattern:  "AWS*",
			expected: []int{0, 1},
		},
		{
			name:     "wildcard suffix",
			pattern:  "*hub",
			expected: []int{3},
		},
		{
			name:     "question mark",
			pattern:  "B?nk",
			expected: []int{2},
		},
		{
			name:     "slash is not a separator",
			pattern:  "work*",
			expected: []int{4},
		},
		{
			name:     "match all",
			pattern:  "*",
			expected: []int{0, 1, 2, 3, 4},
		},
		{
			name:    "no match glob",
			pattern: "nothing*",
			wantErr: true,
		},
		{
			name:    "no match exact",
			pattern: "Bank2",
			wantErr: true,
		},
		{
			name:    "exact match is not a prefix",
			pattern: "Git",
			wantErr: true,
		},
		{
			name:    "invalid pattern",
			pattern: "[invalid",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := MatchTitle(tc.pattern, titles)

			if tc.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !equal(result, tc.expected) {
				t.Errorf("expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestMatchTitleNoMatchError(t *testing.T) {
	_, err := MatchTitle("missing", []string{"a"})
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestMatchTitles(t *testing.T) {
	titles := []string{"AWS Console", "aws root", "Bank", "GitHub"}

	result, err := MatchTitles([]string{"GitHub", "aws*", "*root"}, titles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := []int{3, 0, 1}; !equal(result, expected) {
		t.Errorf("expected %v, got %v", expected, result)
	}

	if _, err := MatchTitles([]string{"Bank", "missing"}, titles); err == nil {
		t.Error("expected error for a pattern without matches")
	}
}

func TestHasGlob(t *testing.T) {
	for pattern, want := range map[string]bool{
		"plain":  false,
		"a*":     true,
		"a?":     true,
		"[ab]":   true,
		"a b.c/": false,
	} {
		if got := HasGlob(pattern); got != want {
			t.Errorf("HasGlob(%q) = %v, want %v", pattern, got, want)
		}
	}
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
