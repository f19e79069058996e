package security

import (
	"errors"
	"strings"
	"testing"
)

func countIn(s, set string) int {
	n := 0
	for _, r := range s {
		if strings.ContainsRune(set, r) {
			n++
		}
	}
	return n
}

func TestGenerateDefaults(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := Generate(DefaultGeneratorOptions())
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(pw) != DefaultGenerateLength {
			t.Fatalf("length = %d, want %d", len(pw), DefaultGenerateLength)
		}
		for _, set := range []string{CharsetLowercase, CharsetUppercase, CharsetDigits, CharsetSymbols} {
			if countIn(pw, set) == 0 {
				t.Errorf("password %q has no character from %q", pw, set)
			}
		}
	}
}

func TestGenerateLength(t *testing.T) {
	tests := []struct {
		length  int
		wantErr bool
	}{
		{MinGenerateLength - 1, true},
		{MinGenerateLength, false},
		{MaxGenerateLength, false},
		{MaxGenerateLength + 1, true},
	}

	for _, tt := range tests {
		opts := DefaultGeneratorOptions()
		opts.Length = tt.length
		pw, err := Generate(opts)
		if (err != nil) != tt.wantErr {
			t.Errorf("Generate(length=%d) error = %v, wantErr %v", tt.length, err, tt.wantErr)
		}
		if err == nil && len(pw) != tt.length {
			t.Errorf("Generate(length=%d) returned %d characters", tt.length, len(pw))
		}
	}
}

func TestGenerateLowercaseOnly(t *testing.T) {
	pw, err := Generate(GeneratorOptions{Length: 32})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if countIn(pw, CharsetLowercase) != 32 {
		t.Errorf("password %q is not all lowercase", pw)
	}
}

func TestGenerateLowerRatio(t *testing.T) {
	opts := GeneratorOptions{Length: 40, Upper: true, LowerRatio: 1}
	pw, err := Generate(opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := countIn(pw, CharsetUppercase); got != 1 {
		t.Errorf("ratio 1 should leave only the guaranteed uppercase, got %d in %q", got, pw)
	}

	opts.LowerRatio = 0
	pw, err = Generate(opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := countIn(pw, CharsetLowercase); got != 1 {
		t.Errorf("ratio 0 should leave only the guaranteed lowercase, got %d in %q", got, pw)
	}
}

func TestGenerateExclude(t *testing.T) {
	opts := DefaultGeneratorOptions()
	opts.Length = 64
	opts.Exclude = "0O1lI"
	pw, err := Generate(opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if strings.ContainsAny(pw, opts.Exclude) {
		t.Errorf("password %q contains excluded characters", pw)
	}

	opts.Exclude = CharsetDigits
	if _, err := Generate(opts); !errors.Is(err, ErrEmptyCharset) {
		t.Errorf("excluding every digit: err = %v, want ErrEmptyCharset", err)
	}
}

func TestRemoveChars(t *testing.T) {
	if got := removeChars("abcdef", "bdf"); got != "ace" {
		t.Errorf("removeChars = %q, want %q", got, "ace")
	}
	if got := removeChars("abc", ""); got != "abc" {
		t.Errorf("removeChars = %q, want %q", got, "abc")
	}
}
