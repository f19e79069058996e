package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Character sets
const (
	CharsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	CharsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharsetDigits    = "0123456789"
	CharsetSymbols   = "!@#$%^&*()_+-=[]{}|;:',.<>?"
)

// Generator limits
const (
	MinGenerateLength     = 4
	MaxGenerateLength     = 256
	DefaultGenerateLength = 20
)

// ErrEmptyCharset is returned when exclusions remove a whole character class.
var ErrEmptyCharset = errors.New("security: character set is empty")

// GeneratorOptions controls Generate. Lowercase letters are always used;
// LowerRatio is the probability that a position beyond the guaranteed ones
// is lowercase rather than from the other enabled classes.
type GeneratorOptions struct {
	Length     int
	Digits     bool
	Upper      bool
	Symbols    bool
	LowerRatio float64
	Exclude    string
}

// DefaultGeneratorOptions returns every class enabled at half lowercase.
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		Length:     DefaultGenerateLength,
		Digits:     true,
		Upper:      true,
		Symbols:    true,
		LowerRatio: 0.5,
	}
}

// Generate returns a random password with at least one character of each
// enabled class, using crypto/rand throughout.
func Generate(opts GeneratorOptions) (string, error) {
	if opts.Length < MinGenerateLength || opts.Length > MaxGenerateLength {
		return "", fmt.Errorf("security: length must be between %d and %d", MinGenerateLength, MaxGenerateLength)
	}
	ratio := min(max(opts.LowerRatio, 0), 1)

	lower := removeChars(CharsetLowercase, opts.Exclude)
	if lower == "" {
		return "", ErrEmptyCharset
	}
	classes := []string{lower}
	var other strings.Builder
	for _, c := range []struct {
		on  bool
		set string
	}{
		{opts.Upper, CharsetUppercase},
		{opts.Digits, CharsetDigits},
		{opts.Symbols, CharsetSymbols},
	} {
		if !c.on {
			continue
		}
		set := removeChars(c.set, opts.Exclude)
		if set == "" {
			return "", ErrEmptyCharset
		}
		classes = append(classes, set)
		other.WriteString(set)
	}
	others := other.String()
	if others == "" {
		others = lower
	}

	out := make([]byte, 0, opts.Length)
	for _, set := range classes {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < opts.Length {
		f, err := randFloat()
		if err != nil {
			return "", err
		}
		set := others
		if f < ratio {
			set = lower
		}
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("security: failed to generate random number: %w", err)
	}
	return int(v.Int64()), nil
}

// randFloat returns a uniform value in [0, 1).
func randFloat() (float64, error) {
	const precision = 1 << 53
	v, err := randInt(precision)
	if err != nil {
		return 0, err
	}
	return float64(v) / precision, nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

// removeChars removes specified characters from a string
func removeChars(s, chars string) string {
	if chars == "" {
		return s
	}
	var result strings.Builder
	for _, c := range s {
		if !strings.ContainsRune(chars, c) {
			result.WriteRune(c)
		}
	}
	return result.String()
}
