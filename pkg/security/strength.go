// Package security provides password analysis that needs no vault key:
// strength and health scoring, reuse detection across entries, and a
// random password generator.
package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// PasswordStrength represents the strength level of a password.
type PasswordStrength int

const (
	// PasswordWeak is a score below 25.
	PasswordWeak PasswordStrength = iota
	// PasswordFair is a score from 25 to 49.
	PasswordFair
	// PasswordGood is a score from 50 to 74.
	PasswordGood
	// PasswordStrong is a score of 75 or more.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Points returns the share of a 25-point report component this level earns.
func (s PasswordStrength) Points() int {
	switch s {
	case PasswordFair:
		return 8
	case PasswordGood:
		return 17
	case PasswordStrong:
		return 25
	default:
		return 0
	}
}

// StrengthScore rates a password from 0 to 100. Length earns up to 35
// points (8, 12 and 16 characters), and each character class present earns
// 15 (lowercase, uppercase, digit) or 20 (anything else).
func StrengthScore(password string) int {
	if password == "" {
		return 0
	}

	score := 0
	n := utf8.RuneCountInString(password)
	if n >= 8 {
		score += 15
	}
	if n >= 12 {
		score += 10
	}
	if n >= 16 {
		score += 10
	}

	var lower, upper, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	if lower {
		score += 15
	}
	if upper {
		score += 15
	}
	if digit {
		score += 15
	}
	if other {
		score += 20
	}
	return min(score, 100)
}

// StrengthOf maps a StrengthScore to its level.
func StrengthOf(score int) PasswordStrength {
	switch {
	case score < 25:
		return PasswordWeak
	case score < 50:
		return PasswordFair
	case score < 75:
		return PasswordGood
	default:
		return PasswordStrong
	}
}

// CalculateStrength scores password and returns its level.
func CalculateStrength(password string) PasswordStrength {
	return StrengthOf(StrengthScore(password))
}

// Master password length limits
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordValidationResult contains the result of master password validation.
type PasswordValidationResult struct {
	Valid    bool             // Whether password meets minimum requirements
	Strength PasswordStrength // Estimated strength
	Score    int              // StrengthScore of the password
	Warnings []string         // Suggestions for improvement (not errors)
}

// ValidateMasterPassword checks the length limits of a new master password
// and rates it. Composition is only ever a warning.
func ValidateMasterPassword(password string) *PasswordValidationResult {
	n := utf8.RuneCountInString(password)
	result := &PasswordValidationResult{
		Valid: true,
		Score: StrengthScore(password),
	}
	result.Strength = StrengthOf(result.Score)

	if n < MinPasswordLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return result
	}
	if n > MaxPasswordLength {
		result.Valid = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return result
	}

	if result.Strength < PasswordGood {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if n < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}
	return result
}
