package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/passvault/passvault/pkg/security"
)

const (
	defaultPasswordCount = 1
	maxPasswordCount     = 100
	maxExcludeLength     = 256
)

// Generate command flags
var (
	generateLength     int
	generateCount      int
	generateNoSymbols  bool
	generateNoNumbers  bool
	generateNoUpper    bool
	generateLowerRatio float64
	generateExclude    string
	generateStrength   bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&generateLength, "length", "l", security.DefaultGenerateLength,
		fmt.Sprintf("Password length (%d-%d)", security.MinGenerateLength, security.MaxGenerateLength))
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", defaultPasswordCount, "Number of passwords to generate (1-100)")
	generateCmd.Flags().BoolVar(&generateNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&generateNoNumbers, "no-numbers", false, "Exclude numbers")
	generateCmd.Flags().BoolVar(&generateNoUpper, "no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().Float64Var(&generateLowerRatio, "lower-ratio", 0.5, "Share of lowercase letters beyond the required ones (0-1)")
	generateCmd.Flags().StringVar(&generateExclude, "exclude", "", "Characters to exclude")
	generateCmd.Flags().BoolVar(&generateStrength, "strength", false, "Print the strength of each password")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords",
	Long: `Generate cryptographically secure random passwords.

Every enabled character class appears at least once. Lowercase letters are
always included.

Examples:
  # Generate a 20-character password (default)
  passvault generate

  # Generate a 32-character password without symbols
  passvault generate -l 32 --no-symbols

  # Generate 5 passwords
  passvault generate -n 5

  # Generate password excluding ambiguous characters
  passvault generate --exclude "0O1lI"`,
	Annotations: map[string]string{annotationNoVault: "true"},
	RunE:        executeGenerate,
}

func executeGenerate(cmd *cobra.Command, args []string) error {
	if err := validateGenerateFlags(); err != nil {
		return err
	}

	opts := generatorOptions()
	out := cmd.OutOrStdout()
	for i := 0; i < generateCount; i++ {
		password, err := security.Generate(opts)
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		if generateStrength {
			fmt.Fprintf(out, "%s  %s (%d/100)\n", password,
				security.CalculateStrength(password), security.StrengthScore(password))
			continue
		}
		fmt.Fprintln(out, password)
	}
	return nil
}

// validateGenerateFlags validates the generate command flags
func validateGenerateFlags() error {
	if generateLength < security.MinGenerateLength {
		return fmt.Errorf("password length must be at least %d characters", security.MinGenerateLength)
	}
	if generateLength > security.MaxGenerateLength {
		return fmt.Errorf("password length must be at most %d characters", security.MaxGenerateLength)
	}
	if generateCount < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if generateCount > maxPasswordCount {
		return fmt.Errorf("count must be at most %d", maxPasswordCount)
	}
	if generateLowerRatio < 0 || generateLowerRatio > 1 {
		return fmt.Errorf("lower ratio must be between 0 and 1")
	}
	if len(generateExclude) > maxExcludeLength {
		return fmt.Errorf("exclude string must be at most %d characters", maxExcludeLength)
	}
	return nil
}

func generatorOptions() security.GeneratorOptions {
	return security.GeneratorOptions{
		Length:     generateLength,
		Digits:     !generateNoNumbers,
		Upper:      !generateNoUpper,
		Symbols:    !generateNoSymbols,
		LowerRatio: generateLowerRatio,
		Exclude:    generateExclude,
	}
}
