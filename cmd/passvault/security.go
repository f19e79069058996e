package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/passvault/passvault/pkg/security"
	"github.com/passvault/passvault/pkg/storage"
)

// Security command flags
var (
	securityVerbose bool
	securityJSON    bool
	securityLimit   int
)

func init() {
	rootCmd.AddCommand(securityCmd)
	securityCmd.AddCommand(securityDuplicatesCmd)

	securityCmd.Flags().BoolVarP(&securityVerbose, "verbose", "v", false, "Show suggestions")
	securityCmd.Flags().BoolVar(&securityJSON, "json", false, "Output in JSON format")
	securityDuplicatesCmd.Flags().IntVar(&securityLimit, "limit", 0, "Maximum number of groups to show (0 = all)")
}

// securityCmd is the root security command.
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Analyze vault security health",
	Long: `Analyze the security health of your vault and get recommendations.

The security score is calculated from:
  - Password Strength (0-25): Average strength of passwords
  - Uniqueness (0-25): Share of passwords not used by another entry
  - Freshness (0-25): Average health by time since the last change
  - Rotation (0-25): Share of entries not reusing one of their old passwords

Example:
  passvault security              # Show security score and top issues
  passvault security --verbose    # Also show suggestions
  passvault security --json       # Output in JSON format`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loadAllWithHistory(cmd)
		if err != nil {
			return err
		}

		score, err := security.NewCalculator().CalculateScore(entries, true)
		if err != nil {
			return fmt.Errorf("failed to calculate security score: %w", err)
		}

		out := cmd.OutOrStdout()
		if securityJSON {
			data, err := json.MarshalIndent(score, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		outputSecurityText(out, score, titlesByID(entries), securityVerbose)
		return nil
	},
}

// securityDuplicatesCmd lists duplicate passwords.
var securityDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List entries that share a password",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loadAllWithHistory(cmd)
		if err != nil {
			return err
		}

		groups, err := security.NewCalculator().FindDuplicates(entries, true, securityLimit)
		if err != nil {
			return fmt.Errorf("failed to find duplicates: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(groups) == 0 {
			fmt.Fprintln(out, "No duplicate passwords found!")
			return nil
		}

		fmt.Fprintf(out, "Duplicate Passwords (%d groups found)\n\n", len(groups))
		for i, group := range groups {
			fmt.Fprintf(out, "%d. %d entries share the same password:\n", i+1, group.Count)
			for j, title := range group.Titles {
				fmt.Fprintf(out, "   - %s (%s)\n", title, shortID(group.EntryIDs[j]))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

// loadAllWithHistory unlocks the vault and returns every entry with its
// history loaded.
func loadAllWithHistory(cmd *cobra.Command) ([]*storage.Entry, error) {
	if err := ensureUnlocked(cmd); err != nil {
		return nil, err
	}
	list, err := store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	entries := make([]*storage.Entry, 0, len(list))
	for _, e := range list {
		full, err := store.GetEntryWithHistory(e.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, full)
	}
	return entries, nil
}

func titlesByID(entries []*storage.Entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.ID] = e.Title
	}
	return m
}

// outputSecurityText outputs the security score as formatted text.
func outputSecurityText(w io.Writer, score *security.SecurityScore, titles map[string]string, verbose bool) {
	var rating string
	switch {
	case score.Overall >= 90:
		rating = "Excellent"
	case score.Overall >= 70:
		rating = "Good"
	case score.Overall >= 50:
		rating = "Fair"
	default:
		rating = "Needs Attention"
	}

	fmt.Fprintf(w, "Security Score: %d/100 (%s)\n\n", score.Overall, rating)

	fmt.Fprintln(w, "Components:")
	fmt.Fprintf(w, "  Password Strength: %2d/25 %s\n", score.Components.StrengthScore, progressBar(score.Components.StrengthScore, 25))
	fmt.Fprintf(w, "  Uniqueness:        %2d/25 %s\n", score.Components.UniquenessScore, progressBar(score.Components.UniquenessScore, 25))
	fmt.Fprintf(w, "  Freshness:         %2d/25 %s\n", score.Components.FreshnessScore, progressBar(score.Components.FreshnessScore, 25))
	fmt.Fprintf(w, "  Rotation:          %2d/25 %s\n", score.Components.RotationScore, progressBar(score.Components.RotationScore, 25))
	fmt.Fprintln(w)

	if len(score.Issues) > 0 {
		fmt.Fprintf(w, "Issues (%d):\n", len(score.Issues))
		for i, issue := range score.Issues {
			var names []string
			if issue.EntryID != "" {
				names = append(names, titles[issue.EntryID])
			}
			for _, id := range issue.EntryIDs {
				names = append(names, titles[id])
			}
			label := ""
			if len(names) > 0 {
				label = " " + strings.Join(names, ", ")
			}
			fmt.Fprintf(w, "  %d. [%s]%s: %s\n", i+1, strings.ToUpper(string(issue.Type)), label, issue.Description)
		}
		fmt.Fprintln(w)
	}

	if verbose && len(score.Suggestions) > 0 {
		fmt.Fprintln(w, "Suggestions:")
		for _, suggestion := range score.Suggestions {
			fmt.Fprintf(w, "  - %s\n", suggestion)
		}
		fmt.Fprintln(w)
	}
}

// progressBar creates a simple ASCII progress bar.
func progressBar(value, maxVal int) string {
	width := 20
	filled := min(max(value*width/maxVal, 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
