package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/passvault/passvault/internal/cli"
	"github.com/passvault/passvault/pkg/security"
	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"
)

// Add/edit flags
var (
	entryUsername    string
	entryTitle       string
	entryGenerate    bool
	entryLength      int
	entryNewPassword bool
)

// Get flags
var (
	getSecretOnly bool
	getShow       bool
)

// History flags
var historyShow bool

// Delete flags
var deleteForce bool

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(historyCmd)

	addCmd.Flags().StringVarP(&entryUsername, "username", "u", "", "Username for the entry")
	addCmd.Flags().BoolVarP(&entryGenerate, "generate", "g", false, "Generate the password instead of prompting")
	addCmd.Flags().IntVarP(&entryLength, "length", "l", security.DefaultGenerateLength, "Generated password length")

	editCmd.Flags().StringVarP(&entryTitle, "title", "t", "", "New title")
	editCmd.Flags().StringVarP(&entryUsername, "username", "u", "", "New username")
	editCmd.Flags().BoolVarP(&entryNewPassword, "password", "p", false, "Prompt for a new password")
	editCmd.Flags().BoolVarP(&entryGenerate, "generate", "g", false, "Generate a new password")
	editCmd.Flags().IntVarP(&entryLength, "length", "l", security.DefaultGenerateLength, "Generated password length")

	getCmd.Flags().BoolVar(&getSecretOnly, "secret-only", false, "Print only the password or token")
	getCmd.Flags().BoolVarP(&getShow, "show", "s", false, "Show the password instead of masking it")

	historyCmd.Flags().BoolVarP(&historyShow, "show", "s", false, "Show previous passwords instead of masking them")

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

// listCmd lists entries
var listCmd = &cobra.Command{
	Use:   "list [pattern...]",
	Short: "Lists entries, optionally filtered by title patterns",
	Long: `List entries. Patterns filter by title and may use glob characters:

  passvault list              # all entries
  passvault list "aws*"       # titles starting with aws (any case)
  passvault list Bank "*hub"  # several patterns`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		entries, err := store.GetAllEntries()
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		if len(args) > 0 {
			entries, err = filterByTitle(entries, args, false)
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No entries found")
			return nil
		}

		now := time.Now()
		fmt.Fprintf(out, "%-8s  %-24s  %-24s  %-16s  %s\n", "ID", "TITLE", "USERNAME", "UPDATED", "HEALTH")
		for _, e := range entries {
			health := security.HealthScore(e.UpdatedAt, now)
			fmt.Fprintf(out, "%-8s  %-24s  %-24s  %-16s  %s (%d)\n",
				shortID(e.ID),
				truncate(e.Title, 24),
				truncate(e.Username, 24),
				humanize.Time(time.UnixMilli(e.UpdatedAt)),
				security.HealthLabel(health), health)
		}
		return nil
	},
}

// getCmd shows one entry
var getCmd = &cobra.Command{
	Use:   "get [id or title]",
	Short: "Shows an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		e, err := resolveEntry(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if getSecretOnly {
			fmt.Fprintln(out, e.Secret)
			return nil
		}

		secret := mask(e.Secret)
		if getShow {
			secret = e.Secret
		}
		now := time.Now()
		health := security.HealthScore(e.UpdatedAt, now)
		fmt.Fprintf(out, "ID:       %s\n", e.ID)
		fmt.Fprintf(out, "Title:    %s\n", e.Title)
		fmt.Fprintf(out, "Username: %s\n", e.Username)
		fmt.Fprintf(out, "Password: %s\n", secret)
		fmt.Fprintf(out, "Strength: %s (%d/100)\n", security.CalculateStrength(e.Secret), security.StrengthScore(e.Secret))
		fmt.Fprintf(out, "Created:  %s\n", time.UnixMilli(e.CreatedAt).Format(time.DateTime))
		fmt.Fprintf(out, "Updated:  %s (%s)\n", time.UnixMilli(e.UpdatedAt).Format(time.DateTime), humanize.Time(time.UnixMilli(e.UpdatedAt)))
		fmt.Fprintf(out, "Health:   %s (%d)\n", security.HealthLabel(health), health)
		fmt.Fprintf(out, "History:  %d previous passwords\n", len(e.History))
		return nil
	},
}

// addCmd adds an entry
var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Adds an entry",
	Long: `Add an entry. The password or token is read from a hidden prompt,
or generated with --generate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		secret, err := readEntrySecret(out)
		if err != nil {
			return err
		}
		e := storage.NewEntry(strings.TrimSpace(args[0]), strings.TrimSpace(entryUsername), secret, time.Now())
		if err := store.AddEntry(e); err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}

		fmt.Fprintf(out, "Entry '%s' added (%s)\n", e.Title, shortID(e.ID))
		return nil
	},
}

// editCmd changes an entry
var editCmd = &cobra.Command{
	Use:   "edit [id or title]",
	Short: "Edits an entry",
	Long: `Change the title, username or password of an entry.

A new password is checked against the entry's recent passwords. Depending
on the vault settings a reused password is rejected or only reported.
The previous password is kept in the entry's history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		e, err := resolveEntry(args[0])
		if err != nil {
			return err
		}
		title, username, secret := e.Title, e.Username, e.Secret
		if cmd.Flags().Changed("title") {
			title = entryTitle
		}
		if cmd.Flags().Changed("username") {
			username = entryUsername
		}
		if entryNewPassword || entryGenerate {
			if secret, err = readEntrySecret(out); err != nil {
				return err
			}
		}

		reused, err := store.SaveEntryChanges(e.ID, title, username, secret)
		if errors.Is(err, vault.ErrPasswordReused) {
			return fmt.Errorf("this password was used for '%s' recently; choose another one", e.Title)
		}
		if err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}
		if reused {
			fmt.Fprintln(out, "Warning: this password was used for this entry recently")
		}
		fmt.Fprintf(out, "Entry '%s' saved\n", strings.TrimSpace(title))
		return nil
	},
}

// deleteCmd deletes an entry
var deleteCmd = &cobra.Command{
	Use:   "delete [id, title or pattern]",
	Short: "Deletes an entry, or every entry whose title matches a glob pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}

		var targets []*storage.Entry
		if cli.HasGlob(args[0]) {
			entries, err := store.GetAllEntries()
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}
			targets, err = filterByTitle(entries, args, true)
			if err != nil {
				return err
			}
		} else {
			e, err := resolveEntry(args[0])
			if err != nil {
				return err
			}
			targets = []*storage.Entry{e}
		}

		out := cmd.OutOrStdout()
		if !deleteForce {
			prompt := fmt.Sprintf("Delete '%s' and its history?", targets[0].Title)
			if len(targets) > 1 {
				for _, e := range targets {
					fmt.Fprintf(out, "  %s  %s\n", shortID(e.ID), e.Title)
				}
				prompt = fmt.Sprintf("Delete these %d entries and their history?", len(targets))
			}
			ok, err := confirm(prompt)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Cancelled")
				return nil
			}
		}

		for _, e := range targets {
			if err := store.DeleteEntry(e.ID); err != nil {
				return fmt.Errorf("failed to delete entry '%s': %w", e.Title, err)
			}
			fmt.Fprintf(out, "Entry '%s' deleted successfully\n", e.Title)
		}
		return nil
	},
}

// filterByTitle keeps the entries whose title matches any of patterns. With
// strict set, a pattern that matches nothing is an error.
func filterByTitle(entries []*storage.Entry, patterns []string, strict bool) ([]*storage.Entry, error) {
	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.Title
	}

	var idx []int
	if strict {
		var err error
		if idx, err = cli.MatchTitles(patterns, titles); err != nil {
			return nil, err
		}
	} else {
		seen := make(map[int]bool)
		for _, p := range patterns {
			m, err := cli.MatchTitle(p, titles)
			if err != nil && !errors.Is(err, cli.ErrNoMatch) {
				return nil, err
			}
			for _, i := range m {
				if !seen[i] {
					seen[i] = true
					idx = append(idx, i)
				}
			}
		}
	}

	matched := make([]*storage.Entry, 0, len(idx))
	for _, i := range idx {
		matched = append(matched, entries[i])
	}
	return matched, nil
}

// historyCmd shows the previous passwords of an entry
var historyCmd = &cobra.Command{
	Use:   "history [id or title]",
	Short: "Shows previous passwords of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		e, err := resolveEntry(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(e.History) == 0 {
			fmt.Fprintf(out, "No previous passwords for '%s'\n", e.Title)
			return nil
		}

		fmt.Fprintf(out, "Previous passwords for '%s' (newest first)\n", e.Title)
		for i := len(e.History) - 1; i >= 0; i-- {
			h := e.History[i]
			value := mask(h.Value)
			if historyShow {
				value = h.Value
			}
			fmt.Fprintf(out, "  %s  %s → %s  (%s)\n",
				value,
				h.Start().Format(time.DateOnly),
				h.End().Format(time.DateOnly),
				daysLabel(h.DaysUsed()))
		}
		return nil
	},
}

// resolveEntry finds the entry ref refers to and returns it with history.
func resolveEntry(ref string) (*storage.Entry, error) {
	entries, err := store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	e, err := findEntry(entries, ref)
	if err != nil {
		return nil, err
	}
	return store.GetEntryWithHistory(e.ID)
}

// readEntrySecret generates a password when --generate is set and prompts
// for one otherwise. Weak secrets are reported but accepted.
func readEntrySecret(w io.Writer) (string, error) {
	if entryGenerate {
		opts := security.DefaultGeneratorOptions()
		opts.Length = entryLength
		secret, err := security.Generate(opts)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		fmt.Fprintln(w, "Generated a new password")
		return secret, nil
	}

	secret, err := readPassword("Password or token: ")
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", vault.ErrSecretRequired
	}
	if security.CalculateStrength(secret) == security.PasswordWeak {
		fmt.Fprintln(w, "Warning: this password is weak")
	}
	return secret, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func daysLabel(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
