package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/passvault/passvault/pkg/transfer"
)

// Export flags
var exportOutput string

// Import flags
var (
	importFormat string
	importDryRun bool
)

// maxImportSize is the largest document import will read.
const maxImportSize = 32 << 20

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")

	importCmd.Flags().StringVar(&importFormat, "format", string(transfer.FormatPassvault),
		"Document format: "+strings.Join(transfer.ValidFormats(), ", "))
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and report without importing")
}

// exportCmd writes all entries as a plaintext document
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports all entries to an unencrypted JSON document",
	Long: `Export every entry as a versioned JSON document.

The document is NOT encrypted and does not include password history.
Store it somewhere safe and delete it when done.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}

		var buf bytes.Buffer
		n, err := transfer.Export(&buf, store)
		if err != nil {
			return fmt.Errorf("failed to export: %w", err)
		}

		if exportOutput == "" {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		f, err := os.OpenFile(exportOutput, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}

		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "Exported %d entries to %s\n", n, exportOutput)
		fmt.Fprintln(errOut, "Warning: the export file is not encrypted.")
		return nil
	},
}

// importCmd adds entries from a document
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Imports entries from a passvault, Bitwarden, LastPass or 1Password export",
	Long: `Import entries from a document. Every imported entry is added as a new
entry with a fresh id; existing entries are never changed.

Supported formats:
  passvault   documents written by 'passvault export'
  bitwarden   unencrypted Bitwarden JSON export (login items)
  lastpass    LastPass CSV export
  1password   1Password CSV export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parser, err := transfer.GetParser(transfer.Format(strings.ToLower(importFormat)))
		if err != nil {
			return err
		}

		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}
		if info.Size() > maxImportSize {
			return fmt.Errorf("import file is too large (%d bytes)", info.Size())
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		parsed, err := parser.Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse import file: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, w := range parsed.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
		}
		if importDryRun {
			fmt.Fprintf(out, "Would import %d entries, skip %d\n", len(parsed.Entries), len(parsed.Skipped))
			printSkipped(cmd, parsed.Skipped)
			return nil
		}

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		res, err := transfer.Import(store, parsed.Entries)
		if err != nil {
			return fmt.Errorf("import stopped after %d entries: %w", res.Imported, err)
		}

		skipped := append(parsed.Skipped, res.Skipped...)
		fmt.Fprintf(out, "Imported %d entries, skipped %d\n", res.Imported, len(skipped))
		printSkipped(cmd, skipped)
		return nil
	},
}

func printSkipped(cmd *cobra.Command, skipped []transfer.Skipped) {
	for _, s := range skipped {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s: %s\n", title, s.Reason)
	}
}
