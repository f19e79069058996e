package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/passvault/passvault/pkg/backup"
)

// Backup flags
var backupWithAudit bool

// Restore flags
var (
	restoreForce      bool
	restoreWithAudit  bool
	restoreVerifyOnly bool
	restoreDryRun     bool
)

// maxBackupSize is the largest backup file restore will read.
const maxBackupSize = 256 << 20

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)

	backupCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include the audit log")

	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Replace an existing vault")
	restoreCmd.Flags().BoolVar(&restoreWithAudit, "with-audit", false, "Restore the audit log if the backup has one")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Check the backup and exit")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored")
}

// backupCmd writes an encrypted backup file
var backupCmd = &cobra.Command{
	Use:   "backup [file]",
	Short: "Create an encrypted backup of the vault",
	Long: `Create an encrypted backup of the vault files.

The backup is encrypted with keys derived from the master password and a
fresh salt. Restoring it requires the master password in use when the
backup was taken.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := unlockWithPassword(cmd)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		header, err := backup.Create(&buf, store, password, backup.Options{
			IncludeAudit: backupWithAudit,
			KDF:          cfg.KDF.Params(),
		})
		if err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}

		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("failed to create backup file: %w", err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return fmt.Errorf("failed to write backup file: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write backup file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%d entries, %s)\n",
			args[0], header.EntryCount, humanize.IBytes(uint64(buf.Len())))
		return nil
	},
}

// restoreCmd restores a vault from a backup file
var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore the vault from an encrypted backup",
	Long: `Restore the vault files from a backup created by 'passvault backup'.

An existing vault is only replaced with --force. After restoring, unlock
with the master password that was in use when the backup was taken.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("failed to read backup file: %w", err)
		}
		if info.Size() > maxBackupSize {
			return fmt.Errorf("backup file is too large (%s)", humanize.IBytes(uint64(info.Size())))
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read backup file: %w", err)
		}

		if !restoreVerifyOnly && !restoreDryRun && store.IsVaultCreated() && !restoreForce {
			return errors.New("a vault already exists: use --force to replace it")
		}

		password, err := readPassword("Enter backup password: ")
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if restoreVerifyOnly || restoreDryRun {
			header, payload, err := backup.Open(data, password)
			if err != nil {
				return fmt.Errorf("backup verification failed: %w", err)
			}
			fmt.Fprintf(out, "Backup OK: %d entries, %s storage, created %s\n",
				header.EntryCount, header.Storage, header.CreatedAt.Format("2006-01-02 15:04:05"))
			if restoreDryRun {
				fmt.Fprintf(out, "Would restore %d files", len(payload.Files))
				if store.IsVaultCreated() {
					fmt.Fprint(out, ", replacing the existing vault")
				}
				fmt.Fprintln(out)
			}
			return nil
		}

		res, err := backup.Restore(store, data, password, backup.RestoreOptions{
			Force:     restoreForce,
			WithAudit: restoreWithAudit,
		})
		if err != nil {
			return fmt.Errorf("failed to restore: %w", err)
		}

		fmt.Fprintf(out, "Restored %d entries (%s storage)\n", res.Header.EntryCount, res.Header.Storage)
		if res.AuditRestored {
			fmt.Fprintln(out, "Audit log restored")
		}
		return nil
	},
}
