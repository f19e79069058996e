package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"
)

// Init flags
var (
	initMethod  string
	initStorage string
)

// Storage flags
var storageForce bool

// Settings flags
var (
	settingsMethod     string
	settingsReuseCount int
	settingsEnforce    bool
	settingsWipeAfter  int
	settingsPrankOnly  bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(doctorCmd)

	initCmd.Flags().StringVar(&initMethod, "method", "gcm", "Encryption method: gcm, cbc")
	initCmd.Flags().StringVar(&initStorage, "storage", string(storage.DefaultKind), "Storage backend: file, sql")

	storageCmd.Flags().BoolVarP(&storageForce, "force", "f", false, "Overwrite data already in the target backend")

	settingsCmd.Flags().StringVar(&settingsMethod, "method", "", "Encryption method: gcm, cbc")
	settingsCmd.Flags().IntVar(&settingsReuseCount, "reuse-count", 0,
		fmt.Sprintf("Number of previous passwords checked for reuse (%d-%d)", vault.MinReuseCheckCount, vault.MaxReuseCheckCount))
	settingsCmd.Flags().BoolVar(&settingsEnforce, "enforce-reuse", true, "Block (true) or only warn about (false) reused passwords")
	settingsCmd.Flags().IntVar(&settingsWipeAfter, "wipe-after", 0,
		fmt.Sprintf("Wrong password attempts before the vault is wiped (%d-%d)", vault.MinWipeAfterAttempts, vault.MaxWipeAfterAttempts))
	settingsCmd.Flags().BoolVar(&settingsPrankOnly, "prank-only", false, "Pretend to wipe instead of wiping")
}

// initCmd creates a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Creates a new vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		method, err := parseMethodFlag(initMethod)
		if err != nil {
			return err
		}
		kind, err := storage.ParseKind(initStorage)
		if err != nil {
			return err
		}
		if store.IsVaultCreated() {
			return fmt.Errorf("a vault already exists at %s", store.Dir())
		}

		fmt.Fprintln(out, "Initializing new vault...")
		password, err := readNewPassword(out, "Enter master password: ", "Confirm master password: ")
		if err != nil {
			return err
		}

		if err := store.SetEncryptionMethod(method); err != nil {
			return fmt.Errorf("failed to set encryption method: %w", err)
		}
		if err := store.CreateVault(password); err != nil {
			return fmt.Errorf("failed to create vault: %w", err)
		}
		if err := store.SwitchStorageType(kind); err != nil {
			return fmt.Errorf("failed to select storage: %w", err)
		}

		fmt.Fprintf(out, "Vault created at %s (%s, %s storage)\n", store.Dir(), method, kind)
		return nil
	},
}

// passwdCmd changes the master password
var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Changes the master password",
	Long: `Change the master password.

Every entry, including its history, is re-encrypted under a key derived
from the new password and a fresh salt. A wrong current password counts
toward the wipe threshold.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !store.IsVaultCreated() {
			return errors.New("no vault found: run 'passvault init' first")
		}

		policy := vault.NewLockoutPolicy(store, logger)
		var current string
		for {
			pw, err := readPassword("Enter current password: ")
			if err != nil {
				return err
			}
			attempt, err := policy.Verify(pw)
			if err != nil {
				return fmt.Errorf("failed to wipe vault: %w", err)
			}
			if attempt.OK {
				current = pw
				break
			}
			switch attempt.Action {
			case vault.ActionWipe:
				return vault.ErrWiped
			case vault.ActionDecoy:
				return errDecoy
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Wrong password")
		}

		next, err := readNewPassword(out, "Enter new password: ", "Confirm new password: ")
		if err != nil {
			return err
		}
		if next == current {
			return errors.New("new password must be different from current password")
		}

		if err := store.ChangeMasterPassword(current, next); err != nil {
			return fmt.Errorf("failed to change password: %w", err)
		}
		fmt.Fprintln(out, "Password changed successfully!")
		return nil
	},
}

// storageCmd shows or switches the storage backend
var storageCmd = &cobra.Command{
	Use:   "storage [file|sql]",
	Short: "Shows or switches the storage backend",
	Long: `Without an argument, show the active backend and which backends hold data.

With an argument, migrate every entry to that backend and make it active.
The previous backend's data is left in place. If the target already holds
data, --force is required.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			fmt.Fprintf(out, "Active backend: %s\n", store.StorageType())
			for _, kind := range []storage.Kind{storage.KindFile, storage.KindSQL} {
				has, err := store.BackendHasData(kind)
				if err != nil {
					return err
				}
				state := "empty"
				if has {
					state = "has data"
				}
				fmt.Fprintf(out, "  %-5s %s\n", kind, state)
			}
			return nil
		}

		kind, err := storage.ParseKind(args[0])
		if err != nil {
			return err
		}
		if kind == store.StorageType() {
			fmt.Fprintf(out, "Already using %s storage\n", kind)
			return nil
		}
		has, err := store.BackendHasData(kind)
		if err != nil {
			return err
		}
		if has && !storageForce {
			return fmt.Errorf("the %s backend already holds data; use --force to overwrite it", kind)
		}

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		if err := store.SwitchStorageType(kind); err != nil {
			return fmt.Errorf("failed to switch storage: %w", err)
		}
		fmt.Fprintf(out, "Switched to %s storage\n", kind)
		return nil
	},
}

// settingsCmd shows or changes vault settings
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Shows or changes vault settings",
	Long: `Without flags, show the vault settings.

Changing a setting of an existing vault requires the master password.
Switching the encryption method re-encrypts every entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		flags := cmd.Flags()

		// Lockout settings must not change without the master password.
		changing := false
		for _, name := range []string{"method", "reuse-count", "enforce-reuse", "wipe-after", "prank-only"} {
			changing = changing || flags.Changed(name)
		}
		if changing && store.IsVaultCreated() {
			if err := ensureUnlocked(cmd); err != nil {
				return err
			}
		}

		if flags.Changed("method") {
			method, err := parseMethodFlag(settingsMethod)
			if err != nil {
				return err
			}
			if err := store.SetEncryptionMethod(method); err != nil {
				return fmt.Errorf("failed to set encryption method: %w", err)
			}
		}
		if flags.Changed("reuse-count") {
			if err := store.SetReuseCheckCount(settingsReuseCount); err != nil {
				return err
			}
		}
		if flags.Changed("enforce-reuse") {
			if err := store.SetEnforceReuseCheck(settingsEnforce); err != nil {
				return err
			}
		}
		if flags.Changed("wipe-after") {
			if err := store.SetWipeAfterAttempts(settingsWipeAfter); err != nil {
				return err
			}
		}
		if flags.Changed("prank-only") {
			if err := store.SetPrankOnly(settingsPrankOnly); err != nil {
				return err
			}
		}

		s := store.Settings()
		fmt.Fprintf(out, "Vault:               %s (%s)\n", store.Dir(), store.State())
		fmt.Fprintf(out, "Encryption method:   %s\n", s.Method())
		fmt.Fprintf(out, "Storage backend:     %s\n", s.Kind())
		fmt.Fprintf(out, "Reuse check count:   %d\n", s.ReuseCheckCount)
		fmt.Fprintf(out, "Enforce reuse check: %t\n", s.EnforceReuseCheck)
		fmt.Fprintf(out, "Wipe after attempts: %d\n", s.WipeAfterAttempts)
		fmt.Fprintf(out, "Prank only:          %t\n", s.PrankOnly)
		return nil
	},
}

// doctorCmd checks vault health without unlocking
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Checks vault files, permissions and disk space",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		result, err := store.CheckIntegrity()
		if err != nil {
			return fmt.Errorf("integrity check failed: %w", err)
		}
		check := func(name string, ok bool) {
			mark := "ok"
			if !ok {
				mark = "FAIL"
			}
			fmt.Fprintf(out, "  %-12s %s\n", name, mark)
		}
		fmt.Fprintf(out, "Vault %s (%s)\n", store.Dir(), store.State())
		check("settings", result.SettingsValid)
		check("salt", result.SaltValid)
		check("verifier", result.HashValid)
		check("data", result.DataPresent)
		check("database", result.DBIntegrity)
		check("permissions", result.PermissionsValid)
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "  - %s\n", msg)
		}

		if info, err := store.CheckDiskSpace(); err == nil {
			fmt.Fprintf(out, "Disk: %s free of %s (%d%% used)\n",
				humanize.IBytes(info.Available), humanize.IBytes(info.Total), info.UsedPct)
		}

		if !result.Valid {
			return errors.New("vault has problems")
		}
		return nil
	},
}

// parseMethodFlag accepts gcm and cbc as well as the full method names.
func parseMethodFlag(s string) (crypto.Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gcm":
		return crypto.MethodGCM, nil
	case "cbc":
		return crypto.MethodCBC, nil
	}
	return crypto.ParseMethod(s)
}
