package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/passvault/passvault/internal/config"
	"github.com/passvault/passvault/internal/logging"
	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"
)

// annotationNoVault marks commands that never open the vault directory.
const annotationNoVault = "passvault/no-vault"

var (
	cfg    *config.Config
	logger = zap.NewNop()
	store  *vault.Store
)

// Global flags
var (
	configPath string
	vaultDir   string
	logLevel   string
)

var errDecoy = errors.New("too many failed attempts: vault wiped")

var rootCmd = &cobra.Command{
	Use:           "passvault",
	Short:         "passvault is a local, encrypted credential vault",
	Long:          `An offline password and token vault with file or SQLite storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand: it loads the
	// configuration, builds the logger and opens the vault directory.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if vaultDir != "" {
			c.Vault.Dir = vaultDir
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c
		logger = logging.New(c.Log.Level, c.Log.Format)

		if cmd.Annotations[annotationNoVault] == "true" {
			return nil
		}
		s, err := vault.New(c.Vault.Dir,
			vault.WithLogger(logger),
			vault.WithKDFParams(c.KDF.Params()),
		)
		if err != nil {
			return fmt.Errorf("failed to open vault: %w", err)
		}
		store = s
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $PASSVAULT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "dir", "", "Vault directory (overrides vault.dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// run executes the CLI with args and releases the vault afterwards.
func run(args []string) error {
	defer closeStore()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func closeStore() {
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close vault", zap.Error(err))
		}
		store = nil
	}
	_ = logger.Sync()
}

// ensureUnlocked prompts for the master password until the vault unlocks
// or the lockout policy fires. Every wrong password counts toward the wipe
// threshold.
func ensureUnlocked(cmd *cobra.Command) error {
	if store.State() == vault.StateUnlocked {
		return nil
	}
	_, err := unlockWithPassword(cmd)
	return err
}

// unlockWithPassword unlocks the vault and returns the accepted master
// password.
func unlockWithPassword(cmd *cobra.Command) (string, error) {
	if store.State() == vault.StateUninitialized {
		return "", errors.New("no vault found: run 'passvault init' first")
	}

	policy := vault.NewLockoutPolicy(store, logger)
	for {
		password, err := readPassword("Enter master password: ")
		if err != nil {
			return "", err
		}
		attempt, err := policy.Verify(password)
		if err != nil {
			return "", fmt.Errorf("failed to wipe vault: %w", err)
		}
		if attempt.OK {
			if store.State() != vault.StateUnlocked {
				if err := store.Unlock(password); err != nil {
					return "", fmt.Errorf("failed to unlock vault: %w", err)
				}
			}
			return password, nil
		}

		switch attempt.Action {
		case vault.ActionWipe:
			return "", vault.ErrWiped
		case vault.ActionDecoy:
			return "", errDecoy
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Wrong password")
	}
}

// findEntry resolves ref to an entry: an exact id, a unique id prefix, or
// a unique case-insensitive title.
func findEntry(entries []*storage.Entry, ref string) (*storage.Entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, vault.ErrEntryNotFound
	}

	for _, e := range entries {
		if e.ID == ref {
			return e, nil
		}
	}

	var matches []*storage.Entry
	for _, e := range entries {
		if strings.EqualFold(e.Title, ref) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 && len(ref) >= minIDPrefix {
		for _, e := range entries {
			if strings.HasPrefix(e.ID, ref) {
				matches = append(matches, e)
			}
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", vault.ErrEntryNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d entries; use the id shown by 'passvault list'", ref, len(matches))
	}
}

const minIDPrefix = 4

// shortID is the id prefix shown in listings.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseDuration parses a duration string with support for days (d), weeks (w),
// months (m) and years (y) in addition to the units of time.ParseDuration.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return time.ParseDuration(s)
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
