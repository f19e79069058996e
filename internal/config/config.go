// Package config loads the passvault application configuration: built-in
// defaults, then an optional TOML file, then PASSVAULT_* environment
// variables.
//
// Vault policy (encryption method, reuse window, lockout) is not here; it
// lives in the vault directory's settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/passvault/passvault/pkg/crypto"
)

const (
	// EnvPrefix prefixes every environment override. A single underscore
	// separates keys and a double underscore is a literal underscore:
	// PASSVAULT_KDF_KEY__ITERATIONS sets kdf.key_iterations.
	EnvPrefix = "PASSVAULT_"

	// EnvConfigFile names the config file when --config is not given.
	EnvConfigFile = "PASSVAULT_CONFIG"

	// DefaultDirName is the vault directory under the user's home.
	DefaultDirName = ".passvault"
)

// Config is the application configuration.
type Config struct {
	Vault VaultConfig `koanf:"vault"`
	Log   LogConfig   `koanf:"log"`
	KDF   KDFConfig   `koanf:"kdf"`
}

// VaultConfig locates the vault.
type VaultConfig struct {
	Dir string `koanf:"dir"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // console or json
}

// KDFConfig overrides the PBKDF2 iteration counts.
type KDFConfig struct {
	KeyIterations  int  `koanf:"key_iterations"`
	HashIterations int  `koanf:"hash_iterations"`
	InsecureTest   bool `koanf:"insecure_test_mode"`
}

// Params returns the iteration counts as crypto parameters.
func (k KDFConfig) Params() crypto.KDFParams {
	return crypto.KDFParams{KeyIterations: k.KeyIterations, HashIterations: k.HashIterations}
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Load builds the configuration. path may be empty, in which case
// $PASSVAULT_CONFIG is consulted; a named file that does not exist is an
// error, no file at all is not.
func Load(path string) (*Config, error) {
	cfg, err := defaultConfig()
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("config: failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.Vault.Dir = expandHome(cfg.Vault.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps PASSVAULT_LOG_LEVEL to log.level.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

func defaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: failed to get home directory: %w", err)
	}
	return &Config{
		Vault: VaultConfig{Dir: filepath.Join(home, DefaultDirName)},
		Log:   LogConfig{Level: "warn", Format: "console"},
		KDF: KDFConfig{
			KeyIterations:  crypto.DefaultKeyIterations,
			HashIterations: crypto.DefaultHashIterations,
		},
	}, nil
}

// Validate checks the configuration. Iteration counts below
// crypto.MinIterations are only accepted in insecure test mode.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vault.Dir) == "" {
		return fmt.Errorf("%w: vault.dir must not be empty", ErrInvalid)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalid, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}

	if err := c.KDF.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !c.KDF.InsecureTest &&
		(c.KDF.KeyIterations < crypto.MinIterations || c.KDF.HashIterations < crypto.MinIterations) {
		return fmt.Errorf("%w: kdf iterations must be at least %d", ErrInvalid, crypto.MinIterations)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
