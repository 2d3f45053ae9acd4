package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/illarion/walletvault/internal/crypto"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "WALLETVAULT_"
	EnvConfig = EnvPrefix + "CONFIG" // Overrides the config file location
)

const (
	DefaultStore    = "wallet.vault"
	DefaultLogLevel = "warn"
)

var ErrInvalid = errors.New("invalid configuration")

var knownKeys = map[string]bool{
	"store":          true,
	"bolt":           true,
	"cipher":         true,
	"log_level":      true,
	"kdf.algorithm":  true,
	"kdf.iterations": true,
	"kdf.memory_kib": true,
	"kdf.threads":    true,
}

// Config is the walletvault configuration file.
type Config struct {
	Store    string    `yaml:"store"` // Default store file
	Bolt     string    `yaml:"bolt"`  // Bolt database, used instead of Store when set
	KDF      KDFConfig `yaml:"kdf"`
	Cipher   string    `yaml:"cipher"`
	LogLevel string    `yaml:"log_level"`
}

// KDFConfig selects the key derivation function for new keys. Zero cost
// values fall back to the algorithm defaults.
type KDFConfig struct {
	Algorithm  string `yaml:"algorithm"`
	Iterations uint32 `yaml:"iterations"`
	MemoryKiB  uint32 `yaml:"memory_kib"`
	Threads    uint8  `yaml:"threads"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Store:    DefaultStore,
		KDF:      KDFConfig{Algorithm: crypto.KDFArgon2id.String()},
		Cipher:   crypto.CipherAESGCM.String(),
		LogLevel: DefaultLogLevel,
	}
}

// DefaultPath returns $WALLETVAULT_CONFIG, or config.yaml in the user
// config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "walletvault", "config.yaml")
}

// Load reads the configuration at path, or DefaultPath when path is empty,
// then applies WALLETVAULT_* environment overrides such as
// WALLETVAULT_KDF_ALGORITHM or WALLETVAULT_LOG_LEVEL. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	k := koanf.New(".")
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := fromKoanf(k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if len(bytes.TrimSpace(data)) > 0 {
		if err := k.Load(rawBytes(data), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	for _, key := range k.Keys() {
		if !knownKeys[key] {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps WALLETVAULT_KDF_MEMORY_KIB to kdf.memory_kib. Variables that
// are not configuration keys (WALLETVAULT_PASSWORD, WALLETVAULT_CONFIG)
// map to "" and are skipped.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "kdf_"); ok {
		key = "kdf." + rest
	}
	if !knownKeys[key] {
		return ""
	}
	return key
}

// rawBytes is a koanf provider for in-memory YAML
type rawBytes []byte

func (b rawBytes) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b rawBytes) Read() (map[string]any, error) {
	return nil, errors.New("rawBytes provider does not support Read")
}

// Save writes the configuration as YAML with owner-only permissions
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Marshal returns the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Validate checks algorithm names, cost parameters and the log level
func (c *Config) Validate() error {
	if _, err := c.KDFParams(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := crypto.ParseCipher(c.Cipher); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// KDFParams converts the kdf section into validated crypto parameters
func (c *Config) KDFParams() (crypto.KDFParams, error) {
	alg, err := crypto.ParseKDFAlgorithm(c.KDF.Algorithm)
	if err != nil {
		return crypto.KDFParams{}, err
	}

	params := crypto.DefaultKDFParams(alg)
	if c.KDF.Iterations != 0 {
		params.Iterations = c.KDF.Iterations
	}
	if alg == crypto.KDFArgon2id {
		if c.KDF.MemoryKiB != 0 {
			params.Memory = c.KDF.MemoryKiB
		}
		if c.KDF.Threads != 0 {
			params.Threads = c.KDF.Threads
		}
	}

	if err := params.Validate(); err != nil {
		return crypto.KDFParams{}, err
	}
	return params, nil
}

// CipherID returns the configured cipher
func (c *Config) CipherID() (crypto.Cipher, error) {
	return crypto.ParseCipher(c.Cipher)
}

// Level returns the configured slog level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	name := c.LogLevel
	if name == "" {
		name = DefaultLogLevel
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, err
	}
	return level, nil
}
