package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/illarion/walletvault/internal/config"
	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/storage"
	"github.com/spf13/cobra"
)

// Global flags
var (
	storeFile  string
	boltPath   string
	storeName  string
	configPath string
	verbose    bool
	readOnly   bool
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

const defaultStoreName = "default"

// NewRootCommand builds the walletvault command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "walletvault",
		Short: "Password-protected key-value store for wallet secrets",
		Long: `walletvault keeps small secrets (seeds, keys, tokens) in a single store
file, optionally encrypted with a password. A store may also live inside a
bbolt database next to other named stores (--bolt).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			level, err := cfg.Level()
			if err != nil {
				return err
			}
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&storeFile, "file", "f", "", "store file (default from config, then "+config.DefaultStore+")")
	flags.StringVar(&boltPath, "bolt", "", "bbolt database holding named stores")
	flags.StringVarP(&storeName, "name", "n", defaultStoreName, "store name inside the bbolt database")
	flags.StringVar(&configPath, "config", "", "config file (default $"+config.EnvConfig+" or user config dir)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&readOnly, "read-only", false, "open without taking the write lock; writes fail")

	root.AddCommand(
		initCmd(),
		getCmd(),
		setCmd(),
		rmCmd(),
		lsCmd(),
		passwdCmd(),
		statusCmd(),
		diffCmd(),
		keyringCmd(),
		compactCmd(),
		configCmd(),
	)
	return root
}

// Execute runs the command line
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// usingBolt reports whether the store lives in a bbolt database
func usingBolt() bool {
	return boltDB() != ""
}

func boltDB() string {
	if boltPath != "" {
		return boltPath
	}
	if storeFile == "" && cfg != nil {
		return cfg.Bolt
	}
	return ""
}

func storePath() string {
	if storeFile != "" {
		return storeFile
	}
	if cfg != nil && cfg.Store != "" {
		return cfg.Store
	}
	return config.DefaultStore
}

// newBackend returns the backend selected by flags and config
func newBackend() storage.Backend {
	if db := boltDB(); db != "" {
		return storage.NewBolt(db, storeName)
	}
	return storage.NewFile(storePath())
}

// storeOptions returns engine options with the configured KDF and cipher
func storeOptions(ro bool) (core.Options, error) {
	params, err := cfg.KDFParams()
	if err != nil {
		return core.Options{}, err
	}
	c, err := cfg.CipherID()
	if err != nil {
		return core.Options{}, err
	}
	return core.Options{
		ReadOnly: ro || readOnly,
		KDF:      params,
		Cipher:   c,
		Logger:   logger,
	}, nil
}

// openStore opens the selected store, asking for a password only when the
// store is encrypted.
func openStore(ro bool) (*core.Store, error) {
	return openBackend(newBackend(), ro)
}

func openBackend(backend storage.Backend, ro bool) (*core.Store, error) {
	opts, err := storeOptions(ro)
	if err != nil {
		return nil, err
	}

	if !core.IsEncryptedStorageFile(backend) {
		return core.Open(backend, opts)
	}

	prompt := fmt.Sprintf("Enter password for %s: ", backend.Location())
	return GetPasswordWithRetry(prompt, backend.Location(), func(password []byte) (*core.Store, error) {
		opts.Password = password
		return core.Open(backend, opts)
	})
}
