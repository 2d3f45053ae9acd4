package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/git"
	"github.com/illarion/walletvault/internal/keyring"
	"github.com/illarion/walletvault/internal/storage"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store format, lock and keyring state",
		Long:  "Shows the state of the store without opening it. Does not require a password.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()

			exists, err := backend.Exists()
			if err != nil {
				return err
			}
			if !exists {
				fmt.Printf("No store at %s\n", backend.Location())
				fmt.Println("Run 'walletvault init' to create one")
				return nil
			}

			encrypted := core.IsEncryptedStorageFile(backend)
			fmt.Printf("Store: %s\n", backend.Location())
			switch {
			case encrypted:
				fmt.Println("Format: encrypted")
			case core.IsStorageFile(backend):
				fmt.Println("Format: plaintext")
			default:
				fmt.Println("Format: not a walletvault store")
				return nil
			}

			switch b := backend.(type) {
			case *storage.File:
				printFileStatus(cmd.Context(), b, encrypted)
			case *storage.Bolt:
				if err := printBoltStatus(b); err != nil {
					return err
				}
			}

			if encrypted {
				if keyring.HasPassword(keyring.StoreID(backend.Location())) {
					fmt.Println("Password: stored in keyring")
				} else {
					fmt.Println("Password: not stored")
				}
			}
			return nil
		},
	}
}

func printFileStatus(ctx context.Context, f *storage.File, encrypted bool) {
	if info, err := os.Stat(f.Location()); err == nil {
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Modified: %s\n", info.ModTime().Format(time.RFC3339))
	}

	if pid, held := f.LockHolder(); held {
		fmt.Printf("Lock: held (pid %d, marker %s)\n", pid, f.LockPath())
	} else {
		fmt.Println("Lock: free")
	}

	abs, err := filepath.Abs(f.Location())
	if err != nil {
		return
	}
	status := git.Check(ctx, filepath.Dir(abs), filepath.Base(abs))
	fmt.Print(git.Format(status, encrypted))
}

func printBoltStatus(b *storage.Bolt) error {
	modified, err := b.Modified()
	if err != nil && !errors.Is(err, storage.ErrNotExist) {
		return err
	}
	if err == nil {
		fmt.Printf("Modified: %s\n", modified.Format(time.RFC3339))
	}

	locked, err := b.IsLocked()
	if err != nil {
		return err
	}
	if locked {
		fmt.Println("Lock: held")
	} else {
		fmt.Println("Lock: free")
	}

	names, err := storage.ListStores(boltDB())
	if err != nil {
		return err
	}
	fmt.Printf("Stores in database: %d\n", len(names))
	for _, name := range names {
		marker := " "
		if name == b.Name() {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, name)
	}
	return nil
}
