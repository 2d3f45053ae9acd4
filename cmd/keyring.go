package cmd

import (
	"fmt"

	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/crypto"
	"github.com/illarion/walletvault/internal/keyring"
	"github.com/spf13/cobra"
)

func keyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the store password in the OS keyring",
	}
	cmd.AddCommand(keyringSaveCmd(), keyringDeleteCmd(), keyringStatusCmd())
	return cmd
}

// keyringSaveCmd verifies the password by opening the store read-only
// before caching it.
func keyringSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the store password to the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()
			if !core.IsEncryptedStorageFile(backend) {
				return fmt.Errorf("%s is not an encrypted store", backend.Location())
			}

			password, err := GetPassword("Enter password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			opts, err := storeOptions(true)
			if err != nil {
				return err
			}
			opts.Password = password
			s, err := core.Open(backend, opts)
			if err != nil {
				return err
			}
			s.Close()

			if err := keyring.SavePassword(keyring.StoreID(backend.Location()), password); err != nil {
				return fmt.Errorf("failed to save to keyring: %w", err)
			}
			fmt.Println("Password saved to keyring")
			return nil
		},
	}
}

func keyringDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the store password from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeID := keyring.StoreID(newBackend().Location())
			if !keyring.HasPassword(storeID) {
				fmt.Println("No password stored in keyring")
				return nil
			}
			if err := keyring.DeletePassword(storeID); err != nil {
				return fmt.Errorf("failed to remove from keyring: %w", err)
			}
			fmt.Println("Password removed from keyring")
			return nil
		},
	}
}

func keyringStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the store password is in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyring.HasPassword(keyring.StoreID(newBackend().Location())) {
				fmt.Println("Password: stored in keyring")
			} else {
				fmt.Println("Password: not stored")
			}
			return nil
		},
	}
}
