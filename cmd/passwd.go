package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/crypto"
	"github.com/illarion/walletvault/internal/keyring"
	"github.com/illarion/walletvault/internal/storage"
	"github.com/spf13/cobra"
)

func passwdCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change, set or remove the store password",
		Long: `Re-encrypts the store under a new password with a fresh salt. With
--remove the store is rewritten as plaintext. The new password is read
from WALLETVAULT_NEW_PASSWORD when set. A password cached in the keyring
is updated or removed to match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(false)
			if err != nil {
				return err
			}
			defer s.Close()

			var newPassword []byte
			if !remove {
				newPassword = core.GetNewPasswordFromEnv()
				if newPassword == nil {
					if !core.IsTerminal() {
						return fmt.Errorf("%w: set %s", core.ErrPasswordRequired, core.NewPasswordEnv)
					}
					newPassword, err = core.ReadPasswordConfirm("Enter new password: ")
					if err != nil {
						return err
					}
				}
				defer crypto.ClearBytes(newPassword)
			}

			if err := s.ChangePassword(newPassword); err != nil {
				return err
			}

			storeID := keyring.StoreID(s.Location())
			if keyring.HasPassword(storeID) {
				if remove {
					if err := keyring.DeletePassword(storeID); err == nil {
						fmt.Println("Keyring entry removed")
					}
				} else if err := keyring.SavePassword(storeID, newPassword); err == nil {
					fmt.Println("Keyring updated with new password")
				}
			}

			if remove {
				fmt.Println("password removed, store is now plaintext")
			} else {
				fmt.Println("password changed successfully")
			}

			// Reclaim the pages of the old envelope once the lock is gone
			if db := boltDB(); db != "" {
				if err := s.Close(); err != nil {
					return err
				}
				if err := storage.Compact(db); err != nil {
					fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the password and store plaintext")
	return cmd
}
