package cmd

import (
	"fmt"

	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/crypto"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var noPassword bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new, empty store",
		Long: `Creates a new store. Prompts for a password unless --no-password is given
or WALLETVAULT_PASSWORD is set. The password is not stored anywhere unless
you run 'walletvault keyring save'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := storeOptions(false)
			if err != nil {
				return err
			}
			opts.Create = true

			if !noPassword {
				password, err := GetPasswordForInit("Enter new password: ")
				if err != nil {
					return err
				}
				defer crypto.ClearBytes(password)
				opts.Password = password
			}

			s, err := core.Open(newBackend(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			mode := "plaintext"
			if s.IsEncrypted() {
				mode = fmt.Sprintf("encrypted, %s, %s", opts.KDF.Algorithm, opts.Cipher)
			}
			fmt.Printf("initialized %s (%s)\n", s.Location(), mode)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPassword, "no-password", false, "create a plaintext store")
	return cmd
}
