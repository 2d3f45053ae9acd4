package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func getCmd() *cobra.Command {
	var asHex bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(true)
			if err != nil {
				return err
			}
			defer s.Close()

			value, ok := s.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", errKeyNotFound, args[0])
			}

			if asHex {
				fmt.Println(hex.EncodeToString(value))
				return nil
			}
			if _, err := os.Stdout.Write(value); err != nil {
				return err
			}
			if len(value) > 0 && value[len(value)-1] != '\n' && term.IsTerminal(int(os.Stdout.Fd())) {
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asHex, "hex", false, "print the value hex encoded")
	return cmd
}
