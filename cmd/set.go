package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func setCmd() *cobra.Command {
	var fromHex bool

	cmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a value under a key",
		Long: `Stores a value under a key and saves the store. Without a value argument
the value is read from stdin, which keeps it out of shell history.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read value: %w", err)
				}
				value = data
			}

			if fromHex {
				decoded, err := hex.DecodeString(strings.TrimSpace(string(value)))
				if err != nil {
					return fmt.Errorf("invalid hex value: %w", err)
				}
				value = decoded
			}

			s, err := openStore(false)
			if err != nil {
				return err
			}
			defer s.Close()

			s.Put(args[0], value)
			if !s.WasChanged() {
				fmt.Printf("%s: unchanged\n", args[0])
				return nil
			}
			if err := s.Save(); err != nil {
				return err
			}
			fmt.Printf("%s: saved (%s)\n", args[0], formatSize(int64(len(value))))
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromHex, "hex", false, "value is hex encoded")
	return cmd
}
