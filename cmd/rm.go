package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key> [key...]",
		Short: "Remove keys from the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(false)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, key := range args {
				if s.Delete(key) {
					fmt.Printf("removed: %s\n", key)
				} else {
					fmt.Printf("warning: %s not in store\n", key)
				}
			}

			if !s.WasChanged() {
				return fmt.Errorf("%w: no keys removed", errKeyNotFound)
			}
			return s.Save()
		},
	}
}
