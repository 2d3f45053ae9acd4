package cmd

import (
	"fmt"

	"github.com/illarion/walletvault/internal/core"
	"github.com/spf13/cobra"
)

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List keys with their sizes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(true)
			if err != nil {
				return err
			}
			defer s.Close()

			keys := s.Keys()
			if len(keys) == 0 {
				fmt.Println("(empty)")
				return nil
			}

			var total int64
			for _, key := range keys {
				value, _ := s.Get(key)
				kind := "binary"
				if core.IsText(value) {
					kind = "text"
				}
				total += int64(len(value))
				fmt.Printf("  %s (%s, %s)\n", key, formatSize(int64(len(value))), kind)
			}
			fmt.Printf("\n%d keys, %s\n", len(keys), formatSize(total))
			return nil
		},
	}
}
