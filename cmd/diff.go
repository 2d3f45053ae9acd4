package cmd

import (
	"fmt"

	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/storage"
	"github.com/spf13/cobra"
)

func diffCmd() *cobra.Command {
	var keysOnly bool

	cmd := &cobra.Command{
		Use:   "diff <other-store-file>",
		Short: "Compare the store with another store file",
		Long: `Compares the keys and values of the selected store with another store
file, for example a backup. Both are opened read-only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(true)
			if err != nil {
				return err
			}
			defer s.Close()

			other, err := openBackend(storage.NewFile(args[0]), true)
			if err != nil {
				return err
			}
			defer other.Close()

			d := core.CompareMappings(s.Data(), other.Data())
			if d.Empty() {
				fmt.Println("no differences")
				return nil
			}

			for _, key := range d.Removed {
				fmt.Printf("- %s\n", key)
			}
			for _, key := range d.Added {
				fmt.Printf("+ %s\n", key)
			}
			for _, key := range d.Changed {
				fmt.Printf("~ %s\n", key)
				if keysOnly {
					continue
				}
				oldValue, _ := s.Get(key)
				newValue, _ := other.Get(key)
				fmt.Print(core.ValueDiff(key, oldValue, newValue))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keysOnly, "keys-only", false, "list changed keys without values")
	return cmd
}
