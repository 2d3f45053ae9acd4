package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/walletvault/internal/storage"
	"github.com/spf13/cobra"
)

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the bbolt database to reclaim unused space",
		Long: `Compacts the bbolt database given with --bolt (or in the config file).
Does not require a password. Refuses while any store in the database is
open for writing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db := boltDB()
			if db == "" {
				return errNotBolt
			}

			info, err := os.Stat(db)
			if err != nil {
				return err
			}
			sizeBefore := info.Size()

			if err := storage.Compact(db); err != nil {
				return err
			}

			info, err = os.Stat(db)
			if err != nil {
				return err
			}
			sizeAfter := info.Size()

			fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
			return nil
		},
	}
}
