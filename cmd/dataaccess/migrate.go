package main

import (
	"fmt"

	"github.com/Sternrassler/dataaccess/pkg/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the records schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := store.Open(cmd.Context(), opts.cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Apply(cmd.Context(), db); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return err
		},
	}
}
