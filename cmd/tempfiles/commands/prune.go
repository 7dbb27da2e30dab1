package commands

import (
	"fmt"

	"github.com/fredemmott/TempFiles/internal/server"
	"github.com/spf13/cobra"
)

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Reconcile stored files with the database once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *server.App) error {
				rep, err := app.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files, %d directories and %d rows (%d files and %d rows failed).\n",
					rep.FilesRemoved, rep.DirsRemoved, rep.RowsDeleted, rep.FilesFailed, rep.RowsFailed)
				return nil
			})
		},
	}
}
