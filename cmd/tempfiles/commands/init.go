package commands

import (
	"fmt"

	"github.com/fredemmott/TempFiles/internal/server"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directories, database schema and PRF seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *server.App) error {
				if err := app.Init(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Initialized.")
				return nil
			})
		},
	}
}
