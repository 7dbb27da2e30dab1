package commands

import (
	"fmt"
	"time"

	"github.com/fredemmott/TempFiles/internal/server"
	"github.com/spf13/cobra"
)

func addUserCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "add-user <username>",
		Short: "Create a user and print a one-time passkey registration token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *server.App) error {
				e, err := app.AddUser(cmd.Context(), args[0], force)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "User:  %s (%s)\n", e.User.UserName, e.User.UUID)
				fmt.Fprintf(out, "Token: %s\n", e.Token)
				fmt.Fprintf(out, "Valid until %s\n", e.ExpiresAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "replace an existing user of the same name")
	return cmd
}
