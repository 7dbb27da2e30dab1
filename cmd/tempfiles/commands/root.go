// Package commands is the tempfiles command tree. Server settings come from
// the config package (file, environment and short flags); cobra only parses
// what belongs to a subcommand.
package commands

import (
	"context"
	"os"

	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server"
	"github.com/fredemmott/TempFiles/internal/server/config"
	"github.com/spf13/cobra"
)

// seams for tests
var (
	loadConfig = config.LoadConfig
	newLogger  = func(debug bool) logging.Logger {
		return logging.NewJSON(os.Stderr, debug)
	}
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tempfiles",
		Short:        "Passkey-protected encrypted temporary file sharing",
		SilenceUsage: true,
		// configuration flags are parsed by the config package
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}

	root.AddCommand(initCmd(), serveCmd(), pruneCmd(), addUserCmd())
	for _, c := range root.Commands() {
		c.FParseErrWhitelist = root.FParseErrWhitelist
	}
	return root
}

// withApp loads the configuration, opens the application and runs fn.
func withApp(ctx context.Context, fn func(app *server.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := server.NewApp(ctx, cfg, newLogger(cfg.Debug))
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}
