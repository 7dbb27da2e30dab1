package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/fredemmott/TempFiles/internal/flagx"
)

var flagNames = []string{
	"-a", "-k", "-d", "-m", "-r", "-s", "-u", "-p", "-b", "-g", "-e",
	"-i", "-n", "-o", "-t", "-x", "-f", "-v",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., "127.0.0.1:8080")
//	-k string   database driver, sqlite or pgx
//	-d string   database DSN
//	-m string   storage backend, fs or s3
//	-r string   upload root directory
//	-s string   staging directory
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-i string   WebAuthn relying party id
//	-n string   WebAuthn relying party display name
//	-o list     WebAuthn origins, comma separated
//	-t int      session validity, minutes
//	-x int      reconciler interval, minutes
//	-f string   PRF seed file
//	-v          debug mode
//
// Only the flags above are picked out of args with flagx.FilterArgs, so
// subcommand arguments pass through untouched.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, flagNames)

	fs := flag.NewFlagSet("tempfiles", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDriver, "k", config.DatabaseDriver, "database driver (sqlite|pgx)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorageBackend, "m", config.StorageBackend, "storage backend (fs|s3)")
	fs.StringVar(&config.UploadRoot, "r", config.UploadRoot, "upload root directory")
	fs.StringVar(&config.StagingDir, "s", config.StagingDir, "staging directory")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.RPID, "i", config.RPID, "WebAuthn relying party id")
	fs.StringVar(&config.RPDisplayName, "n", config.RPDisplayName, "WebAuthn relying party name")
	origins := flagx.StringList(config.RPOrigins)
	fs.Var(&origins, "o", "WebAuthn origins, comma separated")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session validity (in minutes)")
	pruneInterval := fs.Int("x", int(config.PruneInterval.Minutes()), "reconciler interval (in minutes)")

	fs.StringVar(&config.PrfSeedPath, "f", config.PrfSeedPath, "PRF seed file")
	fs.BoolVar(&config.Debug, "v", config.Debug, "debug mode")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	config.RPOrigins = origins
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
		case "x":
			config.PruneInterval = time.Duration(*pruneInterval) * time.Minute
		}
	})
	return nil
}
