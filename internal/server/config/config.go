// Package config handles configuration for the server, including defaults,
// a JSON overlay, environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the TempFiles server.
//
// Fields:
//   - HTTPAddr: bind address of the HTTP API.
//   - DatabaseDriver / DatabaseDSN: "sqlite" (modernc) or "pgx" and its DSN.
//   - StorageBackend: "fs" keeps blobs under UploadRoot, "s3" in S3Bucket.
//   - StagingDir: where uploads are spooled before being moved into place.
//     Keep it on the same filesystem as UploadRoot so the move is a rename.
//   - RPID / RPDisplayName / RPOrigins: WebAuthn relying party.
//   - AllowedOrigins: CORS origins; defaults to RPOrigins.
//   - CeremonyTTL, SessionTTL (sliding), RegistrationTokenTTL: lifetimes.
//   - PruneInterval: how often the reconciler sweeps.
//   - CorrelationPruneInterval: how often expired ceremonies and sessions
//     are dropped from memory.
//   - ReconcileGrace: stored files younger than this are never swept.
//   - Debug: debug logging and error details in responses.
type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR" validate:"required"`
	DatabaseDriver string `env:"DATABASE_DRIVER" validate:"oneof=sqlite pgx"`
	DatabaseDSN    string `env:"DATABASE_DSN" validate:"required"`

	StorageBackend string `env:"STORAGE_BACKEND" validate:"oneof=fs s3"`
	UploadRoot     string `env:"UPLOAD_ROOT" validate:"required_if=StorageBackend fs"`
	StagingDir     string `env:"STAGING_DIR" validate:"required"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" validate:"gt=0"`

	S3RootUser     string `env:"S3_ROOT_USER"`
	S3RootPassword string `env:"S3_ROOT_PASSWORD"`
	S3Bucket       string `env:"S3_BUCKET" validate:"required_if=StorageBackend s3"`
	S3Region       string `env:"S3_REGION"`
	S3BaseEndpoint string `env:"S3_BASE_ENDPOINT"`

	RPID           string   `env:"RP_ID" validate:"required"`
	RPDisplayName  string   `env:"RP_DISPLAY_NAME" validate:"required"`
	RPOrigins      []string `env:"RP_ORIGINS" envSeparator:"," validate:"min=1,dive,url"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	CeremonyTTL              time.Duration `env:"CEREMONY_TTL" validate:"gt=0"`
	SessionTTL               time.Duration `env:"SESSION_TTL" validate:"gt=0"`
	RegistrationTokenTTL     time.Duration `env:"REGISTRATION_TOKEN_TTL" validate:"gt=0"`
	PruneInterval            time.Duration `env:"PRUNE_INTERVAL" validate:"gt=0"`
	CorrelationPruneInterval time.Duration `env:"CORRELATION_PRUNE_INTERVAL" validate:"gt=0"`
	ReconcileGrace           time.Duration `env:"RECONCILE_GRACE" validate:"gte=0"`

	PrfSeedPath string `env:"PRF_SEED_PATH" validate:"required"`
	Debug       bool   `env:"DEBUG"`
}

// LoadDefaults populates Config with defaults suitable for a single-host
// deployment on localhost.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = "127.0.0.1:8080"
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "file:data/tempfiles.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	c.StorageBackend = "fs"
	c.UploadRoot = "data/uploads"
	c.StagingDir = "data/staging"
	c.MaxUploadBytes = 2 << 30
	c.S3Region = "us-east-1"
	c.RPID = "localhost"
	c.RPDisplayName = "TempFiles"
	c.RPOrigins = []string{"http://localhost:8080"}
	c.CeremonyTTL = 5 * time.Minute
	c.SessionTTL = time.Hour
	c.RegistrationTokenTTL = 7 * 24 * time.Hour
	c.PruneInterval = time.Hour
	c.CorrelationPruneInterval = time.Minute
	c.ReconcileGrace = time.Minute
	c.PrfSeedPath = "data/prf_seed.key"
}

// CORSOrigins returns the origins allowed to call the API.
func (c *Config) CORSOrigins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	return c.RPOrigins
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from os.Args; see Load.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load applies, in order: defaults, the JSON file named by -c/-config,
// TEMPFILES_* environment variables and command-line flags. Arguments that
// are not configuration flags are ignored.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
