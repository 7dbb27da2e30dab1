package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fredemmott/TempFiles/internal/flagx"
	"github.com/fredemmott/TempFiles/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations use timex.Duration so
// both "90s" and integer nanoseconds are accepted.
type JsonConfig struct {
	HTTPAddr                 string         `json:"http_addr"`
	DatabaseDriver           string         `json:"database_driver"`
	DatabaseDSN              string         `json:"database_dsn"`
	StorageBackend           string         `json:"storage_backend"`
	UploadRoot               string         `json:"upload_root"`
	StagingDir               string         `json:"staging_dir"`
	MaxUploadBytes           int64          `json:"max_upload_bytes"`
	S3RootUser               string         `json:"s3_root_user"`
	S3RootPassword           string         `json:"s3_root_password"`
	S3Bucket                 string         `json:"s3_bucket"`
	S3Region                 string         `json:"s3_region"`
	S3BaseEndpoint           string         `json:"s3_base_endpoint"`
	RPID                     string         `json:"rp_id"`
	RPDisplayName            string         `json:"rp_display_name"`
	RPOrigins                []string       `json:"rp_origins"`
	AllowedOrigins           []string       `json:"allowed_origins"`
	CeremonyTTL              timex.Duration `json:"ceremony_ttl"`
	SessionTTL               timex.Duration `json:"session_ttl"`
	RegistrationTokenTTL     timex.Duration `json:"registration_token_ttl"`
	PruneInterval            timex.Duration `json:"prune_interval"`
	CorrelationPruneInterval timex.Duration `json:"correlation_prune_interval"`
	ReconcileGrace           timex.Duration `json:"reconcile_grace"`
	PrfSeedPath              string         `json:"prf_seed_path"`
	Debug                    bool           `json:"debug"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:                 c.HTTPAddr,
		DatabaseDriver:           c.DatabaseDriver,
		DatabaseDSN:              c.DatabaseDSN,
		StorageBackend:           c.StorageBackend,
		UploadRoot:               c.UploadRoot,
		StagingDir:               c.StagingDir,
		MaxUploadBytes:           c.MaxUploadBytes,
		S3RootUser:               c.S3RootUser,
		S3RootPassword:           c.S3RootPassword,
		S3Bucket:                 c.S3Bucket,
		S3Region:                 c.S3Region,
		S3BaseEndpoint:           c.S3BaseEndpoint,
		RPID:                     c.RPID,
		RPDisplayName:            c.RPDisplayName,
		RPOrigins:                c.RPOrigins,
		AllowedOrigins:           c.AllowedOrigins,
		CeremonyTTL:              timex.Duration{Duration: c.CeremonyTTL},
		SessionTTL:               timex.Duration{Duration: c.SessionTTL},
		RegistrationTokenTTL:     timex.Duration{Duration: c.RegistrationTokenTTL},
		PruneInterval:            timex.Duration{Duration: c.PruneInterval},
		CorrelationPruneInterval: timex.Duration{Duration: c.CorrelationPruneInterval},
		ReconcileGrace:           timex.Duration{Duration: c.ReconcileGrace},
		PrfSeedPath:              c.PrfSeedPath,
		Debug:                    c.Debug,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.HTTPAddr = j.HTTPAddr
	c.DatabaseDriver = j.DatabaseDriver
	c.DatabaseDSN = j.DatabaseDSN
	c.StorageBackend = j.StorageBackend
	c.UploadRoot = j.UploadRoot
	c.StagingDir = j.StagingDir
	c.MaxUploadBytes = j.MaxUploadBytes
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.RPID = j.RPID
	c.RPDisplayName = j.RPDisplayName
	c.RPOrigins = j.RPOrigins
	c.AllowedOrigins = j.AllowedOrigins
	c.CeremonyTTL = time.Duration(j.CeremonyTTL.Duration)
	c.SessionTTL = time.Duration(j.SessionTTL.Duration)
	c.RegistrationTokenTTL = time.Duration(j.RegistrationTokenTTL.Duration)
	c.PruneInterval = time.Duration(j.PruneInterval.Duration)
	c.CorrelationPruneInterval = time.Duration(j.CorrelationPruneInterval.Duration)
	c.ReconcileGrace = time.Duration(j.ReconcileGrace.Duration)
	c.PrfSeedPath = j.PrfSeedPath
	c.Debug = j.Debug
}

// parseJson overlays the JSON file named by -c, -config or --config in args.
// Keys missing from the file keep their current values.
func parseJson(config *Config, args []string) error {
	jsonConfigFile := flagx.JsonConfigFlags(args)

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("config file %s: %w", jsonConfigFile, err)
	}

	c.apply(config)
	return nil
}
