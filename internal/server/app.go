// Package server wires configuration, storage, services and transport into
// the running TempFiles application and the operator commands.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/filex"
	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/blobstorage"
	"github.com/fredemmott/TempFiles/internal/server/config"
	"github.com/fredemmott/TempFiles/internal/server/httpapi"
	"github.com/fredemmott/TempFiles/internal/server/passkey"
	"github.com/fredemmott/TempFiles/internal/server/prfseed"
	"github.com/fredemmott/TempFiles/internal/server/reconciler"
	"github.com/fredemmott/TempFiles/internal/server/repositories/repomanager"
	"github.com/fredemmott/TempFiles/internal/server/scheduler"
	"github.com/fredemmott/TempFiles/internal/server/services"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	storage     blobstorage.Backend
}

// seams for tests
var (
	openDB = repomanager.Open
	newS3  = func(ctx context.Context, c blobstorage.S3Config, logger logging.Logger) (blobstorage.Backend, error) {
		return blobstorage.NewS3(ctx, c, logger)
	}
)

// NewApp prepares local directories, opens and migrates the database and
// selects the blob backend. Close releases them.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if err := prepareDirs(cfg); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	db, rm, err := openDB(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	storage, err := newStorage(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	return &App{config: cfg, logger: logger, db: db, repomanager: rm, storage: storage}, nil
}

func newStorage(ctx context.Context, cfg *config.Config, logger logging.Logger) (blobstorage.Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		return newS3(ctx, blobstorage.S3Config{
			User:     cfg.S3RootUser,
			Password: cfg.S3RootPassword,
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3BaseEndpoint,
		}, logger)
	default:
		return blobstorage.NewFS(cfg.UploadRoot, logger)
	}
}

func prepareDirs(cfg *config.Config) error {
	if err := filex.EnsureDir(cfg.StagingDir); err != nil {
		return err
	}
	if cfg.DatabaseDriver == repomanager.DriverSQLite {
		if path := sqlitePath(cfg.DatabaseDSN); path != "" {
			return filex.EnsureDir(filepath.Dir(path))
		}
	}
	return nil
}

// sqlitePath extracts the database file from a modernc DSN, or "" for
// in-memory databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

func (app *App) Close() error {
	return app.db.Close()
}

func (app *App) reconciler() *reconciler.Reconciler {
	return reconciler.New(app.db, app.repomanager, app.storage, app.config.ReconcileGrace, nil, app.logger)
}

// Init creates the PRF seed. The database and directories already exist
// once NewApp has returned.
func (app *App) Init(ctx context.Context) error {
	if _, err := prfseed.LoadOrCreate(app.config.PrfSeedPath); err != nil {
		return fmt.Errorf("prf seed: %w", err)
	}
	app.logger.Info(ctx, "initialized",
		"database", app.config.DatabaseDriver,
		"storage", app.config.StorageBackend,
		"prf_seed", app.config.PrfSeedPath)
	return nil
}

// Prune runs one synchronous reconciler sweep.
func (app *App) Prune(ctx context.Context) (reconciler.Report, error) {
	return app.reconciler().RunOnce(ctx)
}

// AddUser creates a user with a registration token.
func (app *App) AddUser(ctx context.Context, userName string, force bool) (*services.Enrollment, error) {
	us := services.NewUserService(app.db, app.repomanager, app.config.RegistrationTokenTTL, nil, app.logger)
	return us.AddUser(ctx, userName, force)
}

// newHTTPServer builds the services behind the API. The returned sessions and
// ceremonies are pruned by the scheduler.
func (app *App) newHTTPServer() (*httpapi.Server, *services.CeremonyService, *services.SessionManager, error) {
	cfg := app.config

	seed, err := prfseed.LoadOrCreate(cfg.PrfSeedPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prf seed: %w", err)
	}
	salt, err := prfseed.Salt(seed)
	common.WipeByteArray(seed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prf salt: %w", err)
	}

	verifier, err := passkey.New(cfg.RPID, cfg.RPDisplayName, cfg.RPOrigins)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("webauthn: %w", err)
	}

	sessions := services.NewSessionManager(cfg.SessionTTL, nil)
	ceremonies := services.NewCeremonyService(app.db, app.repomanager, verifier, sessions, cfg.CeremonyTTL, nil, app.logger)
	blobs := services.NewBlobService(app.db, app.repomanager, app.storage, nil, app.logger)

	srv := httpapi.NewServer(cfg.HTTPAddr, app.logger, ceremonies, sessions, blobs, httpapi.Options{
		StagingDir:     cfg.StagingDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		PRFSalt:        salt,
		CORSOrigins:    cfg.CORSOrigins(),
		Debug:          cfg.Debug,
	})
	return srv, ceremonies, sessions, nil
}

func (app *App) newScheduler(ceremonies *services.CeremonyService, sessions *services.SessionManager) (*scheduler.Scheduler, error) {
	sched := scheduler.New(app.logger)
	if err := sched.Every(app.config.PruneInterval, "reconcile", app.reconciler().Run); err != nil {
		return nil, err
	}
	err := sched.Every(app.config.CorrelationPruneInterval, "correlation_prune", func(ctx context.Context) error {
		n := ceremonies.Prune() + sessions.Prune()
		if n > 0 {
			app.logger.Debug(ctx, "expired correlations dropped", "count", n,
				"pending_ceremonies", ceremonies.Pending(), "sessions", sessions.Active())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Serve runs the HTTP API and the maintenance jobs until ctx is cancelled
// or a termination signal arrives.
func (app *App) Serve(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	srv, ceremonies, sessions, err := app.newHTTPServer()
	if err != nil {
		return err
	}
	sched, err := app.newScheduler(ceremonies, sessions)
	if err != nil {
		return err
	}

	if _, err := app.Prune(ctx); err != nil {
		app.logger.Warn(ctx, "startup sweep failed", "error", err)
	}

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			runErr = err
			cancelFunc()
		}
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "app stopped")
	return runErr
}
