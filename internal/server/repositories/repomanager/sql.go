// Package repomanager opens the relational database (SQLite through
// modernc.org/sqlite or PostgreSQL through pgx) and wires the repositories
// and goose migrations for the chosen dialect.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fredemmott/TempFiles/internal/dbx"
	"github.com/fredemmott/TempFiles/internal/server/migrations"
	"github.com/fredemmott/TempFiles/internal/server/repositories/blobs"
	"github.com/fredemmott/TempFiles/internal/server/repositories/credentials"
	"github.com/fredemmott/TempFiles/internal/server/repositories/registrationtokens"
	"github.com/fredemmott/TempFiles/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// SQLRepositoryManager serves both supported drivers; only the goose dialect
// and the migrations directory differ.
type SQLRepositoryManager struct {
	dialect string
}

func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Credentials(db dbx.DBTX) credentials.Repository {
	return credentials.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) RegistrationTokens(db dbx.DBTX) registrationtokens.Repository {
	return registrationtokens.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Blobs(db dbx.DBTX) blobs.Repository {
	return blobs.NewSQLRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations for the manager's dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(m.dialect); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.Dir(m.dialect))
}

// NewSQLRepositoryManager returns a manager for a database/sql driver name.
func NewSQLRepositoryManager(driver string) (*SQLRepositoryManager, error) {
	switch driver {
	case DriverSQLite:
		return &SQLRepositoryManager{dialect: "sqlite3"}, nil
	case DriverPgx:
		return &SQLRepositoryManager{dialect: "pgx"}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqlOpen is a seam for testing Open.
var sqlOpen = sql.Open

// Open connects to the database, migrates it, and returns the pool with its
// manager. SQLite gets a single connection: the database file has one
// writer, and serialising in the pool avoids SQLITE_BUSY churn.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, RepositoryManager, error) {
	m, err := NewSQLRepositoryManager(driver)
	if err != nil {
		return nil, nil, err
	}

	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return db, m, nil
}
