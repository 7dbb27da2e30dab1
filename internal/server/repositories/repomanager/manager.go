package repomanager

import (
	"context"
	"database/sql"

	"github.com/fredemmott/TempFiles/internal/dbx"
	"github.com/fredemmott/TempFiles/internal/server/repositories/blobs"
	"github.com/fredemmott/TempFiles/internal/server/repositories/credentials"
	"github.com/fredemmott/TempFiles/internal/server/repositories/registrationtokens"
	"github.com/fredemmott/TempFiles/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction, and owns schema migrations.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	RegistrationTokens(db dbx.DBTX) registrationtokens.Repository
	Blobs(db dbx.DBTX) blobs.Repository
}
