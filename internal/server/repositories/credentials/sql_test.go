package credentials

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLRepository(db), mock
}

var cols = []string{"id", "user_id", "credential_id", "public_key", "created_at"}

func TestCreate_EncodesCredentialID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	q := `(?s)^INSERT\s+INTO\s+credentials\s*\(user_id,\s*credential_id,\s*public_key,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*RETURNING\s+id$`
	mock.ExpectQuery(q).
		WithArgs(int64(7), "AQID", `{"id":"AQID"}`, int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	cred := &models.Credential{UserID: 7, CredentialID: []byte{1, 2, 3}, PublicKey: []byte(`{"id":"AQID"}`), CreatedAt: time.Unix(100, 0)}
	got, err := repo.Create(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUserAndCredentialID(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^SELECT\s+id,\s*user_id,\s*credential_id,\s*public_key,\s*created_at\s+FROM\s+credentials\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+credential_id\s*=\s*\$2$`

	mock.ExpectQuery(q).
		WithArgs(int64(7), "AQID").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), int64(7), "AQID", "material", int64(100)))

	got, err := repo.GetByUserAndCredentialID(context.Background(), 7, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, &models.Credential{ID: 3, UserID: 7, CredentialID: []byte{1, 2, 3}, PublicKey: []byte("material"), CreatedAt: time.Unix(100, 0)}, got)

	mock.ExpectQuery(q).WithArgs(int64(8), "AQID").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByUserAndCredentialID(context.Background(), 8, []byte{1, 2, 3})
	assert.ErrorIs(t, err, common.ErrNotFound)

	mock.ExpectQuery(q).WithArgs(int64(7), "AQID").WillReturnError(errors.New("db down"))
	_, err = repo.GetByUserAndCredentialID(context.Background(), 7, []byte{1, 2, 3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestListByUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+credentials\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+id`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(7), "AQ", "a", int64(1)).
			AddRow(int64(2), int64(7), "Ag", "b", int64(2)))

	got, err := repo.ListByUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{1}, got[0].CredentialID)
	assert.Equal(t, []byte{2}, got[1].CredentialID)
}

func TestListByUser_BadStoredID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+credentials`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), int64(7), "!!", "a", int64(1)))

	_, err := repo.ListByUser(context.Background(), 7)
	require.Error(t, err)
}
