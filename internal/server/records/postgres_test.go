package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/balli/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	upsertQuery = `(?s)^INSERT\s+INTO\s+records\s*\(id,\s*user_id,\s*category,\s*last_modified_at,\s*payload,\s*deleted\).*` +
		`ON\s+CONFLICT\s*\(id\)\s*DO\s+UPDATE.*WHERE\s+records\.user_id\s*=\s*EXCLUDED\.user_id\s+` +
		`AND\s+records\.last_modified_at\s*<\s*EXCLUDED\.last_modified_at\s*$`
	listQuery = `(?s)^SELECT\s+id,\s*user_id,\s*category,\s*last_modified_at,\s*payload,\s*deleted\s+FROM\s+records\s+` +
		`WHERE\s+user_id\s*=\s*\$1\s+AND\s+category\s*=\s*\$2\s+ORDER\s+BY\s+last_modified_at,\s*id\s*$`
)

var lm = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

func record(id string) models.Record {
	return models.Record{ID: id, UserID: "u1", Category: "facts", LastModifiedAt: lm, Payload: json.RawMessage(`{"text":"hi"}`)}
}

func TestUpsert_NewerIsWritten(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(upsertQuery).
		WithArgs("r1", "u1", "facts", sqlmock.AnyArg(), []byte(`{"text":"hi"}`), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Upsert(context.Background(), record("r1"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_OlderOrForeignIsIgnored(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	// ON CONFLICT ... WHERE не выполнил обновление: 0 строк
	mock.ExpectExec(upsertQuery).
		WithArgs("r1", "u1", "facts", sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := record("r1")
	rec.Payload = nil
	rec.Deleted = true
	ok, err := repo.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(upsertQuery).WillReturnError(errors.New("db down"))

	_, err := repo.Upsert(context.Background(), record("r1"))
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestList_ScansRows(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "category", "last_modified_at", "payload", "deleted"}).
		AddRow("r1", "u1", "facts", lm, []byte(`{"text":"hi"}`), false).
		AddRow("r2", "u1", "facts", lm.Add(time.Minute), nil, true)
	mock.ExpectQuery(listQuery).WithArgs("u1", "facts").WillReturnRows(rows)

	got, err := repo.List(context.Background(), "u1", "facts")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, models.Category("facts"), got[0].Category)
	assert.True(t, lm.Equal(got[0].LastModifiedAt))
	assert.JSONEq(t, `{"text":"hi"}`, string(got[0].Payload))

	assert.True(t, got[1].Deleted)
	assert.Empty(t, got[1].Payload)
}

func TestList_Empty(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(listQuery).WithArgs("u1", "patterns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "category", "last_modified_at", "payload", "deleted"}))

	got, err := repo.List(context.Background(), "u1", "patterns")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestList_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(listQuery).WillReturnError(errors.New("db down"))

	_, err := repo.List(context.Background(), "u1", "facts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}
