package consents

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestAppend(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+user_consents\s*\(.*\)\s*VALUES\s*\(\$1,.*\$8\)$`).
		WithArgs("c-1", "u-1", "analytics", true, ts, "10.0.0.1", "curl", "v1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &models.ConsentRecord{
		ID: "c-1", UserID: "u-1", Category: models.ConsentAnalytics, Granted: true, Timestamp: ts,
		Origin: models.Origin{IPAddress: "10.0.0.1", UserAgent: "curl"}, PolicyVersion: "v1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+user_consents`).WillReturnError(errors.New("down"))

	err := repo.Append(context.Background(), &models.ConsentRecord{ID: "c-1"})
	require.ErrorContains(t, err, "db error: down")
}

func TestListByUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "category", "granted", "recorded_at", "ip_address", "user_agent", "policy_version"}).
		AddRow("c-1", "u-1", "marketing", true, t1, "1.1.1.1", "ua", "v1").
		AddRow("c-2", "u-1", "marketing", false, t1.Add(time.Hour), "1.1.1.1", "ua", "v1")
	mock.ExpectQuery(`(?s)FROM\s+user_consents\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+recorded_at,\s*seq$`).
		WithArgs("u-1").
		WillReturnRows(rows)

	got, err := repo.ListByUser(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ConsentMarketing, got[1].Category)
	assert.False(t, got[1].Granted)
	assert.Equal(t, "1.1.1.1", got[0].Origin.IPAddress)
}

func TestListByUser_RowError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "user_id", "category", "granted", "recorded_at", "ip_address", "user_agent", "policy_version"}).
		AddRow("c-1", "u-1", "marketing", true, time.Now(), "", "", "").
		RowError(0, errors.New("broken row"))
	mock.ExpectQuery(`FROM\s+user_consents`).WithArgs("u-1").WillReturnRows(rows)

	_, err := repo.ListByUser(context.Background(), "u-1")
	require.Error(t, err)
}

func TestDeleteByUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^DELETE\s+FROM\s+user_consents\s+WHERE\s+user_id\s*=\s*\$1$`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteByUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
