package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

func twoPoolDB(t *testing.T) (*DB, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		primary.Close()
		replica.Close()
	})
	return NewFromConns(primary, replica), primaryMock, replicaMock
}

func TestQuery_RoutesSelectToReplica(t *testing.T) {
	db, _, replicaMock := twoPoolDB(t)

	replicaMock.ExpectQuery("SELECT id FROM podcasts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))

	rows, err := db.Query(context.Background(), "SELECT id FROM podcasts")
	require.NoError(t, err)
	rows.Close()
	require.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestQuery_WriteStaysOnPrimary(t *testing.T) {
	db, primaryMock, _ := twoPoolDB(t)

	primaryMock.ExpectQuery("INSERT INTO matches(.+)RETURNING").
		WillReturnRows(sqlmock.NewRows([]string{"match_id"}).AddRow("m"))

	rows, err := db.Query(context.Background(), "INSERT INTO matches (x) VALUES (1) RETURNING match_id")
	require.NoError(t, err)
	rows.Close()
	require.NoError(t, primaryMock.ExpectationsWereMet())
}

func TestQuery_ReplicaFailureFallsBackToPrimary(t *testing.T) {
	db, primaryMock, replicaMock := twoPoolDB(t)

	replicaMock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)
	primaryMock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	rows, err := db.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	rows.Close()

	// The replica is now marked down; subsequent reads skip it entirely.
	primaryMock.ExpectQuery("SELECT 2").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	rows, err = db.Query(context.Background(), "SELECT 2")
	require.NoError(t, err)
	rows.Close()

	require.NoError(t, primaryMock.ExpectationsWereMet())
	require.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestExec_AlwaysPrimary(t *testing.T) {
	db, primaryMock, _ := twoPoolDB(t)

	primaryMock.ExpectExec("DELETE FROM events").
		WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := db.Exec(context.Background(), "DELETE FROM events WHERE created_at < NOW()")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 3, n)
	require.NoError(t, primaryMock.ExpectationsWereMet())
}

func TestFetchScalar_MapsNoRowsToNotFound(t *testing.T) {
	primary, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	db := NewFromConns(primary, nil)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(sql.ErrNoRows)

	var count int
	err = db.FetchScalar(context.Background(), &count, "SELECT COUNT(*) FROM matches WHERE 1=0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchScalar_WrapsDriverErrorAsTransport(t *testing.T) {
	primary, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	db := NewFromConns(primary, nil)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(sql.ErrConnDone)

	var count int
	err = db.FetchScalar(context.Background(), &count, "SELECT COUNT(*) FROM matches")
	assert.True(t, domain.IsTransport(err))
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	primary, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	db := NewFromConns(primary, nil)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = db.WithinTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE episodes SET booked_slots = booked_slots + 1"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_Commits(t *testing.T) {
	primary, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	db := NewFromConns(primary, nil)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = db.WithinTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE episodes SET booked_slots = 0")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsReadStatement(t *testing.T) {
	assert.True(t, isReadStatement("SELECT 1"))
	assert.True(t, isReadStatement("  with cte AS (SELECT 1) SELECT * FROM cte"))
	assert.False(t, isReadStatement("INSERT INTO t VALUES (1)"))
	assert.False(t, isReadStatement("UPDATE t SET x = 1"))
}
