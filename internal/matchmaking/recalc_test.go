package matchmaking

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/pkg/distlock"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

func setupRecalculator(t *testing.T) (*Recalculator, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	port := database.NewFromConns(db, nil)
	store := NewStore(port, NewScorer(), telemetry.NewMetrics())
	recalc := NewRecalculator(store, distlock.NewFactory(nil, db), telemetry.NewMetrics(), telemetry.NewRecorder(port))
	return recalc, mock, func() { db.Close() }
}

func expectScoredPair(mock sqlmock.Sqlmock) {
	expectEmptyPairData(mock)
	mock.ExpectQuery("INSERT INTO matches").
		WillReturnRows(sqlmock.NewRows([]string{"match_id", "updated_at"}).
			AddRow(uuid.New(), time.Now()))
}

func expectRecalcEvent(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRecalculate_PairMode(t *testing.T) {
	recalc, mock, cleanup := setupRecalculator(t)
	defer cleanup()

	advertiserID := uuid.New()
	podcastID := uuid.New()

	expectScoredPair(mock)
	expectRecalcEvent(mock)

	result, err := recalc.Recalculate(tenantCtx(uuid.New()), &advertiserID, &podcastID)
	require.NoError(t, err)
	assert.Equal(t, FanoutPair, result.Mode)
	assert.Equal(t, 1, result.Scored)
	assert.Zero(t, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalculate_AdvertiserFanout(t *testing.T) {
	recalc, mock, cleanup := setupRecalculator(t)
	defer cleanup()

	tenantID := uuid.New()
	advertiserID := uuid.New()

	mock.ExpectQuery("SELECT id FROM podcasts").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(uuid.New()).
			AddRow(uuid.New()))
	expectScoredPair(mock)
	expectScoredPair(mock)
	expectRecalcEvent(mock)

	result, err := recalc.Recalculate(tenantCtx(tenantID), &advertiserID, nil)
	require.NoError(t, err)
	assert.Equal(t, FanoutAdvertiser, result.Mode)
	assert.Equal(t, 2, result.Scored)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalculate_FanoutCountsFailures(t *testing.T) {
	recalc, mock, cleanup := setupRecalculator(t)
	defer cleanup()

	tenantID := uuid.New()
	podcastID := uuid.New()

	mock.ExpectQuery("SELECT id FROM sponsors").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(uuid.New()).
			AddRow(uuid.New()))
	// First pair fails on its catalog load; the sweep keeps going.
	mock.ExpectQuery("SELECT(.+)FROM sponsors").WillReturnError(sql.ErrConnDone)
	expectScoredPair(mock)
	expectRecalcEvent(mock)

	result, err := recalc.Recalculate(tenantCtx(tenantID), nil, &podcastID)
	require.NoError(t, err)
	assert.Equal(t, FanoutPodcast, result.Mode)
	assert.Equal(t, 1, result.Scored)
	assert.Equal(t, 1, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalculate_TenantWideTakesLock(t *testing.T) {
	recalc, mock, cleanup := setupRecalculator(t)
	defer cleanup()

	tenantID := uuid.New()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(true))
	mock.ExpectQuery("SELECT id FROM sponsors").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectQuery("SELECT id FROM podcasts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	expectScoredPair(mock)
	mock.ExpectExec("pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecalcEvent(mock)

	result, err := recalc.Recalculate(tenantCtx(tenantID), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, FanoutTenant, result.Mode)
	assert.Equal(t, 1, result.Scored)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalculate_TenantWideSkipsWhenLockHeld(t *testing.T) {
	recalc, mock, cleanup := setupRecalculator(t)
	defer cleanup()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(false))
	expectRecalcEvent(mock)

	result, err := recalc.Recalculate(tenantCtx(uuid.New()), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, FanoutTenant, result.Mode)
	assert.Zero(t, result.Scored)
	require.NoError(t, mock.ExpectationsWereMet())
}
