package matchmaking

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

func setupMatchStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	port := database.NewFromConns(db, nil)
	store := NewStore(port, NewScorer(), telemetry.NewMetrics())
	return store, mock, func() { db.Close() }
}

func tenantCtx(tenantID uuid.UUID) context.Context {
	return domain.WithTenant(context.Background(), tenantID)
}

// expectEmptyPairData queues the four catalog loads returning no data,
// so the scorer sees all defaults.
func expectEmptyPairData(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT(.+)FROM sponsors").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT(.+)FROM podcasts").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT COUNT(.+)FROM campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT(.+)FROM episodes").
		WillReturnRows(sqlmock.NewRows([]string{"free", "total", "explicit"}).AddRow(0, 0, 0))
}

func TestScore_UpsertsDefaultScore(t *testing.T) {
	store, mock, cleanup := setupMatchStore(t)
	defer cleanup()

	tenantID := uuid.New()
	advertiserID := uuid.New()
	podcastID := uuid.New()
	matchID := uuid.New()

	expectEmptyPairData(mock)
	mock.ExpectQuery("INSERT INTO matches").
		WillReturnRows(sqlmock.NewRows([]string{"match_id", "updated_at"}).
			AddRow(matchID, time.Now()))

	match, err := store.Score(tenantCtx(tenantID), advertiserID, podcastID)
	require.NoError(t, err)

	assert.Equal(t, matchID, match.ID)
	assert.InDelta(t, 44.0, match.Score, 1e-9)
	assert.Equal(t, "Insufficient data for scoring", match.Rationale)
	assert.Len(t, match.Signals, 6)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScore_RequiresTenant(t *testing.T) {
	store, _, cleanup := setupMatchStore(t)
	defer cleanup()

	_, err := store.Score(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGet_NotFound(t *testing.T) {
	store, mock, cleanup := setupMatchStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT(.+)FROM matches").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(tenantCtx(uuid.New()), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGet_DecodesSignals(t *testing.T) {
	store, mock, cleanup := setupMatchStore(t)
	defer cleanup()

	tenantID := uuid.New()
	advertiserID := uuid.New()
	podcastID := uuid.New()

	mock.ExpectQuery("SELECT(.+)FROM matches").
		WillReturnRows(sqlmock.NewRows([]string{
			"match_id", "tenant_id", "advertiser_id", "podcast_id",
			"score", "rationale", "signals", "updated_at",
		}).AddRow(uuid.New(), tenantID, advertiserID, podcastID,
			72.5, "Geo overlap: 80%", []byte(`{"geo_overlap":0.8}`), time.Now()))

	m, err := store.Get(tenantCtx(tenantID), advertiserID, podcastID)
	require.NoError(t, err)
	assert.InDelta(t, 72.5, m.Score, 1e-9)
	assert.InDelta(t, 0.8, m.Signals[domain.SignalGeoOverlap], 1e-9)
}

func TestTopForAdvertiser_OrderedByScore(t *testing.T) {
	store, mock, cleanup := setupMatchStore(t)
	defer cleanup()

	tenantID := uuid.New()
	advertiserID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"match_id", "tenant_id", "advertiser_id", "podcast_id",
		"score", "rationale", "signals", "updated_at",
	}).
		AddRow(uuid.New(), tenantID, advertiserID, uuid.New(), 91.0, "", []byte(`{}`), time.Now()).
		AddRow(uuid.New(), tenantID, advertiserID, uuid.New(), 44.0, "", []byte(`{}`), time.Now())

	mock.ExpectQuery("SELECT(.+)FROM matches(.+)ORDER BY score DESC").
		WithArgs(tenantID, advertiserID, 20).
		WillReturnRows(rows)

	matches, err := store.TopForAdvertiser(tenantCtx(tenantID), advertiserID, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestTopForAdvertiser_CacheRoundTrip(t *testing.T) {
	store, mock, cleanup := setupMatchStore(t)
	defer cleanup()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store.SetCache(database.NewCache(client))

	tenantID := uuid.New()
	advertiserID := uuid.New()
	podcastID := uuid.New()

	mock.ExpectQuery("SELECT(.+)FROM matches(.+)ORDER BY score DESC").
		WillReturnRows(sqlmock.NewRows([]string{
			"match_id", "tenant_id", "advertiser_id", "podcast_id",
			"score", "rationale", "signals", "updated_at",
		}).AddRow(uuid.New(), tenantID, advertiserID, podcastID, 63.0, "", []byte(`{}`), time.Now()))

	ctx := tenantCtx(tenantID)
	first, err := store.TopForAdvertiser(ctx, advertiserID, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second call is served from the cache; no further query expected.
	second, err := store.TopForAdvertiser(ctx, advertiserID, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.InDelta(t, first[0].Score, second[0].Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())

	// Rescoring the pair invalidates the listing.
	expectEmptyPairData(mock)
	mock.ExpectQuery("INSERT INTO matches").
		WillReturnRows(sqlmock.NewRows([]string{"match_id", "updated_at"}).
			AddRow(uuid.New(), time.Now()))
	_, err = store.Score(ctx, advertiserID, podcastID)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT(.+)FROM matches(.+)ORDER BY score DESC").
		WillReturnRows(sqlmock.NewRows([]string{
			"match_id", "tenant_id", "advertiser_id", "podcast_id",
			"score", "rationale", "signals", "updated_at",
		}).AddRow(uuid.New(), tenantID, advertiserID, podcastID, 44.0, "", []byte(`{}`), time.Now()))
	refreshed, err := store.TopForAdvertiser(ctx, advertiserID, 10)
	require.NoError(t, err)
	require.Len(t, refreshed, 1)
	assert.InDelta(t, 44.0, refreshed[0].Score, 1e-9)
}
