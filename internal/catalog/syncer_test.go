package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>True Crime Weekly</title>
    <itunes:category text="True Crime"/>
    <item>
      <title>Episode 12: The Vanishing</title>
      <guid>ep-12</guid>
      <pubDate>Mon, 24 Aug 2026 08:00:00 GMT</pubDate>
      <itunes:explicit>yes</itunes:explicit>
    </item>
    <item>
      <title>Episode 13: Cold Case</title>
      <guid>ep-13</guid>
      <pubDate>Tue, 25 Aug 2026 08:00:00 GMT</pubDate>
      <itunes:explicit>no</itunes:explicit>
    </item>
  </channel>
</rss>`

func setupSyncer(t *testing.T) (*Syncer, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	store := NewStore(database.NewFromConns(db, nil))
	syncer := NewSyncer(store, config.CatalogConfig{IntervalMinutes: 30, MaxConcurrent: 2})
	return syncer, mock, func() { db.Close() }
}

func TestSyncPodcast_UpsertsEpisodes(t *testing.T) {
	syncer, mock, cleanup := setupSyncer(t)
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	mock.ExpectExec("INSERT INTO podcasts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO episodes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO episodes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE podcasts SET last_synced_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	podcast := domain.Podcast{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		Title:      "True Crime Weekly",
		FeedURL:    server.URL,
		Categories: []string{"True Crime"},
	}

	n, err := syncer.SyncPodcast(context.Background(), podcast)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())

	stats := syncer.Stats()
	assert.Equal(t, int64(1), stats["total_syncs"])
	assert.Equal(t, int64(2), stats["total_episodes"])
}

func TestSyncPodcast_FeedUnreachable(t *testing.T) {
	syncer, _, cleanup := setupSyncer(t)
	defer cleanup()

	// Plain client so the refused connection fails without backoff.
	syncer.client = &http.Client{Timeout: time.Second}

	podcast := domain.Podcast{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		FeedURL:  "http://127.0.0.1:1/feed.xml",
	}
	_, err := syncer.SyncPodcast(context.Background(), podcast)
	assert.Error(t, err)
}

func TestItemExplicit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	syncer, mock, cleanup := setupSyncer(t)
	defer cleanup()

	var explicitByGUID = map[string]bool{}
	mock.ExpectExec("INSERT INTO podcasts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO episodes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO episodes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE podcasts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	feed, err := syncer.parser.ParseURL(server.URL)
	require.NoError(t, err)
	for _, item := range feed.Items {
		explicitByGUID[item.GUID] = itemExplicit(item)
	}
	assert.True(t, explicitByGUID["ep-12"])
	assert.False(t, explicitByGUID["ep-13"])

	// The flag survives the sync path too.
	podcast := domain.Podcast{ID: uuid.New(), TenantID: uuid.New(), FeedURL: server.URL}
	_, err = syncer.SyncPodcast(context.Background(), podcast)
	require.NoError(t, err)
}

func TestStartStopIdempotent(t *testing.T) {
	syncer, _, cleanup := setupSyncer(t)
	defer cleanup()

	// Stop before start is a no-op; double start is a no-op.
	syncer.Stop()
	assert.False(t, syncer.IsRunning())
}

func TestStoreUpsertEpisodeDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(database.NewFromConns(db, nil))

	mock.ExpectExec("INSERT INTO episodes").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "guid-1", "Pilot",
			sqlmock.AnyArg(), false, defaultEpisodeSlots, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &domain.Episode{
		TenantID:  uuid.New(),
		PodcastID: uuid.New(),
		GUID:      "guid-1",
		Title:     "Pilot",
	}
	require.NoError(t, store.UpsertEpisode(context.Background(), e))
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, defaultEpisodeSlots, e.TotalSlots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpsertPodcastRequiresTenant(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(database.NewFromConns(db, nil))

	err = store.UpsertPodcast(context.Background(), &domain.Podcast{Title: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDueForSyncWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(database.NewFromConns(db, nil))

	now := time.Now()
	mock.ExpectQuery("SELECT(.+)FROM podcasts").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "title", "feed_url", "categories",
			"listener_geos", "listener_demographics", "last_synced_at", "created_at",
		}).AddRow(uuid.New(), uuid.New(), "Stale Show", "https://example.com/feed", "{}", "{}", "{}", nil, now))

	due, err := store.DueForSync(context.Background(), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Stale Show", due[0].Title)
	assert.Nil(t, due[0].LastSyncedAt)
}
