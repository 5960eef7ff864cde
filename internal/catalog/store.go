// Package catalog maintains the podcast and episode catalog, including
// background RSS synchronization.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
)

// Default ad slots per episode until a booking layer sets real counts.
const defaultEpisodeSlots = 3

// Store reads and writes the podcast catalog.
type Store struct {
	db *database.DB
}

// NewStore creates the catalog store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// UpsertPodcast creates or updates a podcast, keyed by (tenant, feed
// URL) when a feed is set, otherwise by id.
func (s *Store) UpsertPodcast(ctx context.Context, p *domain.Podcast) error {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return err
	}
	if p.Title == "" {
		return domain.Validationf("podcast title is required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.TenantID = tenantID

	_, err = s.db.Exec(ctx, `
		INSERT INTO podcasts (id, tenant_id, title, feed_url, categories, listener_geos, listener_demographics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    feed_url = EXCLUDED.feed_url,
		    categories = EXCLUDED.categories,
		    listener_geos = EXCLUDED.listener_geos,
		    listener_demographics = EXCLUDED.listener_demographics
	`, p.ID, p.TenantID, p.Title, p.FeedURL,
		pq.Array(p.Categories), pq.Array(p.ListenerGeos), pq.Array(p.Demographics))
	if err != nil {
		return fmt.Errorf("upsert podcast: %w", err)
	}
	return nil
}

// GetPodcast returns one podcast by id.
func (s *Store) GetPodcast(ctx context.Context, id uuid.UUID) (*domain.Podcast, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	var p domain.Podcast
	err = s.db.QueryRow(ctx, `
		SELECT id, tenant_id, title, COALESCE(feed_url, ''), COALESCE(categories, '{}'),
		       COALESCE(listener_geos, '{}'), COALESCE(listener_demographics, '{}'),
		       last_synced_at, created_at
		FROM podcasts
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&p.ID, &p.TenantID, &p.Title, &p.FeedURL,
		pq.Array(&p.Categories), pq.Array(&p.ListenerGeos), pq.Array(&p.Demographics),
		&p.LastSyncedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("podcast %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get podcast: %w", err)
	}
	return &p, nil
}

// DueForSync returns podcasts with a feed URL whose last sync predates
// the cutoff, oldest first. Runs cross-tenant; the syncer is the only
// administrative reader.
func (s *Store) DueForSync(ctx context.Context, cutoff time.Time, limit int) ([]domain.Podcast, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, title, feed_url, COALESCE(categories, '{}'),
		       COALESCE(listener_geos, '{}'), COALESCE(listener_demographics, '{}'),
		       last_synced_at, created_at
		FROM podcasts
		WHERE feed_url IS NOT NULL AND feed_url <> ''
		  AND (last_synced_at IS NULL OR last_synced_at < $1)
		ORDER BY last_synced_at NULLS FIRST
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list podcasts due for sync: %w", err)
	}
	defer rows.Close()

	var out []domain.Podcast
	for rows.Next() {
		var p domain.Podcast
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Title, &p.FeedURL,
			pq.Array(&p.Categories), pq.Array(&p.ListenerGeos), pq.Array(&p.Demographics),
			&p.LastSyncedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan podcast: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertEpisode writes one episode, idempotent on (podcast, guid).
func (s *Store) UpsertEpisode(ctx context.Context, e *domain.Episode) error {
	if e.GUID == "" {
		return domain.Validationf("episode guid is required")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.TotalSlots == 0 {
		e.TotalSlots = defaultEpisodeSlots
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO episodes (id, tenant_id, podcast_id, guid, title, publish_date, explicit, total_slots, booked_slots)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (podcast_id, guid) DO UPDATE
		SET title = EXCLUDED.title,
		    publish_date = EXCLUDED.publish_date,
		    explicit = EXCLUDED.explicit
	`, e.ID, e.TenantID, e.PodcastID, e.GUID, e.Title, e.PublishDate, e.Explicit, e.TotalSlots, e.BookedSlots)
	if err != nil {
		return fmt.Errorf("upsert episode: %w", err)
	}
	return nil
}

// ListEpisodes returns the podcast's episodes, newest first.
func (s *Store) ListEpisodes(ctx context.Context, podcastID uuid.UUID, limit int) ([]domain.Episode, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, podcast_id, guid, title, publish_date, explicit, total_slots, booked_slots
		FROM episodes
		WHERE tenant_id = $1 AND podcast_id = $2
		ORDER BY publish_date DESC NULLS LAST
		LIMIT $3
	`, tenantID, podcastID, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []domain.Episode
	for rows.Next() {
		var e domain.Episode
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PodcastID, &e.GUID, &e.Title,
			&e.PublishDate, &e.Explicit, &e.TotalSlots, &e.BookedSlots); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSynced stamps the podcast's last sync time.
func (s *Store) MarkSynced(ctx context.Context, podcastID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE podcasts SET last_synced_at = $1 WHERE id = $2
	`, at.UTC(), podcastID)
	if err != nil {
		return fmt.Errorf("mark podcast synced: %w", err)
	}
	return nil
}
