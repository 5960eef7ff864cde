package matchmaking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// topMatchesTTL bounds staleness of the cached top-matches listing.
const topMatchesTTL = 5 * time.Minute

// Store scores pairs against the catalog and persists match rows.
type Store struct {
	db      *database.DB
	scorer  *Scorer
	metrics *telemetry.Metrics
	cache   *database.Cache
}

// NewStore creates the matchmaking store.
func NewStore(db *database.DB, scorer *Scorer, metrics *telemetry.Metrics) *Store {
	return &Store{db: db, scorer: scorer, metrics: metrics}
}

// SetCache enables soft caching of the top-matches listing. Stale reads
// within the TTL are acceptable; writes invalidate best-effort.
func (s *Store) SetCache(cache *database.Cache) { s.cache = cache }

func topMatchesKey(tenantID, advertiserID uuid.UUID, limit int) string {
	return fmt.Sprintf("matches:top:%s:%s:%d", tenantID, advertiserID, limit)
}

// Score loads catalog data for the pair, computes the score, and
// upserts the match row. Missing catalog rows degrade to default
// signals rather than failing.
func (s *Store) Score(ctx context.Context, advertiserID, podcastID uuid.UUID) (*domain.Match, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	data, err := s.loadPairData(ctx, tenantID, advertiserID, podcastID)
	if err != nil {
		return nil, err
	}

	result := s.scorer.Score(data)
	match, err := s.upsert(ctx, tenantID, advertiserID, podcastID, result)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.MatchesScored.Inc()
	}
	if s.cache != nil {
		if _, err := s.cache.InvalidatePattern(ctx,
			fmt.Sprintf("matches:top:%s:%s:*", tenantID, advertiserID)); err != nil {
			logger.Warn("match cache invalidation failed",
				"advertiser_id", advertiserID, "error", err)
		}
	}
	return match, nil
}

// loadPairData assembles the scorer inputs. Each sub-query tolerates
// absent rows; only transport failures propagate.
func (s *Store) loadPairData(ctx context.Context, tenantID, advertiserID, podcastID uuid.UUID) (PairData, error) {
	var data PairData

	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(target_geos, '{}'), COALESCE(target_demographics, '{}'), COALESCE(categories, '{}')
		FROM sponsors
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, advertiserID).Scan(
		pq.Array(&data.AdvertiserGeos), pq.Array(&data.AdvertiserDemos), pq.Array(&data.AdvertiserCategories))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return data, fmt.Errorf("load advertiser %s: %w", advertiserID, err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COALESCE(listener_geos, '{}'), COALESCE(listener_demographics, '{}'), COALESCE(categories, '{}')
		FROM podcasts
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, podcastID).Scan(
		pq.Array(&data.PodcastGeos), pq.Array(&data.PodcastDemos), pq.Array(&data.PodcastCategories))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return data, fmt.Errorf("load podcast %s: %w", podcastID, err)
	}

	err = s.db.FetchScalar(ctx, &data.CompletedCampaigns, `
		SELECT COUNT(*)
		FROM campaigns
		WHERE tenant_id = $1 AND sponsor_id = $2 AND podcast_id = $3 AND status = 'completed'
	`, tenantID, advertiserID, podcastID)
	if err != nil && !domain.IsNotFound(err) {
		return data, fmt.Errorf("load pair history: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE publish_date >= NOW() AND publish_date < NOW() + INTERVAL '30 days'
			                 AND booked_slots < total_slots),
			COUNT(*),
			COUNT(*) FILTER (WHERE explicit)
		FROM episodes
		WHERE tenant_id = $1 AND podcast_id = $2
	`, tenantID, podcastID).Scan(
		&data.EpisodesWithFreeSlots, &data.TotalEpisodes, &data.ExplicitEpisodes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return data, fmt.Errorf("load episode inventory: %w", err)
	}

	return data, nil
}

// upsert writes the scored pair, one row per (tenant, advertiser,
// podcast). A concurrent writer racing the same pair resolves to the
// later write; the returned row is the post-state.
func (s *Store) upsert(ctx context.Context, tenantID, advertiserID, podcastID uuid.UUID, result ScoreResult) (*domain.Match, error) {
	signalsJSON, err := json.Marshal(result.Signals)
	if err != nil {
		return nil, fmt.Errorf("marshal signals: %w", err)
	}

	match := &domain.Match{
		TenantID:     tenantID,
		AdvertiserID: advertiserID,
		PodcastID:    podcastID,
		Score:        result.Score,
		Rationale:    result.Rationale,
		Signals:      result.Signals,
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO matches (match_id, tenant_id, advertiser_id, podcast_id, score, rationale, signals, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, advertiser_id, podcast_id) DO UPDATE
		SET score = EXCLUDED.score,
		    rationale = EXCLUDED.rationale,
		    signals = EXCLUDED.signals,
		    updated_at = EXCLUDED.updated_at
		RETURNING match_id, updated_at
	`, uuid.New(), tenantID, advertiserID, podcastID, result.Score, result.Rationale, signalsJSON).
		Scan(&match.ID, &match.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert match: %w", err)
	}
	return match, nil
}

// Get returns the persisted match for the pair.
func (s *Store) Get(ctx context.Context, advertiserID, podcastID uuid.UUID) (*domain.Match, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	var m domain.Match
	var signalsJSON []byte
	err = s.db.QueryRow(ctx, `
		SELECT match_id, tenant_id, advertiser_id, podcast_id, score, rationale, signals, updated_at
		FROM matches
		WHERE tenant_id = $1 AND advertiser_id = $2 AND podcast_id = $3
	`, tenantID, advertiserID, podcastID).Scan(
		&m.ID, &m.TenantID, &m.AdvertiserID, &m.PodcastID, &m.Score, &m.Rationale, &signalsJSON, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match for pair (%s, %s): %w", advertiserID, podcastID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get match: %w", err)
	}
	if err := json.Unmarshal(signalsJSON, &m.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	return &m, nil
}

// TopForAdvertiser returns the advertiser's best-scored podcasts,
// newest score first on ties.
func (s *Store) TopForAdvertiser(ctx context.Context, advertiserID uuid.UUID, limit int) ([]domain.Match, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	cacheKey := topMatchesKey(tenantID, advertiserID, limit)
	if s.cache != nil {
		if raw, found, err := s.cache.Get(ctx, cacheKey); err == nil && found {
			var cached []domain.Match
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT match_id, tenant_id, advertiser_id, podcast_id, score, rationale, signals, updated_at
		FROM matches
		WHERE tenant_id = $1 AND advertiser_id = $2
		ORDER BY score DESC, updated_at DESC
		LIMIT $3
	`, tenantID, advertiserID, limit)
	if err != nil {
		return nil, fmt.Errorf("top matches: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var m domain.Match
		var signalsJSON []byte
		if err := rows.Scan(&m.ID, &m.TenantID, &m.AdvertiserID, &m.PodcastID,
			&m.Score, &m.Rationale, &signalsJSON, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(signalsJSON, &m.Signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil && len(out) > 0 {
		if encoded, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(encoded), topMatchesTTL); err != nil {
				logger.Warn("match cache write failed", "advertiser_id", advertiserID, "error", err)
			}
		}
	}
	return out, nil
}

// listIDs is shared by the fanout modes.
func (s *Store) listIDs(ctx context.Context, tenantID uuid.UUID, table string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE tenant_id = $1 ORDER BY created_at`, table), tenantID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AdvertiserIDs returns every sponsor id in the tenant.
func (s *Store) AdvertiserIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return s.listIDs(ctx, tenantID, "sponsors")
}

// PodcastIDs returns every podcast id in the tenant.
func (s *Store) PodcastIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return s.listIDs(ctx, tenantID, "podcasts")
}

// StaleSince returns pairs whose match row predates the cutoff, so
// operators can target recalculation at aged scores.
func (s *Store) StaleSince(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) ([]domain.Match, error) {
	rows, err := s.db.Query(ctx, `
		SELECT match_id, tenant_id, advertiser_id, podcast_id, score, rationale, signals, updated_at
		FROM matches
		WHERE tenant_id = $1 AND updated_at < $2
		ORDER BY updated_at
	`, tenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale matches: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var m domain.Match
		var signalsJSON []byte
		if err := rows.Scan(&m.ID, &m.TenantID, &m.AdvertiserID, &m.PodcastID,
			&m.Score, &m.Rationale, &signalsJSON, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(signalsJSON, &m.Signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
