package matchmaking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/distlock"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// Fanout modes for recalculation.
const (
	FanoutPair       = "pair"
	FanoutAdvertiser = "advertiser"
	FanoutPodcast    = "podcast"
	FanoutTenant     = "tenant"
)

const tenantRecalcLockTTL = 30 * time.Minute

// RecalcResult summarizes one recalculation run.
type RecalcResult struct {
	Mode     string `json:"mode"`
	Scored   int    `json:"scored"`
	Failed   int    `json:"failed"`
	Duration string `json:"duration"`
}

// Recalculator drives match recomputation across the fanout modes.
// Tenant-wide runs take a distributed lock so that overlapping worker
// replicas do not double the Cartesian sweep.
type Recalculator struct {
	store   *Store
	locks   *distlock.Factory
	metrics *telemetry.Metrics
	events  *telemetry.Recorder
}

// NewRecalculator creates the fanout orchestrator.
func NewRecalculator(store *Store, locks *distlock.Factory, metrics *telemetry.Metrics, events *telemetry.Recorder) *Recalculator {
	return &Recalculator{store: store, locks: locks, metrics: metrics, events: events}
}

// Recalculate dispatches on which ids are present:
// both → single pair; advertiser only → all podcasts; podcast only →
// all advertisers; neither → tenant-wide Cartesian sweep. The tenant
// mode is only reachable from scheduled work, never from a synchronous
// request path; callers enforce that at the HTTP layer.
func (r *Recalculator) Recalculate(ctx context.Context, advertiserID, podcastID *uuid.UUID) (*RecalcResult, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var result *RecalcResult

	switch {
	case advertiserID != nil && podcastID != nil:
		result, err = r.pair(ctx, *advertiserID, *podcastID)
	case advertiserID != nil:
		result, err = r.forAdvertiser(ctx, tenantID, *advertiserID)
	case podcastID != nil:
		result, err = r.forPodcast(ctx, tenantID, *podcastID)
	default:
		result, err = r.tenantWide(ctx, tenantID)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(started).Round(time.Millisecond).String()
	if r.metrics != nil {
		r.metrics.RecalcFanouts.WithLabelValues(result.Mode).Inc()
	}
	r.events.Emit(ctx, tenantID, telemetry.EventMatchRecalculated, map[string]interface{}{
		"mode":   result.Mode,
		"scored": result.Scored,
		"failed": result.Failed,
	})
	return result, nil
}

func (r *Recalculator) pair(ctx context.Context, advertiserID, podcastID uuid.UUID) (*RecalcResult, error) {
	if _, err := r.store.Score(ctx, advertiserID, podcastID); err != nil {
		return nil, err
	}
	return &RecalcResult{Mode: FanoutPair, Scored: 1}, nil
}

func (r *Recalculator) forAdvertiser(ctx context.Context, tenantID, advertiserID uuid.UUID) (*RecalcResult, error) {
	podcasts, err := r.store.PodcastIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	result := &RecalcResult{Mode: FanoutAdvertiser}
	r.sweep(ctx, result, func(yield func(a, p uuid.UUID) bool) {
		for _, p := range podcasts {
			if !yield(advertiserID, p) {
				return
			}
		}
	})
	return result, nil
}

func (r *Recalculator) forPodcast(ctx context.Context, tenantID, podcastID uuid.UUID) (*RecalcResult, error) {
	advertisers, err := r.store.AdvertiserIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	result := &RecalcResult{Mode: FanoutPodcast}
	r.sweep(ctx, result, func(yield func(a, p uuid.UUID) bool) {
		for _, a := range advertisers {
			if !yield(a, podcastID) {
				return
			}
		}
	})
	return result, nil
}

func (r *Recalculator) tenantWide(ctx context.Context, tenantID uuid.UUID) (*RecalcResult, error) {
	lock := r.locks.New(fmt.Sprintf("matchmaking:recalc:%s", tenantID), tenantRecalcLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.Info("tenant-wide recalculation already running elsewhere, skipping", "tenant_id", tenantID)
		return &RecalcResult{Mode: FanoutTenant}, nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	advertisers, err := r.store.AdvertiserIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	podcasts, err := r.store.PodcastIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &RecalcResult{Mode: FanoutTenant}
	r.sweep(ctx, result, func(yield func(a, p uuid.UUID) bool) {
		for _, a := range advertisers {
			for _, p := range podcasts {
				if !yield(a, p) {
					return
				}
			}
		}
	})
	return result, nil
}

// sweep scores every yielded pair, counting failures instead of
// aborting so one bad catalog row cannot sink a large fanout. It stops
// early only on context cancellation.
func (r *Recalculator) sweep(ctx context.Context, result *RecalcResult, pairs func(yield func(a, p uuid.UUID) bool)) {
	pairs(func(a, p uuid.UUID) bool {
		if ctx.Err() != nil {
			return false
		}
		if _, err := r.store.Score(ctx, a, p); err != nil {
			result.Failed++
			logger.Warn("match scoring failed during fanout",
				"advertiser_id", a, "podcast_id", p, "error", err)
			return true
		}
		result.Scored++
		return true
	})
}
