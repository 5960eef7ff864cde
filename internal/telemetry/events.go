package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
)

// Event types emitted by the core on significant outcomes.
const (
	EventAttributionIngested = "attribution.ingested"
	EventETLHealthAlert      = "etl.health_alert"
	EventMetricsRefreshed    = "metrics_daily.refreshed"
	EventPipelineAlert       = "deal_pipeline.alert"
	EventMatchRecalculated   = "matchmaking.recalculated"
)

// Recorder appends structured events to the events table. Appends are
// at-least-once: a transport failure earns one immediate retry, then the
// event is logged and dropped rather than failing the caller.
type Recorder struct {
	db *database.DB
}

// NewRecorder creates an event recorder over the relational port.
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// Emit appends one event. The payload is marshalled to JSONB; tenant may
// be uuid.Nil for administrative events, which is recorded as NULL.
func (r *Recorder) Emit(ctx context.Context, tenantID uuid.UUID, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("event payload marshal failed", "event_type", eventType, "error", err)
		return
	}

	var tenant interface{}
	if tenantID != uuid.Nil {
		tenant = tenantID
	}

	const q = `
		INSERT INTO events (id, tenant_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	for attempt := 0; attempt < 2; attempt++ {
		_, err = r.db.Exec(ctx, q, uuid.New(), tenant, eventType, data, time.Now().UTC())
		if err == nil {
			return
		}
		if !domain.IsTransport(err) {
			break
		}
	}
	logger.Error("event append failed", "event_type", eventType, "error", err)
}
