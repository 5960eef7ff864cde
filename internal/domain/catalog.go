package domain

import (
	"time"

	"github.com/google/uuid"
)

// Podcast is one show in a tenant's catalog. Listener geo and
// demographic vectors feed the matchmaking overlap signals.
type Podcast struct {
	ID           uuid.UUID  `json:"podcast_id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	Title        string     `json:"title"`
	FeedURL      string     `json:"feed_url,omitempty"`
	Categories   []string   `json:"categories,omitempty"`
	ListenerGeos []string   `json:"listener_geos,omitempty"`
	Demographics []string   `json:"listener_demographics,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Episode is one published or upcoming episode. Slot counts drive the
// inventory-fit signal; the explicit flag drives brand safety.
type Episode struct {
	ID          uuid.UUID  `json:"episode_id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	PodcastID   uuid.UUID  `json:"podcast_id"`
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
	Explicit    bool       `json:"explicit"`
	TotalSlots  int        `json:"total_slots"`
	BookedSlots int        `json:"booked_slots"`
}
