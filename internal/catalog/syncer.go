package catalog

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/httpretry"
)

// Syncer polls podcast RSS feeds and refreshes episode rows. Episode
// explicit flags and feed categories keep the matchmaking signals
// current without manual catalog edits.
type Syncer struct {
	store  *Store
	parser *gofeed.Parser
	client httpretry.HTTPDoer

	interval      time.Duration
	maxConcurrent int

	// Stats
	totalSyncs    int64
	totalEpisodes int64
	totalErrors   int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewSyncer creates the feed syncer.
func NewSyncer(store *Store, cfg config.CatalogConfig) *Syncer {
	interval := cfg.Interval()
	if interval == 0 {
		interval = 30 * time.Minute
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = 5
	}
	return &Syncer{
		store:         store,
		parser:        gofeed.NewParser(),
		client:        httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 2),
		interval:      interval,
		maxConcurrent: maxConcurrent,
	}
}

// Start begins the background sync loop.
func (s *Syncer) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[CatalogSync] Starting with interval=%s, max_concurrent=%d",
		s.interval, s.maxConcurrent)

	s.wg.Add(1)
	go s.loop()
}

// Stop gracefully stops the syncer.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	log.Println("[CatalogSync] Stopping...")
	s.wg.Wait()

	log.Printf("[CatalogSync] Stopped. Stats: syncs=%d, episodes=%d, errors=%d",
		atomic.LoadInt64(&s.totalSyncs),
		atomic.LoadInt64(&s.totalEpisodes),
		atomic.LoadInt64(&s.totalErrors))
}

// IsRunning reports whether the loop is active.
func (s *Syncer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats returns current sync counters.
func (s *Syncer) Stats() map[string]int64 {
	return map[string]int64{
		"total_syncs":    atomic.LoadInt64(&s.totalSyncs),
		"total_episodes": atomic.LoadInt64(&s.totalEpisodes),
		"total_errors":   atomic.LoadInt64(&s.totalErrors),
	}
}

func (s *Syncer) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.SyncDue(s.ctx); err != nil {
		log.Printf("[CatalogSync] Initial sync error: %v", err)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncDue(s.ctx); err != nil {
				log.Printf("[CatalogSync] Sync cycle error: %v", err)
			}
		}
	}
}

// SyncDue fetches every feed whose last sync predates the interval,
// bounded by the concurrency limit.
func (s *Syncer) SyncDue(ctx context.Context) error {
	due, err := s.store.DueForSync(ctx, time.Now().Add(-s.interval), 0)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	log.Printf("[CatalogSync] Found %d feeds due for sync", len(due))

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	for _, podcast := range due {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sem <- struct{}{}:
			wg.Add(1)
			go func(p domain.Podcast) {
				defer wg.Done()
				defer func() { <-sem }()

				n, err := s.SyncPodcast(ctx, p)
				if err != nil {
					log.Printf("[CatalogSync] Error syncing %s (%s): %v", p.Title, p.ID, err)
					atomic.AddInt64(&s.totalErrors, 1)
					return
				}
				if n > 0 {
					log.Printf("[CatalogSync] Synced %s: %d episodes", p.Title, n)
				}
			}(podcast)
		}
	}
	wg.Wait()
	return nil
}

// SyncPodcast fetches one feed and upserts its episodes. Returns the
// number of episodes written.
func (s *Syncer) SyncPodcast(ctx context.Context, p domain.Podcast) (int, error) {
	feed, err := s.fetchFeed(ctx, p.FeedURL)
	if err != nil {
		return 0, err
	}
	atomic.AddInt64(&s.totalSyncs, 1)

	tctx := domain.WithTenant(ctx, p.TenantID)

	// Feed-level categories refresh the podcast's topic vector.
	if cats := feedCategories(feed); len(cats) > 0 {
		p.Categories = cats
		p.Title = firstNonEmpty(feed.Title, p.Title)
		if err := s.store.UpsertPodcast(tctx, &p); err != nil {
			return 0, err
		}
	}

	written := 0
	for _, item := range feed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}
		episode := &domain.Episode{
			TenantID:    p.TenantID,
			PodcastID:   p.ID,
			GUID:        guid,
			Title:       item.Title,
			Explicit:    itemExplicit(item),
			PublishDate: item.PublishedParsed,
		}
		if err := s.store.UpsertEpisode(tctx, episode); err != nil {
			log.Printf("[CatalogSync] Failed to upsert episode %s: %v", guid, err)
			atomic.AddInt64(&s.totalErrors, 1)
			continue
		}
		written++
	}
	atomic.AddInt64(&s.totalEpisodes, int64(written))

	if err := s.store.MarkSynced(ctx, p.ID, time.Now()); err != nil {
		return written, err
	}
	return written, nil
}

// fetchFeed downloads and parses one RSS document. The retrying client
// absorbs transient 5xx and network failures from flaky podcast hosts.
func (s *Syncer) fetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", url, resp.StatusCode)
	}
	return s.parser.Parse(resp.Body)
}

// feedCategories merges plain RSS categories with the itunes ones.
func feedCategories(feed *gofeed.Feed) []string {
	seen := make(map[string]struct{})
	var cats []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		cats = append(cats, c)
	}
	for _, c := range feed.Categories {
		add(c)
	}
	if feed.ITunesExt != nil {
		for _, c := range feed.ITunesExt.Categories {
			if c != nil {
				add(c.Text)
			}
		}
	}
	return cats
}

// itemExplicit reads the itunes:explicit flag off an item.
func itemExplicit(item *gofeed.Item) bool {
	if item.ITunesExt == nil {
		return false
	}
	switch strings.ToLower(item.ITunesExt.Explicit) {
	case "yes", "true", "explicit":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
