// Package matchmaking scores advertiser/podcast fit on weighted signals
// and maintains the persisted match rows.
package matchmaking

import (
	"fmt"
	"math"
	"strings"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// Signal weights. brand_safety additionally multiplies the composed
// score when it falls below 1.0.
const (
	weightGeo       = 0.15
	weightDemo      = 0.20
	weightTopic     = 0.25
	weightLift      = 0.20
	weightInventory = 0.15
	weightSafety    = 0.05
)

// Default signal values when catalog data is absent.
const (
	defaultOverlap   = 0.5
	liftWithHistory  = 0.7
	liftNoHistory    = 0.3
	defaultInventory = 0.2
	defaultSafety    = 1.0
)

const insufficientDataRationale = "Insufficient data for scoring"

// PairData is everything the scorer needs about one advertiser/podcast
// pair. The store assembles it from the catalog; tests build it by hand.
type PairData struct {
	AdvertiserGeos       []string
	PodcastGeos          []string
	AdvertiserDemos      []string
	PodcastDemos         []string
	AdvertiserCategories []string
	PodcastCategories    []string

	CompletedCampaigns    int
	EpisodesWithFreeSlots int
	TotalEpisodes         int
	ExplicitEpisodes      int
}

// ScoreResult is the output of one scoring pass.
type ScoreResult struct {
	Score     float64
	Rationale string
	Signals   map[string]float64
}

// Scorer composes the six signals into a 0–100 score. It is a pure
// function of PairData so replacement models can slot in behind the
// same interface.
type Scorer struct{}

// NewScorer creates the deterministic heuristic scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score computes signals, the composed score, and the rationale for one
// pair. Deterministic for fixed inputs.
func (s *Scorer) Score(data PairData) ScoreResult {
	signals := map[string]float64{
		domain.SignalGeoOverlap:         overlap(data.AdvertiserGeos, data.PodcastGeos),
		domain.SignalDemographicOverlap: overlap(data.AdvertiserDemos, data.PodcastDemos),
		domain.SignalTopicOverlap:       overlap(data.AdvertiserCategories, data.PodcastCategories),
		domain.SignalHistoricalLift:     historicalLift(data.CompletedCampaigns),
		domain.SignalInventoryFit:       inventoryFit(data.EpisodesWithFreeSlots),
		domain.SignalBrandSafety:        brandSafety(data.ExplicitEpisodes, data.TotalEpisodes),
	}

	weighted := (signals[domain.SignalGeoOverlap]*weightGeo +
		signals[domain.SignalDemographicOverlap]*weightDemo +
		signals[domain.SignalTopicOverlap]*weightTopic +
		signals[domain.SignalHistoricalLift]*weightLift +
		signals[domain.SignalInventoryFit]*weightInventory +
		signals[domain.SignalBrandSafety]*weightSafety) * 100

	final := weighted
	if safety := signals[domain.SignalBrandSafety]; safety < 1.0 {
		final = weighted * safety
	}
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	final = math.Round(final*100) / 100

	return ScoreResult{
		Score:     final,
		Rationale: rationale(data, signals),
		Signals:   signals,
	}
}

// overlap is the Jaccard index of the two string sets, case-insensitive.
// Either side empty means no data, which scores the neutral default.
func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return defaultOverlap
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for v := range setA {
		if _, ok := setB[v]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return defaultOverlap
	}
	return float64(inter) / float64(union)
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// historicalLift is a presence heuristic: any prior completed campaign
// for the pair lifts the signal. Quality calibration is future work.
func historicalLift(completed int) float64 {
	if completed > 0 {
		return liftWithHistory
	}
	return liftNoHistory
}

// inventoryFit saturates at ten episodes with open slots in the next 30
// days.
func inventoryFit(episodesWithFreeSlots int) float64 {
	if episodesWithFreeSlots <= 0 {
		return defaultInventory
	}
	return math.Min(1.0, float64(episodesWithFreeSlots)/10.0)
}

// brandSafety penalizes explicit content up to half the signal.
func brandSafety(explicit, total int) float64 {
	if total <= 0 {
		return defaultSafety
	}
	return 1.0 - 0.5*(float64(explicit)/float64(total))
}

// rationale joins descriptions of the signals backed by real data. When
// every signal sat at its default, the pair had no usable catalog data.
func rationale(data PairData, signals map[string]float64) string {
	var parts []string
	if len(data.AdvertiserGeos) > 0 && len(data.PodcastGeos) > 0 {
		parts = append(parts, fmt.Sprintf("Geo overlap: %.0f%%", signals[domain.SignalGeoOverlap]*100))
	}
	if len(data.AdvertiserDemos) > 0 && len(data.PodcastDemos) > 0 {
		parts = append(parts, fmt.Sprintf("Demographic overlap: %.0f%%", signals[domain.SignalDemographicOverlap]*100))
	}
	if len(data.AdvertiserCategories) > 0 && len(data.PodcastCategories) > 0 {
		parts = append(parts, fmt.Sprintf("Topic overlap: %.0f%%", signals[domain.SignalTopicOverlap]*100))
	}
	if data.CompletedCampaigns > 0 {
		parts = append(parts, fmt.Sprintf("%d completed campaigns together", data.CompletedCampaigns))
	}
	if data.EpisodesWithFreeSlots > 0 {
		parts = append(parts, fmt.Sprintf("%d upcoming episodes with open slots", data.EpisodesWithFreeSlots))
	}
	if data.TotalEpisodes > 0 && data.ExplicitEpisodes > 0 {
		parts = append(parts, fmt.Sprintf("Explicit content in %d of %d episodes", data.ExplicitEpisodes, data.TotalEpisodes))
	}
	if len(parts) == 0 {
		return insufficientDataRationale
	}
	return strings.Join(parts, "; ")
}
