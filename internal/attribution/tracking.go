package attribution

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// TrackingLinks are the edge-facing URLs generated for a campaign's
// attribution config.
type TrackingLinks struct {
	VanityURL string `json:"vanity_url,omitempty"`
	PixelURL  string `json:"pixel_url,omitempty"`
}

// BuildTrackingLinks renders vanity and pixel URLs from the configured
// base. Returns empty links when no base is configured.
func BuildTrackingLinks(base string, c *domain.Campaign) TrackingLinks {
	if base == "" {
		return TrackingLinks{}
	}
	base = strings.TrimRight(base, "/")

	links := TrackingLinks{
		PixelURL: fmt.Sprintf("%s/px/%s.gif", base, c.ID),
	}

	slug := c.ID.String()
	if c.Attribution.PromoCode != nil && *c.Attribution.PromoCode != "" {
		slug = strings.ToLower(*c.Attribution.PromoCode)
	}
	vanity := fmt.Sprintf("%s/go/%s", base, url.PathEscape(slug))

	params := url.Values{}
	if c.Attribution.UTMSource != nil && *c.Attribution.UTMSource != "" {
		params.Set("utm_source", *c.Attribution.UTMSource)
	}
	if c.Attribution.UTMMedium != nil && *c.Attribution.UTMMedium != "" {
		params.Set("utm_medium", *c.Attribution.UTMMedium)
	}
	if c.Attribution.UTMCampaign != nil && *c.Attribution.UTMCampaign != "" {
		params.Set("utm_campaign", *c.Attribution.UTMCampaign)
	}
	if len(params) > 0 {
		vanity += "?" + params.Encode()
	}
	links.VanityURL = vanity
	return links
}
