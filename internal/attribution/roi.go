package attribution

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// CreditFunc selects which events in one user path receive conversion
// credit. The default is last-touch; linear or time-decay models can be
// swapped in without changing callers.
type CreditFunc func(path []domain.AttributionEvent) []domain.AttributionEvent

// LastTouch credits the most recent conversion in the path.
func LastTouch(path []domain.AttributionEvent) []domain.AttributionEvent {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].IsConversion() {
			return path[i : i+1]
		}
	}
	return nil
}

// Calculator computes ROI/ROAS/payback under the four methods.
// Arithmetic corner cases return zeros or nil fields, never errors; only
// an unknown method is an error.
type Calculator struct {
	metrics *telemetry.Metrics
	credit  CreditFunc
}

// NewCalculator creates a calculator with last-touch multi-touch credit.
func NewCalculator(metrics *telemetry.Metrics) *Calculator {
	return &Calculator{metrics: metrics, credit: LastTouch}
}

// SetCreditFunc replaces the multi-touch credit model.
func (c *Calculator) SetCreditFunc(f CreditFunc) {
	if f != nil {
		c.credit = f
	}
}

// Calculate computes ROI metrics for a campaign over the supplied
// events. baselineRate is only consulted by the incremental method;
// when it is absent the calculation degrades to attributed.
func (c *Calculator) Calculate(campaign *domain.Campaign, events []domain.AttributionEvent, baselineRate *float64, method domain.ROIMethod) (*domain.ROIMetrics, error) {
	if !method.Valid() {
		return nil, domain.Validationf("unknown ROI method %q", method)
	}
	if c.metrics != nil {
		c.metrics.ROICalculations.WithLabelValues(string(method)).Inc()
	}

	degraded := false
	var considered []domain.AttributionEvent
	scale := decimal.NewFromInt(1)

	switch method {
	case domain.ROISimple:
		considered = events
	case domain.ROIAttributed:
		considered = filterAttributed(campaign, events)
	case domain.ROIIncremental:
		considered = filterAttributed(campaign, events)
		if baselineRate == nil {
			degraded = true
			logger.Warn("incremental ROI missing baseline rate, degrading to attributed",
				"campaign_id", campaign.ID)
		} else {
			rate := *baselineRate
			if rate < 0 {
				rate = 0
			}
			if rate > 1 {
				rate = 1
			}
			scale = decimal.NewFromFloat(1 - rate)
		}
	case domain.ROIMultiTouch:
		considered = c.creditedEvents(events)
	}

	revenue := decimal.Zero
	conversions := 0
	for i := range considered {
		if considered[i].IsConversion() {
			conversions++
		}
		if considered[i].ConversionValue != nil {
			revenue = revenue.Add(decimal.NewFromFloat(*considered[i].ConversionValue))
		}
	}
	revenue = revenue.Mul(scale)

	return c.compose(campaign, revenue, conversions, method, degraded), nil
}

// filterAttributed keeps events matching the campaign's configured
// attribution method and belonging to the campaign.
func filterAttributed(campaign *domain.Campaign, events []domain.AttributionEvent) []domain.AttributionEvent {
	var out []domain.AttributionEvent
	for _, e := range events {
		if e.CampaignID == campaign.ID && e.Method == campaign.Attribution.Method {
			out = append(out, e)
		}
	}
	return out
}

// creditedEvents groups events into per-user paths and applies the
// credit model to each. Paths are keyed by user id, falling back to
// session id, falling back to a shared unknown bucket.
func (c *Calculator) creditedEvents(events []domain.AttributionEvent) []domain.AttributionEvent {
	paths := make(map[string][]domain.AttributionEvent)
	var order []string
	for _, e := range events {
		key := "unknown"
		switch {
		case e.UserID != nil && *e.UserID != "":
			key = "u:" + *e.UserID
		case e.SessionID != nil && *e.SessionID != "":
			key = "s:" + *e.SessionID
		}
		if _, seen := paths[key]; !seen {
			order = append(order, key)
		}
		paths[key] = append(paths[key], e)
	}

	var credited []domain.AttributionEvent
	for _, key := range order {
		path := paths[key]
		sort.SliceStable(path, func(i, j int) bool {
			return path[i].Timestamp.Before(path[j].Timestamp)
		})
		credited = append(credited, c.credit(path)...)
	}
	return credited
}

// compose fills the derived fields from revenue and cost.
func (c *Calculator) compose(campaign *domain.Campaign, revenue decimal.Decimal, conversions int, method domain.ROIMethod, degraded bool) *domain.ROIMetrics {
	rev := revenue.InexactFloat64()
	cost := campaign.CampaignValue

	m := &domain.ROIMetrics{
		CampaignID:      campaign.ID,
		CampaignCost:    cost,
		ConversionValue: rev,
		NetProfit:       rev - cost,
		ConversionCount: conversions,
		Method:          method,
		Degraded:        degraded,
	}

	if cost > 0 {
		m.ROI = (rev - cost) / cost
		m.ROAS = rev / cost
	}
	if conversions > 0 {
		aov := rev / float64(conversions)
		cpc := cost / float64(conversions)
		m.AverageOrderValue = &aov
		m.CostPerConversion = &cpc
	}
	if m.NetProfit > 0 && conversions > 0 {
		days := campaign.DurationDays()
		dailyRate := rev / float64(days)
		if dailyRate > 0 {
			payback := int(math.Floor(cost / dailyRate))
			m.PaybackPeriodDays = &payback
		}
	}
	return m
}

// Breakdown holds per-method attributed ROI plus the overall result.
// Method slots are nil when no events used that method.
type Breakdown struct {
	PromoCode *domain.ROIMetrics `json:"promo_code,omitempty"`
	Pixel     *domain.ROIMetrics `json:"pixel,omitempty"`
	UTM       *domain.ROIMetrics `json:"utm,omitempty"`
	Direct    *domain.ROIMetrics `json:"direct,omitempty"`
	Overall   *domain.ROIMetrics `json:"overall"`
}

// ByMethod groups the campaign's events by attribution method and
// computes attributed ROI for each, plus the overall attributed result
// under the campaign's configured method.
func (c *Calculator) ByMethod(campaign *domain.Campaign, events []domain.AttributionEvent) (*Breakdown, error) {
	groups := make(map[domain.AttributionMethod][]domain.AttributionEvent)
	for _, e := range events {
		if e.CampaignID != campaign.ID {
			continue
		}
		groups[e.Method] = append(groups[e.Method], e)
	}

	perMethod := func(method domain.AttributionMethod) (*domain.ROIMetrics, error) {
		evts, ok := groups[method]
		if !ok {
			return nil, nil
		}
		// Within one method group, attributed ROI equals simple ROI
		// over the group.
		return c.Calculate(campaign, evts, nil, domain.ROISimple)
	}

	b := &Breakdown{}
	var err error
	if b.PromoCode, err = perMethod(domain.MethodPromoCode); err != nil {
		return nil, err
	}
	if b.Pixel, err = perMethod(domain.MethodPixel); err != nil {
		return nil, err
	}
	if b.UTM, err = perMethod(domain.MethodUTM); err != nil {
		return nil, err
	}
	if b.Direct, err = perMethod(domain.MethodDirect); err != nil {
		return nil, err
	}
	if b.Overall, err = c.Calculate(campaign, events, nil, domain.ROIAttributed); err != nil {
		return nil, err
	}
	return b, nil
}
