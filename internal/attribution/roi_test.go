package attribution

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

func f64(v float64) *float64 { return &v }
func strp(s string) *string  { return &s }

func testCampaign(value float64, method domain.AttributionMethod) *domain.Campaign {
	return &domain.Campaign{
		ID:            uuid.New(),
		TenantID:      uuid.New(),
		PodcastID:     uuid.New(),
		SponsorID:     uuid.New(),
		Name:          "Q3 flight",
		Status:        domain.CampaignActive,
		StartDate:     time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		CampaignValue: value,
		Attribution:   domain.AttributionConfig{Method: method},
	}
}

func conversionEvent(campaignID uuid.UUID, method domain.AttributionMethod, value *float64, ts time.Time) domain.AttributionEvent {
	e := domain.AttributionEvent{
		EventID:    uuid.New(),
		TenantID:   uuid.New(),
		Timestamp:  ts,
		CampaignID: campaignID,
		PodcastID:  uuid.New(),
		Method:     method,
	}
	if value != nil {
		e.ConversionType = strp("purchase")
		e.ConversionValue = value
	}
	return e
}

func TestCalculate_Simple(t *testing.T) {
	c := testCampaign(1000, domain.MethodPromoCode)
	now := time.Now().UTC()

	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(100), now),
		conversionEvent(c.ID, domain.MethodPromoCode, f64(200), now),
		conversionEvent(c.ID, domain.MethodPromoCode, nil, now),
	}

	calc := NewCalculator(nil)
	m, err := calc.Calculate(c, events, nil, domain.ROISimple)
	require.NoError(t, err)

	assert.InDelta(t, 300.0, m.ConversionValue, 1e-9)
	assert.InDelta(t, -0.7, m.ROI, 1e-9)
	assert.InDelta(t, 0.3, m.ROAS, 1e-9)
	assert.InDelta(t, -700.0, m.NetProfit, 1e-9)
	assert.Equal(t, 2, m.ConversionCount)
	assert.Nil(t, m.PaybackPeriodDays, "no payback on negative net profit")
}

func TestCalculate_AttributedVsSimple(t *testing.T) {
	c := testCampaign(1000, domain.MethodPromoCode)
	now := time.Now().UTC()

	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(200), now),
		conversionEvent(c.ID, domain.MethodPixel, f64(300), now),
	}

	calc := NewCalculator(nil)

	simple, err := calc.Calculate(c, events, nil, domain.ROISimple)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, simple.ConversionValue, 1e-9)

	attributed, err := calc.Calculate(c, events, nil, domain.ROIAttributed)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, attributed.ConversionValue, 1e-9)
	assert.Equal(t, 1, attributed.ConversionCount)
}

func TestCalculate_AttributedEqualsFilteredSimple(t *testing.T) {
	c := testCampaign(750, domain.MethodUTM)
	now := time.Now().UTC()

	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodUTM, f64(120), now),
		conversionEvent(c.ID, domain.MethodUTM, nil, now),
		conversionEvent(c.ID, domain.MethodDirect, f64(75), now),
		conversionEvent(uuid.New(), domain.MethodUTM, f64(999), now),
	}

	calc := NewCalculator(nil)
	attributed, err := calc.Calculate(c, events, nil, domain.ROIAttributed)
	require.NoError(t, err)

	filtered := filterAttributed(c, events)
	simple, err := calc.Calculate(c, filtered, nil, domain.ROISimple)
	require.NoError(t, err)

	assert.Equal(t, simple.ConversionValue, attributed.ConversionValue)
	assert.Equal(t, simple.ConversionCount, attributed.ConversionCount)
	assert.Equal(t, simple.ROI, attributed.ROI)
}

func TestCalculate_MultiTouchLastTouch(t *testing.T) {
	c := testCampaign(100, domain.MethodPromoCode)
	base := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	click := conversionEvent(c.ID, domain.MethodPixel, nil, base)
	click.UserID = strp("U1")
	purchase1 := conversionEvent(c.ID, domain.MethodPromoCode, f64(400), base.Add(time.Hour))
	purchase1.UserID = strp("U1")
	purchase2 := conversionEvent(c.ID, domain.MethodPromoCode, f64(100), base.Add(2*time.Hour))
	purchase2.UserID = strp("U2")

	calc := NewCalculator(nil)
	m, err := calc.Calculate(c, []domain.AttributionEvent{click, purchase1, purchase2}, nil, domain.ROIMultiTouch)
	require.NoError(t, err)

	assert.InDelta(t, 500.0, m.ConversionValue, 1e-9)
	assert.Equal(t, 2, m.ConversionCount)
}

func TestCalculate_MultiTouchSessionFallback(t *testing.T) {
	c := testCampaign(50, domain.MethodPixel)
	base := time.Now().UTC()

	e1 := conversionEvent(c.ID, domain.MethodPixel, nil, base)
	e1.SessionID = strp("sess-1")
	e2 := conversionEvent(c.ID, domain.MethodPixel, f64(80), base.Add(time.Minute))
	e2.SessionID = strp("sess-1")
	anon := conversionEvent(c.ID, domain.MethodPixel, f64(20), base.Add(2*time.Minute))

	calc := NewCalculator(nil)
	m, err := calc.Calculate(c, []domain.AttributionEvent{e1, e2, anon}, nil, domain.ROIMultiTouch)
	require.NoError(t, err)

	// One credit per path: sess-1 credits 80, anonymous bucket credits 20.
	assert.InDelta(t, 100.0, m.ConversionValue, 1e-9)
	assert.Equal(t, 2, m.ConversionCount)
}

func TestCalculate_IncrementalFallsBackWithoutBaseline(t *testing.T) {
	c := testCampaign(400, domain.MethodPromoCode)
	now := time.Now().UTC()
	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(600), now),
	}

	calc := NewCalculator(nil)
	inc, err := calc.Calculate(c, events, nil, domain.ROIIncremental)
	require.NoError(t, err)
	att, err := calc.Calculate(c, events, nil, domain.ROIAttributed)
	require.NoError(t, err)

	assert.True(t, inc.Degraded)
	assert.Equal(t, att.ConversionValue, inc.ConversionValue)
	assert.Equal(t, att.ROI, inc.ROI)
}

func TestCalculate_IncrementalAppliesBaseline(t *testing.T) {
	c := testCampaign(100, domain.MethodPromoCode)
	now := time.Now().UTC()
	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(500), now),
	}

	calc := NewCalculator(nil)
	m, err := calc.Calculate(c, events, f64(0.4), domain.ROIIncremental)
	require.NoError(t, err)

	assert.False(t, m.Degraded)
	assert.InDelta(t, 300.0, m.ConversionValue, 1e-9) // 500 × (1 − 0.4)
}

func TestCalculate_ZeroCost(t *testing.T) {
	c := testCampaign(0, domain.MethodDirect)
	now := time.Now().UTC()
	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodDirect, f64(250), now),
	}

	calc := NewCalculator(nil)
	m, err := calc.Calculate(c, events, nil, domain.ROISimple)
	require.NoError(t, err)

	assert.Zero(t, m.ROI)
	assert.Zero(t, m.ROAS)
	assert.InDelta(t, 250.0, m.NetProfit, 1e-9)
}

func TestCalculate_EmptyEvents(t *testing.T) {
	c := testCampaign(1000, domain.MethodPromoCode)
	calc := NewCalculator(nil)

	for _, method := range []domain.ROIMethod{
		domain.ROISimple, domain.ROIAttributed, domain.ROIMultiTouch,
	} {
		m, err := calc.Calculate(c, nil, nil, method)
		require.NoError(t, err, "method %s", method)
		assert.Zero(t, m.ConversionValue)
		assert.Zero(t, m.ConversionCount)
		assert.Nil(t, m.AverageOrderValue)
		assert.Nil(t, m.CostPerConversion)
		assert.Nil(t, m.PaybackPeriodDays)
	}
}

func TestCalculate_UnknownMethod(t *testing.T) {
	c := testCampaign(100, domain.MethodDirect)
	calc := NewCalculator(nil)
	_, err := calc.Calculate(c, nil, nil, domain.ROIMethod("bogus"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCalculate_PaybackPeriod(t *testing.T) {
	c := testCampaign(300, domain.MethodPromoCode)
	now := c.StartDate.Add(24 * time.Hour)
	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(870), now),
	}

	calc := NewCalculator(nil)
	m, err := calc.Calculate(c, events, nil, domain.ROISimple)
	require.NoError(t, err)

	// 29-day flight: daily rate 30, payback floor(300/30) = 10 days.
	require.NotNil(t, m.PaybackPeriodDays)
	assert.Equal(t, 10, *m.PaybackPeriodDays)
}

func TestByMethod_Breakdown(t *testing.T) {
	c := testCampaign(1000, domain.MethodPromoCode)
	now := time.Now().UTC()

	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(200), now),
		conversionEvent(c.ID, domain.MethodPixel, f64(300), now),
		conversionEvent(uuid.New(), domain.MethodUTM, f64(999), now),
	}

	calc := NewCalculator(nil)
	b, err := calc.ByMethod(c, events)
	require.NoError(t, err)

	require.NotNil(t, b.PromoCode)
	assert.InDelta(t, 200.0, b.PromoCode.ConversionValue, 1e-9)
	require.NotNil(t, b.Pixel)
	assert.InDelta(t, 300.0, b.Pixel.ConversionValue, 1e-9)
	assert.Nil(t, b.UTM, "other campaign's events excluded")
	assert.Nil(t, b.Direct)
	require.NotNil(t, b.Overall)
	assert.InDelta(t, 200.0, b.Overall.ConversionValue, 1e-9)
}

func TestCalculate_Deterministic(t *testing.T) {
	c := testCampaign(500, domain.MethodPromoCode)
	now := time.Now().UTC()
	events := []domain.AttributionEvent{
		conversionEvent(c.ID, domain.MethodPromoCode, f64(125.55), now),
		conversionEvent(c.ID, domain.MethodPromoCode, f64(74.45), now),
	}

	calc := NewCalculator(nil)
	first, err := calc.Calculate(c, events, nil, domain.ROIAttributed)
	require.NoError(t, err)
	second, err := calc.Calculate(c, events, nil, domain.ROIAttributed)
	require.NoError(t, err)

	assert.Equal(t, first.ConversionValue, second.ConversionValue)
	assert.InDelta(t, 200.0, first.ConversionValue, 1e-9)
}
