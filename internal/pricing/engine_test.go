package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora-app/velora/internal/model"
)

func testConfig() model.PricingConfig {
	cfg := model.Config{}
	cfg.ApplyDefaults()
	return cfg.Pricing
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig())
	require.NoError(t, err)
	return e
}

// Hour helpers against the default UTC reference timezone.
func atHour(hour int) time.Time {
	return time.Date(2026, 3, 14, hour, 0, 0, 0, time.UTC)
}

func TestCost_FreeAllowance(t *testing.T) {
	e := mustEngine(t)

	tiers := []model.Tier{model.TierBasic, model.TierGold, model.TierVIP}
	for _, tier := range tiers {
		for ordinal := 1; ordinal <= 3; ordinal++ {
			assert.Zero(t, e.Cost(ordinal, tier, true, atHour(21)),
				"ordinal %d tier %s should be free", ordinal, tier)
			assert.Zero(t, e.Cost(ordinal, tier, false, atHour(12)),
				"ordinal %d tier %s should be free", ordinal, tier)
		}
	}
}

func TestCost_FirstPaidMessageBaseCost(t *testing.T) {
	e := mustEngine(t)

	// Ordinal 4, lowest tier, non-featured, normal hours: exactly base.
	got := e.Cost(4, model.TierBasic, false, atHour(12))
	assert.Equal(t, int64(1), got)
}

func TestCost_TimeWindows(t *testing.T) {
	e := mustEngine(t)

	tests := []struct {
		name string
		hour int
		want float64
	}{
		{"peak evening", 21, 1.2},
		{"peak past midnight", 0, 1.2},
		{"peak boundary start", 20, 1.2},
		{"normal after peak end", 1, 1.0},
		{"off-peak morning", 5, 0.8},
		{"off-peak boundary start", 4, 0.8},
		{"normal after off-peak", 8, 1.0},
		{"normal midday", 12, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.timeMultiplier(atHour(tt.hour))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCost_GoldPeakRoundsToOne(t *testing.T) {
	e := mustEngine(t)

	// Gold (15% discount), non-featured, ordinal 5 at 21:00 peak:
	// round(1 × 1.2 × 1 × 0.85) = round(1.02) = 1.
	got := e.Cost(5, model.TierGold, false, atHour(21))
	assert.Equal(t, int64(1), got)
}

func TestCost_FeaturedSurcharge(t *testing.T) {
	e := mustEngine(t)

	// Basic tier, normal hours: 1 × 1.25 rounds to 1.
	assert.Equal(t, int64(1), e.Cost(4, model.TierBasic, true, atHour(12)))

	// Higher base makes the surcharge visible: 4 × 1.25 = 5.
	cfg := testConfig()
	cfg.BaseCost = 4
	e4, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(5), e4.Cost(4, model.TierBasic, true, atHour(12)))
}

func TestCost_NeverNegative(t *testing.T) {
	e := mustEngine(t)

	for _, tier := range []model.Tier{model.TierBasic, model.TierBronze, model.TierSilver, model.TierGold, model.TierVIP} {
		for hour := 0; hour < 24; hour++ {
			for _, featured := range []bool{true, false} {
				got := e.Cost(10, tier, featured, atHour(hour))
				assert.GreaterOrEqual(t, got, int64(0),
					"tier=%s hour=%d featured=%v", tier, hour, featured)
			}
		}
	}
}

func TestPreview_ZeroTimestampMeansNow(t *testing.T) {
	e := mustEngine(t)

	// Free ordinals preview as zero regardless of the current hour.
	assert.Zero(t, e.Preview(1, model.TierVIP, true, time.Time{}))

	// A pinned timestamp previews identically to Cost.
	at := atHour(21)
	assert.Equal(t, e.Cost(5, model.TierGold, false, at), e.Preview(5, model.TierGold, false, at))
}

func TestNew_UnknownTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestHourInWindow(t *testing.T) {
	tests := []struct {
		name             string
		hour, start, end int
		want             bool
	}{
		{"inside plain window", 5, 4, 8, true},
		{"end excluded", 8, 4, 8, false},
		{"wraparound late", 23, 20, 1, true},
		{"wraparound early", 0, 20, 1, true},
		{"wraparound outside", 2, 20, 1, false},
		{"empty window", 5, 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hourInWindow(tt.hour, tt.start, tt.end))
		})
	}
}
