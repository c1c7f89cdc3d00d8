// Package pricing computes the credit cost of a message. The engine is
// pure: given the same ordinal, tier, featured flag, and timestamp it
// always returns the same cost, so it doubles as the cost-preview path.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/velora-app/velora/internal/model"
)

// Engine prices messages from a fixed tunable set. The engine is
// immutable and safe for concurrent use; config reload swaps in a new
// engine.
type Engine struct {
	cfg model.PricingConfig
	loc *time.Location
}

// New builds an engine from pricing config. The reference timezone is
// resolved once; an unknown zone is a configuration error.
func New(cfg model.PricingConfig) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("pricing timezone %q: %w", cfg.Timezone, err)
	}
	return &Engine{cfg: cfg, loc: loc}, nil
}

// Cost returns the non-negative integer credit cost of the message at
// the given 1-based per-role ordinal. Ordinals within the free
// allowance cost zero regardless of every other factor.
//
//	cost = round(base × time × featured × (1 − discount(tier)))
func (e *Engine) Cost(ordinal int, tier model.Tier, featured bool, at time.Time) int64 {
	if ordinal <= e.cfg.FreeMessages {
		return 0
	}

	cost := float64(e.cfg.BaseCost)
	cost *= e.timeMultiplier(at)
	if featured {
		cost *= e.cfg.FeaturedMultiplier
	}
	cost *= 1 - tier.Discount()

	rounded := int64(math.Round(cost))
	if rounded < 0 {
		return 0
	}
	return rounded
}

// Preview is the cost-preview contract: same computation as Cost, with
// a zero timestamp meaning "now".
func (e *Engine) Preview(ordinalHint int, tier model.Tier, featured bool, at time.Time) int64 {
	if at.IsZero() {
		at = time.Now()
	}
	return e.Cost(ordinalHint, tier, featured, at)
}

// FreeMessages returns the per-role free allowance.
func (e *Engine) FreeMessages() int {
	return e.cfg.FreeMessages
}

func (e *Engine) timeMultiplier(at time.Time) float64 {
	hour := at.In(e.loc).Hour()
	if hourInWindow(hour, e.cfg.PeakStartHour, e.cfg.PeakEndHour) {
		return e.cfg.PeakMultiplier
	}
	if hourInWindow(hour, e.cfg.OffPeakStartHour, e.cfg.OffPeakEndHour) {
		return e.cfg.OffPeakMultiplier
	}
	return 1
}

// hourInWindow tests a half-open hour range [start, end) that may wrap
// midnight, e.g. start=20 end=1 covers 20,21,22,23,0.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
