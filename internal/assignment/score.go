// Package assignment implements the operator-assignment engine: the
// priority queue of chats awaiting an operator, the pure scoring
// functions that rank entries and candidates, the match loop that
// commits assignments, and the reassignment/escalation policy.
package assignment

import "github.com/velora-app/velora/internal/model"

// Priority band thresholds. Labels are for display and filtering only;
// every ordering decision uses the numeric score.
const (
	scoreUrgent = 300
	scoreHigh   = 200
	scoreNormal = 100
)

// PriorityBand is the display label derived from a numeric score.
type PriorityBand string

const (
	BandUrgent PriorityBand = "urgent"
	BandHigh   PriorityBand = "high"
	BandNormal PriorityBand = "normal"
	BandLow    PriorityBand = "low"
)

var tierBaseScores = map[model.Tier]int{
	model.TierBasic:  10,
	model.TierBronze: 20,
	model.TierSilver: 30,
	model.TierGold:   40,
	model.TierVIP:    60,
}

// VIP chats get a flat boost on top of their base band.
const vipBonus = 50

// PriorityScore computes the numeric queue priority for a chat.
// Wait time is the uncapped anti-starvation term: one point per
// minute queued. Lifetime value adds a point per 100 KES spent.
// Reassigned entries are floored into the high band so churned chats
// are not starved by fresh low-tier arrivals.
func PriorityScore(tier model.Tier, waitMinutes int, lifetimeValueKES int64, isReassignment bool) int {
	score := tierBaseScores[tier]
	if waitMinutes > 0 {
		score += waitMinutes
	}
	if lifetimeValueKES > 0 {
		score += int(lifetimeValueKES / 100)
	}
	if tier == model.TierVIP {
		score += vipBonus
	}
	if isReassignment && score < scoreHigh {
		score = scoreHigh
	}
	return score
}

// Band maps a numeric score onto its display band.
func Band(score int) PriorityBand {
	switch {
	case score >= scoreUrgent:
		return BandUrgent
	case score >= scoreHigh:
		return BandHigh
	case score >= scoreNormal:
		return BandNormal
	default:
		return BandLow
	}
}
