package model

import "fmt"

// Tier is a ranked membership level. Rank order drives both the pricing
// discount and the queue priority base band.
type Tier string

const (
	TierBasic  Tier = "basic"
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
	TierVIP    Tier = "vip"
)

var tierRanks = map[Tier]int{
	TierBasic:  0,
	TierBronze: 1,
	TierSilver: 2,
	TierGold:   3,
	TierVIP:    4,
}

// Discount per tier, monotonically increasing with rank. The lowest
// tier pays full price.
var tierDiscounts = map[Tier]float64{
	TierBasic:  0,
	TierBronze: 0.05,
	TierSilver: 0.10,
	TierGold:   0.15,
	TierVIP:    0.20,
}

// Rank returns the 0-based position of t in the tier order, or -1 for
// an unknown tier.
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// Discount returns the fractional price reduction for t.
func (t Tier) Discount() float64 {
	return tierDiscounts[t]
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// ParseTier validates and normalizes a tier string.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}
