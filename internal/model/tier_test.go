package model

import "testing"

func TestTierRankOrder(t *testing.T) {
	order := []Tier{TierBasic, TierBronze, TierSilver, TierGold, TierVIP}
	for i, tier := range order {
		if got := tier.Rank(); got != i {
			t.Errorf("%s.Rank() = %d, want %d", tier, got, i)
		}
	}
	if got := Tier("platinum").Rank(); got != -1 {
		t.Errorf("unknown tier rank = %d, want -1", got)
	}
}

func TestTierDiscountMonotonic(t *testing.T) {
	order := []Tier{TierBasic, TierBronze, TierSilver, TierGold, TierVIP}
	prev := -1.0
	for _, tier := range order {
		d := tier.Discount()
		if d <= prev && tier != TierBasic {
			t.Errorf("%s discount %.2f not greater than previous %.2f", tier, d, prev)
		}
		prev = d
	}
	if TierBasic.Discount() != 0 {
		t.Errorf("basic discount = %.2f, want 0", TierBasic.Discount())
	}
	if TierVIP.Discount() != 0.20 {
		t.Errorf("vip discount = %.2f, want 0.20", TierVIP.Discount())
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("gold")
	if err != nil {
		t.Fatalf("ParseTier: %v", err)
	}
	if tier != TierGold {
		t.Errorf("ParseTier(gold) = %q", tier)
	}

	if _, err := ParseTier("platinum"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if _, err := ParseTier(""); err == nil {
		t.Error("expected error for empty tier")
	}
}
