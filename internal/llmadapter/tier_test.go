package llmadapter

import "testing"

func TestWorkerCount_ClampsToTierCap(t *testing.T) {
	t.Parallel()
	cases := []struct {
		tier  Tier
		cores int
		want  int
	}{
		{TierConsumer, 2, 1},
		{TierConsumer, 100, 4},   // clamped to consumer cap
		{TierProsumer, 16, 4},
		{TierProsumer, 100, 6},   // clamped to prosumer cap
		{TierEnterprise, 32, 8},  // clamped to enterprise cap
		{TierEnterprise, 4, 1},
	}
	for _, c := range cases {
		if got := WorkerCount(c.tier, c.cores); got != c.want {
			t.Errorf("WorkerCount(%v, %d) = %d, want %d", c.tier, c.cores, got, c.want)
		}
	}
}

func TestDetectTier_ReturnsKnownTier(t *testing.T) {
	t.Parallel()
	tier, profile, err := DetectTier()
	if err != nil {
		t.Fatalf("DetectTier: %v", err)
	}
	switch tier {
	case TierConsumer, TierProsumer, TierEnterprise:
	default:
		t.Errorf("unexpected tier: %v", tier)
	}
	if profile.Cores <= 0 {
		t.Errorf("profile.Cores = %d, want > 0", profile.Cores)
	}
}
