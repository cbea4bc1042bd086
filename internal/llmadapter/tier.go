package llmadapter

import (
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Tier classifies the host machine's hardware for concurrency sizing
// (spec §4.10).
type Tier string

const (
	TierConsumer   Tier = "consumer"
	TierProsumer   Tier = "prosumer"
	TierEnterprise Tier = "enterprise"
)

// tierCap is the worker-count ceiling per tier.
var tierCap = map[Tier]int{
	TierConsumer:   4,
	TierProsumer:   6,
	TierEnterprise: 8,
}

// semaphoreLimits gives the per-provider-family (local, hosted) semaphore
// sizes for a tier (spec §4.10).
type semaphoreLimits struct {
	Local  int
	Hosted int
}

var tierSemaphores = map[Tier]semaphoreLimits{
	TierConsumer:   {Local: 3, Hosted: 2},
	TierProsumer:   {Local: 5, Hosted: 4},
	TierEnterprise: {Local: 8, Hosted: 8},
}

// HardwareProfile is the detected machine shape feeding tier classification.
type HardwareProfile struct {
	Cores     int
	MemoryGiB float64
}

// DetectTier inspects the host's CPU core count and total memory via
// gopsutil and classifies it into a [Tier], per spec §4.10's
// "detect CPU cores and memory; classify into consumer | prosumer |
// enterprise" rule. Thresholds follow the spec's worked examples: 8+ cores
// and 32+ GiB is enterprise, 4+ cores and 16+ GiB is prosumer, else
// consumer.
func DetectTier() (Tier, HardwareProfile, error) {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = 1
	}

	var memGiB float64
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		memGiB = float64(vm.Total) / (1024 * 1024 * 1024)
	}

	profile := HardwareProfile{Cores: cores, MemoryGiB: memGiB}

	switch {
	case cores >= 8 && memGiB >= 32:
		return TierEnterprise, profile, nil
	case cores >= 4 && memGiB >= 16:
		return TierProsumer, profile, nil
	default:
		return TierConsumer, profile, nil
	}
}

// WorkerCount computes the effective worker count for a tier given a
// detected core count, per spec §4.10's thread-ratio rule: "each worker is
// expected to spawn ≈5 backend threads; target thread/core ratio ≤1.5×" —
// workers = clamp(floor(cores*1.5/5), tier_cap).
func WorkerCount(tier Tier, cores int) int {
	raw := int(math.Floor(float64(cores) * 1.5 / 5))
	if raw < 1 {
		raw = 1
	}
	if maxCap, ok := tierCap[tier]; ok && raw > maxCap {
		return maxCap
	}
	return raw
}
