package llmadapter

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryBand classifies system memory pressure into the admission-control
// throttle bands of spec §4.10.
type MemoryBand int

const (
	MemoryFull MemoryBand = iota
	MemoryReduced
	MemoryConservative
	MemoryOneAtATime
	MemoryEmergency
)

func (b MemoryBand) String() string {
	switch b {
	case MemoryFull:
		return "full"
	case MemoryReduced:
		return "reduced"
	case MemoryConservative:
		return "conservative"
	case MemoryOneAtATime:
		return "one_at_a_time"
	case MemoryEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// bandFor maps a used-memory percentage to its throttle band (spec §4.10):
// <65% full, 65-75% reduce, 75-85% conservative, 85-90% one-at-a-time,
// >=90% emergency.
func bandFor(usedPercent float64) MemoryBand {
	switch {
	case usedPercent >= 90:
		return MemoryEmergency
	case usedPercent >= 85:
		return MemoryOneAtATime
	case usedPercent >= 75:
		return MemoryConservative
	case usedPercent >= 65:
		return MemoryReduced
	default:
		return MemoryFull
	}
}

// MemoryReader reports the current system memory used-percentage. Swappable
// in tests so the 90% emergency band can be exercised without actually
// exhausting memory (spec §8 scenario: "Memory throttle at 90% halts all
// new LLM admissions... verified by forcing reported memory via a stub").
type MemoryReader func() (usedPercent float64, err error)

// systemMemoryReader reads real system memory via gopsutil.
func systemMemoryReader() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// ErrCodeMemoryExceeded is the error code used when a request is abandoned
// while parked waiting for memory pressure to subside (spec §7, C10).
const ErrCodeMemoryExceeded = "llm_memory_exceeded_high"

// memoryGate implements the memory-pressure admission control of spec
// §4.10. Requests below 85% usage pass straight through (the reduced and
// conservative bands only affect the caller's own reduction of optional
// work, which this package does not control); at 85-90% admission is
// serialized one request at a time; at >=90% new admissions park, trigger
// a GC-based emergency cleanup, and poll until usage drops back below 85%.
type memoryGate struct {
	read MemoryReader

	serialize sync.Mutex
}

func newMemoryGate(read MemoryReader) *memoryGate {
	if read == nil {
		read = systemMemoryReader
	}
	return &memoryGate{read: read}
}

// admit blocks, if necessary, until the request may proceed, and returns a
// release func the caller must invoke when the request completes. On ctx
// cancellation while parked it returns a non-nil error instead.
func (g *memoryGate) admit(ctx context.Context) (release func(), err error) {
	cleanedUp := false

	for {
		used, readErr := g.read()
		if readErr != nil {
			// Unable to read memory; fail open rather than stall the
			// pipeline on an observability failure.
			return func() {}, nil
		}

		band := bandFor(used)
		if cleanedUp && used >= 85 {
			// Once parked, stay parked until usage is back below 85%.
			band = MemoryEmergency
		}
		switch band {
		case MemoryFull, MemoryReduced, MemoryConservative:
			return func() {}, nil

		case MemoryOneAtATime:
			g.serialize.Lock()
			return func() { g.serialize.Unlock() }, nil

		default: // MemoryEmergency
			if !cleanedUp {
				slog.Warn("llm adapter: memory pressure emergency, parking admissions", "used_percent", used)
				runtime.GC()
				debug.FreeOSMemory()
				cleanedUp = true
			}

			select {
			case <-ctx.Done():
				return nil, &Error{Code: ErrCodeMemoryExceeded, Err: ctx.Err()}
			case <-time.After(2 * time.Second):
			}
		}
	}
}
