// Package segment implements the C5 Segmenter: it partitions a
// transcript's ordered [stt.Segment] sequence into mining windows sized for
// a single Unified Miner LLM call (spec §4.5).
//
// Windowing is pure arithmetic over timestamped spans; no third-party
// library in the example pack does fixed-duration bucketing of this shape,
// so this package is stdlib-only by design (see DESIGN.md).
package segment

import "github.com/knowledgeminer/knowledgeminer/pkg/provider/stt"

// DefaultWindowSeconds is the target window length used when a caller does
// not configure one, within the spec's 2-4 minute band.
const DefaultWindowSeconds = 180

// Window is a contiguous (or, with overlap configured, slightly
// overlapping) slice of transcript segments bounded by absolute source
// timestamps, ready to hand to the Unified Miner.
type Window struct {
	// Index is the window's position in source order, starting at 0.
	Index int

	// T0/T1 are absolute timestamps spanning every segment in Segments.
	T0, T1 float64

	// Segments is the ordered slice of transcript segments in this window.
	Segments []stt.Segment
}

// Text concatenates every segment's text in order, space-joined, for
// inclusion in a miner prompt.
func (w Window) Text() string {
	var n int
	for _, s := range w.Segments {
		n += len(s.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, s := range w.Segments {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// Options configures windowing behavior (spec §4.5).
type Options struct {
	// WindowSeconds is the target window duration. <= 0 uses
	// DefaultWindowSeconds.
	WindowSeconds int

	// OverlapSeconds, when > 0, makes each window after the first start
	// OverlapSeconds before the previous window's end, so entities
	// spanning a boundary appear in both windows. Downstream mining
	// dedups repeated entities; the Claim Store dedups repeated claims
	// via source_id+hash. Must be smaller than WindowSeconds.
	OverlapSeconds int
}

// Windows partitions segments, which must already be in transcript (t0
// ascending) order, into mining windows per Options. A single segment
// longer than the window target still gets its own window rather than
// being split — the miner never truncates mid-segment.
func Windows(segments []stt.Segment, opts Options) []Window {
	if len(segments) == 0 {
		return nil
	}

	target := float64(opts.WindowSeconds)
	if opts.WindowSeconds <= 0 {
		target = float64(DefaultWindowSeconds)
	}
	overlap := float64(opts.OverlapSeconds)
	if overlap < 0 || overlap >= target {
		overlap = 0
	}

	var windows []Window
	i := 0
	for i < len(segments) {
		start := i
		windowStart := segments[start].T0
		j := start
		for j < len(segments) && (segments[j].T1-windowStart) <= target {
			j++
		}
		if j == start {
			// A single segment already exceeds the window target; keep it
			// whole rather than producing an empty window.
			j = start + 1
		}

		win := Window{
			Index:    len(windows),
			T0:       segments[start].T0,
			T1:       segments[j-1].T1,
			Segments: append([]stt.Segment(nil), segments[start:j]...),
		}
		windows = append(windows, win)

		if j >= len(segments) {
			break
		}

		if overlap == 0 {
			i = j
			continue
		}

		// Back up i so the next window starts roughly overlap seconds
		// before this one's end, but always progresses past start to
		// guarantee termination.
		backAt := j - 1
		cutoff := segments[j-1].T1 - overlap
		for backAt > start && segments[backAt-1].T1 > cutoff {
			backAt--
		}
		if backAt <= start {
			backAt = j
		}
		i = backAt
	}

	return windows
}
