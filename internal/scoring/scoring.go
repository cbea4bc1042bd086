// Package scoring implements the C7 Multi-Profile Scorer: pure arithmetic
// over a claim's seven-dimension score vector, producing twelve user-archetype
// profile scores, the best-matching profile, and the derived importance and
// tier (spec §4.7). It makes no LLM calls.
//
// No statistics or ML library anywhere in the example pack does weighted-sum
// scoring of this shape — it is a dozen dot products — so this package is
// stdlib-only by design (see DESIGN.md).
package scoring

import "github.com/knowledgeminer/knowledgeminer/internal/store"

// Weights is a non-negative weight vector over the seven evaluation
// dimensions store.Dimensions carries, summing to 1.0. A zero weight for a
// dimension is valid (spec §4.7's Scientist example omits understandability
// entirely, i.e. weights it at 0 — see DESIGN.md's Open Question decision).
type Weights struct {
	EpistemicValue    float64
	Actionability     float64
	Novelty           float64
	Verifiability     float64
	Understandability float64
	TemporalStability float64
	Scope             float64
}

func (w Weights) dot(d store.Dimensions) float64 {
	return w.EpistemicValue*d.EpistemicValue +
		w.Actionability*d.Actionability +
		w.Novelty*d.Novelty +
		w.Verifiability*d.Verifiability +
		w.Understandability*d.Understandability +
		w.TemporalStability*d.TemporalStability +
		w.Scope*d.Scope
}

// ProfileNames lists every archetype in a fixed, deterministic order, so
// that argmax ties always resolve to the same profile across runs.
var ProfileNames = []string{
	"scientist", "investor", "engineer", "policy_analyst", "journalist",
	"historian", "philosopher", "entrepreneur", "student", "skeptic",
	"futurist", "generalist",
}

// Profiles is the spec's fixed set of twelve static user-archetype weight
// vectors (spec §4.7: "Configured with 12 static user-archetype profiles").
// Each row is non-negative and sums to 1.0.
var Profiles = map[string]Weights{
	"scientist": {
		EpistemicValue: 0.45, Actionability: 0.02, Novelty: 0.13,
		Verifiability: 0.28, Understandability: 0.00, TemporalStability: 0.08, Scope: 0.04,
	},
	"investor": {
		EpistemicValue: 0.10, Actionability: 0.30, Novelty: 0.15,
		Verifiability: 0.15, Understandability: 0.05, TemporalStability: 0.15, Scope: 0.10,
	},
	"engineer": {
		EpistemicValue: 0.15, Actionability: 0.35, Novelty: 0.10,
		Verifiability: 0.20, Understandability: 0.10, TemporalStability: 0.05, Scope: 0.05,
	},
	"policy_analyst": {
		EpistemicValue: 0.20, Actionability: 0.15, Novelty: 0.05,
		Verifiability: 0.20, Understandability: 0.10, TemporalStability: 0.10, Scope: 0.20,
	},
	"journalist": {
		EpistemicValue: 0.10, Actionability: 0.10, Novelty: 0.30,
		Verifiability: 0.15, Understandability: 0.15, TemporalStability: 0.10, Scope: 0.10,
	},
	"historian": {
		EpistemicValue: 0.20, Actionability: 0.02, Novelty: 0.08,
		Verifiability: 0.25, Understandability: 0.15, TemporalStability: 0.25, Scope: 0.05,
	},
	"philosopher": {
		EpistemicValue: 0.30, Actionability: 0.02, Novelty: 0.15,
		Verifiability: 0.10, Understandability: 0.20, TemporalStability: 0.18, Scope: 0.05,
	},
	"entrepreneur": {
		EpistemicValue: 0.05, Actionability: 0.40, Novelty: 0.20,
		Verifiability: 0.05, Understandability: 0.05, TemporalStability: 0.10, Scope: 0.15,
	},
	"student": {
		EpistemicValue: 0.15, Actionability: 0.10, Novelty: 0.10,
		Verifiability: 0.10, Understandability: 0.40, TemporalStability: 0.05, Scope: 0.10,
	},
	"skeptic": {
		EpistemicValue: 0.15, Actionability: 0.05, Novelty: 0.05,
		Verifiability: 0.45, Understandability: 0.10, TemporalStability: 0.10, Scope: 0.10,
	},
	"futurist": {
		EpistemicValue: 0.10, Actionability: 0.10, Novelty: 0.30,
		Verifiability: 0.05, Understandability: 0.05, TemporalStability: 0.30, Scope: 0.10,
	},
	"generalist": {
		EpistemicValue: 0.15, Actionability: 0.15, Novelty: 0.15,
		Verifiability: 0.15, Understandability: 0.15, TemporalStability: 0.15, Scope: 0.10,
	},
}

// Result is the C7 output for one claim (spec §4.7 steps 1-2).
type Result struct {
	ProfileScores map[string]float64
	BestProfile   string
	Importance    float64
	Tier          store.Tier
}

// Score computes profile_score[p] = Σ weight[p,i]·dimension[i] for every
// profile, then importance = max(profile_score[*]) and best_profile =
// argmax, and derives the tier from importance (spec §4.7, invariant 5).
func Score(d store.Dimensions) Result {
	scores := make(map[string]float64, len(Profiles))

	var best string
	var bestScore float64
	for i, name := range ProfileNames {
		s := Profiles[name].dot(d)
		scores[name] = s
		if i == 0 || s > bestScore {
			best = name
			bestScore = s
		}
	}

	return Result{
		ProfileScores: scores,
		BestProfile:   best,
		Importance:    bestScore,
		Tier:          store.TierForImportance(bestScore),
	}
}

// Apply writes a Score result onto claim's profile fields, leaving every
// other field untouched.
func Apply(claim *store.Claim, d store.Dimensions) {
	claim.Dimensions = d
	r := Score(d)
	claim.ProfileScores = r.ProfileScores
	claim.BestProfile = r.BestProfile
	claim.Importance = r.Importance
	claim.Tier = r.Tier
}
