// Package evaluate implements the C8 Flagship Evaluator and C9 Entity
// Evaluators: the scoring half of the extraction pipeline that turns raw
// mined claims and entities into the dimension scores and quality ratings
// the Multi-Profile Scorer and Markdown renderer consume (spec §4.8, §4.9).
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/knowledgeminer/knowledgeminer/internal/llmadapter"
	"github.com/knowledgeminer/knowledgeminer/internal/scoring"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/types"
)

// DefaultBatchSize is how many claims go into one Flagship Evaluator call,
// within spec §4.8's "one call per claim or small batch" allowance.
const DefaultBatchSize = 8

// Config configures an [Evaluator].
type Config struct {
	Adapter *llmadapter.Adapter

	// Target selects the LLM Adapter backend family. Defaults to TargetHosted.
	Target llmadapter.Target

	// BatchSize bounds claims per flagship call. <= 0 uses DefaultBatchSize.
	BatchSize int
}

// Evaluator runs the Flagship and Entity evaluator LLM passes.
type Evaluator struct {
	adapter   *llmadapter.Adapter
	target    llmadapter.Target
	batchSize int
	logger    *slog.Logger
}

// New builds an Evaluator from cfg.
func New(cfg Config) *Evaluator {
	target := cfg.Target
	if target == "" {
		target = llmadapter.TargetHosted
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Evaluator{
		adapter:   cfg.Adapter,
		target:    target,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "evaluate"),
	}
}

// EvaluateClaims runs the Flagship Evaluator (C8) over claims in
// fixed-size batches, scoring each claim's seven dimensions independently
// and writing the result through [scoring.Apply]. Claims are mutated in
// place.
func (e *Evaluator) EvaluateClaims(ctx context.Context, runID string, claims []store.Claim) error {
	for start := 0; start < len(claims); start += e.batchSize {
		end := min(start+e.batchSize, len(claims))
		batch := claims[start:end]

		dims, err := e.scoreBatch(ctx, runID, batch)
		if err != nil {
			return fmt.Errorf("evaluate: flagship batch [%d:%d]: %w", start, end, err)
		}
		for i := range batch {
			scoring.Apply(&batch[i], dims[i])
		}
	}
	return nil
}

func (e *Evaluator) scoreBatch(ctx context.Context, runID string, claims []store.Claim) ([]store.Dimensions, error) {
	req := llm.CompletionRequest{
		SystemPrompt: flagshipSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: flagshipUserPrompt(claims)}},
		Temperature:  0,
	}

	resp, err := e.adapter.Complete(ctx, e.target, runID, req)
	if err != nil {
		return nil, err
	}

	var rows []dimensionRow
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &rows); err != nil {
		return nil, fmt.Errorf("parse flagship response: %w", err)
	}

	out := make([]store.Dimensions, len(claims))
	for i := range claims {
		if i < len(rows) {
			out[i] = rows[i].toDimensions()
		}
	}
	return out, nil
}

const flagshipSystemPrompt = `You are the Flagship Evaluator stage of a knowledge-mining pipeline. For every claim you are given, score it independently across seven dimensions, each 0-10:

- epistemic_value: how much genuine understanding this claim adds
- actionability: how directly a reader could act on it
- novelty: how surprising or non-obvious it is
- verifiability: how checkable it is against external evidence
- understandability: how accessible it is without specialist background
- temporal_stability: how long the claim stays true
- scope: how broadly the claim applies beyond its immediate context

Score each dimension on its own terms. A claim can be highly verifiable and unsurprising at once (for example, "Jerome Powell is the Federal Reserve chairman" is easy to verify but has low epistemic value and near-zero novelty) — do not let one dimension anchor the others.

Respond with a JSON array only, no prose, with exactly one object per claim in the same order you received them:
[{"epistemic_value": 0, "actionability": 0, "novelty": 0, "verifiability": 0, "understandability": 0, "temporal_stability": 0, "scope": 0}]`

func flagshipUserPrompt(claims []store.Claim) string {
	var b strings.Builder
	for i, c := range claims {
		fmt.Fprintf(&b, "%d. [%s] %s (speaker: %s)\n", i, c.Type, c.CanonicalText, c.Speaker)
	}
	return b.String()
}

type dimensionRow struct {
	EpistemicValue    float64 `json:"epistemic_value"`
	Actionability     float64 `json:"actionability"`
	Novelty           float64 `json:"novelty"`
	Verifiability     float64 `json:"verifiability"`
	Understandability float64 `json:"understandability"`
	TemporalStability float64 `json:"temporal_stability"`
	Scope             float64 `json:"scope"`
}

func (r dimensionRow) toDimensions() store.Dimensions {
	return store.Dimensions{
		EpistemicValue:    r.EpistemicValue,
		Actionability:     r.Actionability,
		Novelty:           r.Novelty,
		Verifiability:     r.Verifiability,
		Understandability: r.Understandability,
		TemporalStability: r.TemporalStability,
		Scope:             r.Scope,
	}
}

// entityNoun and attributionField vary the Entity Evaluator prompt by
// type, per spec §4.9's "separate per-type evaluators".
var entityNoun = map[store.EntityType]string{
	store.EntityJargon:      "jargon term",
	store.EntityPerson:      "person",
	store.EntityMentalModel: "mental model",
}

var attributionNoun = map[store.EntityType]string{
	store.EntityJargon:      "introduced_by",
	store.EntityPerson:      "mentioned_by",
	store.EntityMentalModel: "advocated_by",
}

// EvaluateEntities runs the three Entity Evaluators (C9) in parallel, one
// bulk LLM pass per entity type, filling in QualityScore and AttributedTo.
// Entities are mutated in place.
func (e *Evaluator) EvaluateEntities(ctx context.Context, runID string, entities []store.Entity) error {
	byType := map[store.EntityType][]*store.Entity{}
	for i := range entities {
		t := entities[i].Type
		byType[t] = append(byType[t], &entities[i])
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)
	for entityType, group := range byType {
		if len(group) == 0 {
			continue
		}
		entityType, group := entityType, group
		wg.Go(func() {
			if err := e.evaluateEntityGroup(ctx, runID, entityType, group); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("evaluate: entity type %s: %w", entityType, err)
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	return firstErr
}

func (e *Evaluator) evaluateEntityGroup(ctx context.Context, runID string, entityType store.EntityType, group []*store.Entity) error {
	req := llm.CompletionRequest{
		SystemPrompt: entitySystemPrompt(entityType),
		Messages:     []types.Message{{Role: "user", Content: entityUserPrompt(group)}},
		Temperature:  0,
	}

	resp, err := e.adapter.Complete(ctx, e.target, runID, req)
	if err != nil {
		return err
	}

	var rows []entityRow
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &rows); err != nil {
		return fmt.Errorf("parse entity evaluator response: %w", err)
	}

	for i, ent := range group {
		if i >= len(rows) {
			break
		}
		ent.QualityScore = rows[i].QualityScore
		if rows[i].AttributedTo != "" {
			ent.AttributedTo = rows[i].AttributedTo
		}
	}
	return nil
}

func entitySystemPrompt(t store.EntityType) string {
	noun := entityNoun[t]
	attr := attributionNoun[t]
	return fmt.Sprintf(`You are an Entity Evaluator for %s entries extracted from a source. For each entry, rate its quality from 0-10, judging how precisely it is defined or identified, how consequential it is to the source's argument, and how well it is evidenced by its quotes. Also determine %s: who introduced, mentioned, or advocated it, if the evidence makes that clear, or an empty string if it does not.

Respond with a JSON array only, no prose, with exactly one object per entry in the same order you received them:
[{"quality_score": 0, "attributed_to": ""}]`, noun+"s", attr)
}

func entityUserPrompt(group []*store.Entity) string {
	var b strings.Builder
	for i, ent := range group {
		fmt.Fprintf(&b, "%d. %s", i, ent.Name)
		if ent.Definition != "" {
			fmt.Fprintf(&b, " — %s", ent.Definition)
		}
		b.WriteString("\n")
		for _, ev := range ent.Evidence {
			fmt.Fprintf(&b, "   quote: %q\n", ev.Quote)
		}
	}
	return b.String()
}

type entityRow struct {
	QualityScore float64 `json:"quality_score"`
	AttributedTo string  `json:"attributed_to"`
}

func extractJSONArray(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "["); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "]"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return s
}
