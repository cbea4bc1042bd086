package evaluate_test

import (
	"context"
	"testing"

	"github.com/knowledgeminer/knowledgeminer/internal/evaluate"
	"github.com/knowledgeminer/knowledgeminer/internal/llmadapter"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm/mock"
)

func newEvaluator(t *testing.T, content string) *evaluate.Evaluator {
	t.Helper()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
	a, err := llmadapter.New(llmadapter.Config{
		Tier:   llmadapter.TierConsumer,
		Hosted: llmadapter.Backend{Provider: p, Name: "mock", Model: "mock-1"},
	})
	if err != nil {
		t.Fatalf("llmadapter.New: %v", err)
	}
	return evaluate.New(evaluate.Config{Adapter: a})
}

func TestEvaluateClaims_AppliesScoring(t *testing.T) {
	t.Parallel()
	content := `[{"epistemic_value": 2, "actionability": 1, "novelty": 1, "verifiability": 9, "understandability": 8, "temporal_stability": 9, "scope": 3}]`
	e := newEvaluator(t, content)

	claims := []store.Claim{{ClaimID: "c1", CanonicalText: "Jerome Powell is the Fed chairman", Type: store.ClaimFactual}}
	if err := e.EvaluateClaims(context.Background(), "run-1", claims); err != nil {
		t.Fatalf("EvaluateClaims: %v", err)
	}

	if claims[0].Dimensions.Verifiability != 9 {
		t.Errorf("verifiability = %v, want 9", claims[0].Dimensions.Verifiability)
	}
	if claims[0].Dimensions.EpistemicValue != 2 {
		t.Errorf("epistemic_value = %v, want 2 (should stay low despite high verifiability)", claims[0].Dimensions.EpistemicValue)
	}
	if claims[0].BestProfile == "" {
		t.Error("expected BestProfile to be set by scoring.Apply")
	}
	if claims[0].Tier == "" {
		t.Error("expected Tier to be set by scoring.Apply")
	}
}

func TestEvaluateClaims_Batches(t *testing.T) {
	t.Parallel()
	content := `[{"epistemic_value": 5, "actionability": 5, "novelty": 5, "verifiability": 5, "understandability": 5, "temporal_stability": 5, "scope": 5}]`
	e := evaluate.New(evaluate.Config{
		Adapter: func() *llmadapter.Adapter {
			p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
			a, err := llmadapter.New(llmadapter.Config{
				Tier:   llmadapter.TierConsumer,
				Hosted: llmadapter.Backend{Provider: p, Name: "mock", Model: "mock-1"},
			})
			if err != nil {
				t.Fatalf("llmadapter.New: %v", err)
			}
			return a
		}(),
		BatchSize: 1,
	})

	claims := []store.Claim{
		{ClaimID: "c1", CanonicalText: "claim one"},
		{ClaimID: "c2", CanonicalText: "claim two"},
	}
	if err := e.EvaluateClaims(context.Background(), "run-1", claims); err != nil {
		t.Fatalf("EvaluateClaims: %v", err)
	}
	for i, c := range claims {
		if c.Dimensions.EpistemicValue != 5 {
			t.Errorf("claim %d epistemic_value = %v, want 5", i, c.Dimensions.EpistemicValue)
		}
	}
}

func TestEvaluateEntities_PerTypeParallel(t *testing.T) {
	t.Parallel()
	content := `[{"quality_score": 7, "attributed_to": "Warren Buffett"}]`
	e := newEvaluator(t, content)

	entities := []store.Entity{
		{EntityID: "e1", Type: store.EntityJargon, Name: "circle of competence"},
		{EntityID: "e2", Type: store.EntityPerson, Name: "Warren Buffett"},
		{EntityID: "e3", Type: store.EntityMentalModel, Name: "margin of safety"},
	}
	if err := e.EvaluateEntities(context.Background(), "run-1", entities); err != nil {
		t.Fatalf("EvaluateEntities: %v", err)
	}

	for i, ent := range entities {
		if ent.QualityScore != 7 {
			t.Errorf("entity %d quality_score = %v, want 7", i, ent.QualityScore)
		}
		if ent.AttributedTo != "Warren Buffett" {
			t.Errorf("entity %d attributed_to = %q, want %q", i, ent.AttributedTo, "Warren Buffett")
		}
	}
}

func TestEvaluateEntities_EmptyInput(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, `[]`)
	if err := e.EvaluateEntities(context.Background(), "run-1", nil); err != nil {
		t.Fatalf("EvaluateEntities: %v", err)
	}
}
