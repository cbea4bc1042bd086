package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

func newClaimTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(&store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSource(t *testing.T, s *store.Store, sourceID string) {
	t.Helper()
	if _, err := s.GetOrCreateSource(context.Background(), store.Source{SourceID: sourceID, Type: store.SourceURL, URL: "https://example.com"}); err != nil {
		t.Fatalf("GetOrCreateSource: %v", err)
	}
}

func TestSaveMinedResult_RoundTripsClaimsAndEntities(t *testing.T) {
	s := newClaimTestStore(t)
	ctx := context.Background()
	seedSource(t, s, "src-1")

	result := store.MinedResult{
		SourceID: "src-1",
		Claims: []store.Claim{
			{
				ClaimID:       "c1",
				CanonicalText: "Inflation expectations matter more than realized inflation",
				Type:          store.ClaimCausal,
				Speaker:       "Host",
				Sequence:      0,
				EvidenceSpans: []store.EvidenceSpan{
					{Sequence: 0, T0: 1.0, T1: 4.5, Quote: "expectations matter more", ContextType: store.ContextExact},
				},
			},
		},
		Entities: []store.Entity{
			{
				EntityID:   "e1",
				Type:       store.EntityJargon,
				Name:       "circle of competence",
				Definition: "the boundary of what you understand well enough to judge",
				Evidence: []store.EntityEvidence{
					{Sequence: 0, ClaimID: "c1", T0: 1.0, T1: 4.5, Quote: "circle of competence", ContextType: store.ContextExact},
				},
			},
		},
	}
	if err := s.SaveMinedResult(ctx, result); err != nil {
		t.Fatalf("SaveMinedResult: %v", err)
	}

	claims, err := s.GetClaims(ctx, "src-1")
	if err != nil {
		t.Fatalf("GetClaims: %v", err)
	}
	if len(claims) != 1 || len(claims[0].EvidenceSpans) != 1 {
		t.Fatalf("claims = %+v, want one claim with one evidence span", claims)
	}

	entities, err := s.GetEntities(ctx, "src-1", store.EntityJargon)
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(entities) != 1 || len(entities[0].Evidence) != 1 {
		t.Fatalf("entities = %+v, want one entity with one evidence row", entities)
	}
}

func TestUpdateClaimScores_PersistsEvaluatorOutput(t *testing.T) {
	s := newClaimTestStore(t)
	ctx := context.Background()
	seedSource(t, s, "src-1")

	if err := s.SaveMinedResult(ctx, store.MinedResult{
		SourceID: "src-1",
		Claims:   []store.Claim{{ClaimID: "c1", CanonicalText: "claim text", Type: store.ClaimFactual}},
	}); err != nil {
		t.Fatalf("SaveMinedResult: %v", err)
	}

	claims, err := s.GetClaims(ctx, "src-1")
	if err != nil {
		t.Fatalf("GetClaims: %v", err)
	}
	claims[0].Dimensions = store.Dimensions{EpistemicValue: 8, Verifiability: 9}
	claims[0].ProfileScores = map[string]float64{"investor": 7.5}
	claims[0].BestProfile = "investor"
	claims[0].Importance = 8.4
	claims[0].Tier = store.TierA

	if err := s.UpdateClaimScores(ctx, claims); err != nil {
		t.Fatalf("UpdateClaimScores: %v", err)
	}

	reread, err := s.GetClaims(ctx, "src-1")
	if err != nil {
		t.Fatalf("GetClaims after update: %v", err)
	}
	if len(reread) != 1 {
		t.Fatalf("reread = %+v, want one claim", reread)
	}
	got := reread[0]
	if got.Dimensions.EpistemicValue != 8 || got.Dimensions.Verifiability != 9 {
		t.Errorf("Dimensions = %+v, want updated values to persist", got.Dimensions)
	}
	if got.BestProfile != "investor" || got.Tier != store.TierA || got.Importance != 8.4 {
		t.Errorf("BestProfile/Tier/Importance = %q/%q/%v, want investor/A/8.4", got.BestProfile, got.Tier, got.Importance)
	}
	if got.ProfileScores["investor"] != 7.5 {
		t.Errorf("ProfileScores = %+v, want investor:7.5", got.ProfileScores)
	}
}

func TestUpdateClaimScores_EmptyIsNoop(t *testing.T) {
	s := newClaimTestStore(t)
	if err := s.UpdateClaimScores(context.Background(), nil); err != nil {
		t.Fatalf("UpdateClaimScores(nil): %v", err)
	}
}

func TestUpdateEntityScores_PersistsEvaluatorOutput(t *testing.T) {
	s := newClaimTestStore(t)
	ctx := context.Background()
	seedSource(t, s, "src-1")

	if err := s.SaveMinedResult(ctx, store.MinedResult{
		SourceID: "src-1",
		Entities: []store.Entity{{EntityID: "e1", Type: store.EntityPerson, Name: "Warren Buffett"}},
	}); err != nil {
		t.Fatalf("SaveMinedResult: %v", err)
	}

	entities, err := s.GetEntities(ctx, "src-1", store.EntityPerson)
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	entities[0].QualityScore = 9
	entities[0].AttributedTo = "the host"

	if err := s.UpdateEntityScores(ctx, entities); err != nil {
		t.Fatalf("UpdateEntityScores: %v", err)
	}

	reread, err := s.GetEntities(ctx, "src-1", store.EntityPerson)
	if err != nil {
		t.Fatalf("GetEntities after update: %v", err)
	}
	if len(reread) != 1 || reread[0].QualityScore != 9 || reread[0].AttributedTo != "the host" {
		t.Fatalf("reread = %+v, want quality_score 9 and attributed_to %q", reread, "the host")
	}
}

func TestUpdateEntityScores_EmptyIsNoop(t *testing.T) {
	s := newClaimTestStore(t)
	if err := s.UpdateEntityScores(context.Background(), nil); err != nil {
		t.Fatalf("UpdateEntityScores(nil): %v", err)
	}
}
