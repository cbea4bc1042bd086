package store

import "context"

// Export is the batch JSON envelope described in spec §6.4: a Source plus
// every Claim (with dimensions, profile scores, tier, and evidence spans)
// and every entity of each type, ready for upload or for a device-side
// reader that never touches SQLite directly.
type Export struct {
	Source       Source   `json:"source"`
	Claims       []Claim  `json:"claims"`
	JargonTerms  []Entity `json:"jargon_terms"`
	People       []Entity `json:"people"`
	MentalModels []Entity `json:"mental_models"`
}

// BuildExport assembles the full export envelope for one source. It is the
// single read path both the HTTP uploader (internal/export) and any local
// `export` CLI invocation go through, so the envelope shape never drifts
// between the two.
func (s *Store) BuildExport(ctx context.Context, sourceID string) (*Export, error) {
	src, err := s.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	claims, err := s.GetClaims(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	jargon, err := s.GetEntities(ctx, sourceID, EntityJargon)
	if err != nil {
		return nil, err
	}
	people, err := s.GetEntities(ctx, sourceID, EntityPerson)
	if err != nil {
		return nil, err
	}
	mentalModels, err := s.GetEntities(ctx, sourceID, EntityMentalModel)
	if err != nil {
		return nil, err
	}

	return &Export{
		Source:       *src,
		Claims:       claims,
		JargonTerms:  jargon,
		People:       people,
		MentalModels: mentalModels,
	}, nil
}
