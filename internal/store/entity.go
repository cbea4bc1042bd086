package store

import "strings"

// EntityType enumerates the three named-entity categories the unified
// miner produces (spec §3).
type EntityType string

const (
	EntityJargon      EntityType = "jargon"
	EntityPerson      EntityType = "person"
	EntityMentalModel EntityType = "mental_model"
)

// ContextType classifies how much surrounding text an evidence quote carries.
type ContextType string

const (
	ContextExact    ContextType = "exact"
	ContextExtended ContextType = "extended"
	ContextSegment  ContextType = "segment"
)

// EntityEvidence is one occurrence of an entity in the source. Unlike
// claims, every occurrence is stored, not just the first mention (spec §3).
type EntityEvidence struct {
	Sequence    int
	ClaimID     string // optional: the claim this mention co-occurred with, if any
	T0          float64
	T1          float64
	Quote       string
	ContextText string
	ContextType ContextType
}

// Entity is a named jargon term, person, or mental model (spec §3).
type Entity struct {
	EntityID     string
	SourceID     string
	Type         EntityType
	Name         string
	Definition   string // jargon, mental_model
	Domain       string // free-form; no enum (spec §9 "Free-form domain field")
	Aliases      []string
	AttributedTo string // introduced_by (jargon) | mentioned_by (person) | advocated_by (mental_model)
	QualityScore float64
	Evidence     []EntityEvidence
}

// NormalizedName is the dedup key used by (source_id, entity_type,
// normalized_name): lowercased, trimmed, internal whitespace collapsed.
func NormalizedName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, " ")
}
