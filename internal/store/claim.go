package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// ClaimType enumerates the five assertion kinds the unified miner produces.
type ClaimType string

const (
	ClaimFactual      ClaimType = "factual"
	ClaimCausal       ClaimType = "causal"
	ClaimNormative    ClaimType = "normative"
	ClaimPredictive   ClaimType = "predictive"
	ClaimDefinitional ClaimType = "definitional"
)

// Temporality describes how long a claim remains true.
type Temporality string

const (
	TemporalityImmediate   Temporality = "immediate"
	TemporalityShortTerm   Temporality = "short-term"
	TemporalityMediumTerm  Temporality = "medium-term"
	TemporalityLongTerm    Temporality = "long-term"
	TemporalityTimeless    Temporality = "timeless"
)

// Tier is the A/B/C/D quality bucket derived from Importance (spec invariant 5).
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// TierForImportance implements spec invariant 5's thresholds.
func TierForImportance(importance float64) Tier {
	switch {
	case importance >= 8.0:
		return TierA
	case importance >= 6.5:
		return TierB
	case importance >= 5.0:
		return TierC
	default:
		return TierD
	}
}

// Dimensions is the seven independent evaluation axes produced by the
// Flagship Evaluator (C8) and consumed by the Multi-Profile Scorer (C7).
type Dimensions struct {
	EpistemicValue    float64
	Actionability     float64
	Novelty           float64
	Verifiability     float64
	Understandability float64
	TemporalStability float64
	Scope             float64
}

// EvidenceSpan is a timestamped quote supporting a claim (spec §3).
type EvidenceSpan struct {
	Sequence    int
	T0          float64
	T1          float64
	Quote       string
	ContextText string
	ContextType ContextType
}

// Claim is an atomic factual/causal/normative/predictive/definitional
// assertion extracted by the unified miner and scored by the evaluators.
type Claim struct {
	ClaimID               string
	SourceID              string
	CanonicalText         string
	Type                  ClaimType
	Speaker               string
	Dimensions            Dimensions
	ProfileScores         map[string]float64
	BestProfile           string
	Importance            float64
	Tier                  Tier
	Temporality           Temporality
	TemporalityConfidence float64
	Sequence              int
	EvidenceSpans         []EvidenceSpan
}

// MinedResult is everything the unified miner + evaluators produce for one
// source, ready for an atomic write via [Store.SaveMinedResult].
type MinedResult struct {
	SourceID string
	Claims   []Claim
	Entities []Entity
}

// SaveMinedResult implements the C12 Claim Store write contract: within a
// single transaction it (re-)writes every Claim and its Evidence Spans, and
// upserts every Entity (deduplicated by (source_id, entity_type,
// normalized_name)) with its Entity-Evidence rows, ordered so foreign keys
// always resolve. Immediately after commit it re-reads the claim count for
// the source and compares it against len(result.Claims); on mismatch it
// returns an [ErrVerificationFailed], matching the "storage_verification_failed_high"
// error kind (spec §4.12, §7, §8 scenario 6).
//
// Existing claims for the source are replaced on each call: spec §8
// scenario 3 (re-transcribing an already-processed source) describes "new
// Claim rows (miner reran)" without requiring old claims to be kept
// alongside stale re-extractions of the same window, so a rerun supersedes
// rather than accumulates.
func (s *Store) SaveMinedResult(ctx context.Context, result MinedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE source_id = ?`, result.SourceID); err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}

	now := time.Now()
	claimStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO claims (claim_id, source_id, canonical_text, type, speaker,
			epistemic_value, actionability, novelty, verifiability, understandability, temporal_stability, scope,
			profile_scores, best_profile, importance, tier, temporality, temporality_confidence, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}
	defer claimStmt.Close()

	evidenceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evidence_spans (claim_id, sequence, t0, t1, quote, context_text, context_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}
	defer evidenceStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO claims_fts (claim_id, canonical_text) VALUES (?, ?)`)
	if err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}
	defer ftsStmt.Close()

	for _, c := range result.Claims {
		profileJSON, _ := json.Marshal(c.ProfileScores)
		_, err := claimStmt.ExecContext(ctx,
			c.ClaimID, result.SourceID, c.CanonicalText, c.Type, c.Speaker,
			c.Dimensions.EpistemicValue, c.Dimensions.Actionability, c.Dimensions.Novelty,
			c.Dimensions.Verifiability, c.Dimensions.Understandability, c.Dimensions.TemporalStability, c.Dimensions.Scope,
			string(profileJSON), c.BestProfile, c.Importance, c.Tier, c.Temporality, c.TemporalityConfidence,
			c.Sequence, nowRFC3339(now))
		if err != nil {
			return NewStorageError("sqlite", "save_mined_result", err)
		}
		for _, ev := range c.EvidenceSpans {
			if _, err := evidenceStmt.ExecContext(ctx, c.ClaimID, ev.Sequence, ev.T0, ev.T1, ev.Quote, ev.ContextText, ev.ContextType); err != nil {
				return NewStorageError("sqlite", "save_mined_result", err)
			}
		}
		if _, err := ftsStmt.ExecContext(ctx, c.ClaimID, c.CanonicalText); err != nil {
			return NewStorageError("sqlite", "save_mined_result", err)
		}
	}

	if err := saveEntitiesTx(ctx, tx, result.SourceID, result.Entities); err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "save_mined_result", err)
	}

	// Post-commit verification contract (spec §4.12).
	var got int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE source_id = ?`, result.SourceID).Scan(&got); err != nil {
		return NewStorageError("sqlite", "verify_claim_count", err)
	}
	if got != len(result.Claims) {
		return &ErrVerificationFailed{SourceID: result.SourceID, Expected: len(result.Claims), Got: got}
	}

	return nil
}

func saveEntitiesTx(ctx context.Context, tx *sql.Tx, sourceID string, entities []Entity) error {
	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (entity_id, source_id, entity_type, name, normalized_name, definition, domain, aliases, attributed_to, quality_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, entity_type, normalized_name) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			domain = excluded.domain,
			aliases = excluded.aliases,
			attributed_to = excluded.attributed_to,
			quality_score = excluded.quality_score`)
	if err != nil {
		return err
	}
	defer upsertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `
		SELECT entity_id FROM entities WHERE source_id = ? AND entity_type = ? AND normalized_name = ?`)
	if err != nil {
		return err
	}
	defer idStmt.Close()

	clearEvidenceStmt, err := tx.PrepareContext(ctx, `DELETE FROM entity_evidence WHERE entity_id = ?`)
	if err != nil {
		return err
	}
	defer clearEvidenceStmt.Close()

	evidenceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_evidence (entity_id, sequence, claim_id, t0, t1, quote, context_text, context_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evidenceStmt.Close()

	now := time.Now()
	for _, e := range entities {
		normalized := NormalizedName(e.Name)
		aliases, _ := json.Marshal(e.Aliases)

		_, err := upsertStmt.ExecContext(ctx, e.EntityID, sourceID, e.Type, e.Name, normalized,
			e.Definition, e.Domain, string(aliases), e.AttributedTo, e.QualityScore, nowRFC3339(now))
		if err != nil {
			return err
		}

		var resolvedID string
		if err := idStmt.QueryRowContext(ctx, sourceID, e.Type, normalized).Scan(&resolvedID); err != nil {
			return err
		}

		if _, err := clearEvidenceStmt.ExecContext(ctx, resolvedID); err != nil {
			return err
		}
		for _, ev := range e.Evidence {
			var claimID any
			if ev.ClaimID != "" {
				claimID = ev.ClaimID
			}
			if _, err := evidenceStmt.ExecContext(ctx, resolvedID, ev.Sequence, claimID, ev.T0, ev.T1, ev.Quote, ev.ContextText, ev.ContextType); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetClaims returns every claim for a source, each with its evidence spans
// populated, ordered by Sequence (the "claim-evidence round trip" testable
// property of spec §8).
func (s *Store) GetClaims(ctx context.Context, sourceID string) ([]Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT claim_id, canonical_text, type, speaker,
			epistemic_value, actionability, novelty, verifiability, understandability, temporal_stability, scope,
			profile_scores, best_profile, importance, tier, temporality, temporality_confidence, sequence
		FROM claims WHERE source_id = ? ORDER BY sequence`, sourceID)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_claims", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		var profileJSON sql.NullString
		var speaker, bestProfile, temporality, tier sql.NullString
		c.SourceID = sourceID
		err := rows.Scan(&c.ClaimID, &c.CanonicalText, &c.Type, &speaker,
			&c.Dimensions.EpistemicValue, &c.Dimensions.Actionability, &c.Dimensions.Novelty,
			&c.Dimensions.Verifiability, &c.Dimensions.Understandability, &c.Dimensions.TemporalStability, &c.Dimensions.Scope,
			&profileJSON, &bestProfile, &c.Importance, &tier, &temporality, &c.TemporalityConfidence, &c.Sequence)
		if err != nil {
			return nil, NewStorageError("sqlite", "get_claims", err)
		}
		c.Speaker = speaker.String
		c.BestProfile = bestProfile.String
		c.Temporality = Temporality(temporality.String)
		c.Tier = Tier(tier.String)
		if profileJSON.Valid && profileJSON.String != "" {
			json.Unmarshal([]byte(profileJSON.String), &c.ProfileScores)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "get_claims", err)
	}

	for i := range claims {
		spans, err := s.getEvidenceSpans(ctx, claims[i].ClaimID)
		if err != nil {
			return nil, err
		}
		claims[i].EvidenceSpans = spans
	}
	return claims, nil
}

func (s *Store) getEvidenceSpans(ctx context.Context, claimID string) ([]EvidenceSpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, t0, t1, quote, context_text, context_type
		FROM evidence_spans WHERE claim_id = ? ORDER BY sequence`, claimID)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_evidence_spans", err)
	}
	defer rows.Close()

	var spans []EvidenceSpan
	for rows.Next() {
		var ev EvidenceSpan
		var contextText sql.NullString
		if err := rows.Scan(&ev.Sequence, &ev.T0, &ev.T1, &ev.Quote, &contextText, &ev.ContextType); err != nil {
			return nil, NewStorageError("sqlite", "get_evidence_spans", err)
		}
		ev.ContextText = contextText.String
		spans = append(spans, ev)
	}
	return spans, rows.Err()
}

// GetEntities returns every entity of the given type for a source, with
// their evidence occurrences populated.
func (s *Store) GetEntities(ctx context.Context, sourceID string, entityType EntityType) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, name, definition, domain, aliases, attributed_to, quality_score
		FROM entities WHERE source_id = ? AND entity_type = ? ORDER BY name`, sourceID, entityType)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_entities", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var aliasesJSON, definition, domain, attributedTo sql.NullString
		e.SourceID = sourceID
		e.Type = entityType
		if err := rows.Scan(&e.EntityID, &e.Name, &definition, &domain, &aliasesJSON, &attributedTo, &e.QualityScore); err != nil {
			return nil, NewStorageError("sqlite", "get_entities", err)
		}
		e.Definition = definition.String
		e.Domain = domain.String
		e.AttributedTo = attributedTo.String
		if aliasesJSON.Valid && aliasesJSON.String != "" {
			json.Unmarshal([]byte(aliasesJSON.String), &e.Aliases)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "get_entities", err)
	}

	for i := range entities {
		ev, err := s.getEntityEvidence(ctx, entities[i].EntityID)
		if err != nil {
			return nil, err
		}
		entities[i].Evidence = ev
	}
	return entities, nil
}

func (s *Store) getEntityEvidence(ctx context.Context, entityID string) ([]EntityEvidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, claim_id, t0, t1, quote, context_text, context_type
		FROM entity_evidence WHERE entity_id = ? ORDER BY sequence`, entityID)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_entity_evidence", err)
	}
	defer rows.Close()

	var out []EntityEvidence
	for rows.Next() {
		var ev EntityEvidence
		var claimID, contextText sql.NullString
		if err := rows.Scan(&ev.Sequence, &claimID, &ev.T0, &ev.T1, &ev.Quote, &contextText, &ev.ContextType); err != nil {
			return nil, NewStorageError("sqlite", "get_entity_evidence", err)
		}
		ev.ClaimID = claimID.String
		ev.ContextText = contextText.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpdateClaimScores persists the Dimensions, ProfileScores, BestProfile,
// Importance and Tier fields the Flagship Evaluator and Multi-Profile
// Scorer computed for claims, by ClaimID. EvaluateClaims only mutates its
// argument slice in memory (scoring.Apply writes through a pointer into the
// caller's own []Claim); without this write-back a later GetClaims call —
// driven by Markdown rendering or export — would see the unscored rows
// SaveMinedResult originally wrote.
func (s *Store) UpdateClaimScores(ctx context.Context, claims []Claim) error {
	if len(claims) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "update_claim_scores", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE claims SET
			epistemic_value = ?, actionability = ?, novelty = ?, verifiability = ?,
			understandability = ?, temporal_stability = ?, scope = ?,
			profile_scores = ?, best_profile = ?, importance = ?, tier = ?
		WHERE claim_id = ?`)
	if err != nil {
		return NewStorageError("sqlite", "update_claim_scores", err)
	}
	defer stmt.Close()

	for _, c := range claims {
		profileJSON, _ := json.Marshal(c.ProfileScores)
		if _, err := stmt.ExecContext(ctx,
			c.Dimensions.EpistemicValue, c.Dimensions.Actionability, c.Dimensions.Novelty,
			c.Dimensions.Verifiability, c.Dimensions.Understandability, c.Dimensions.TemporalStability, c.Dimensions.Scope,
			string(profileJSON), c.BestProfile, c.Importance, c.Tier, c.ClaimID); err != nil {
			return NewStorageError("sqlite", "update_claim_scores", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "update_claim_scores", err)
	}
	return nil
}

// UpdateEntityScores persists the QualityScore and AttributedTo fields the
// Entity Evaluator computed, by EntityID. Mirrors UpdateClaimScores: without
// it, EvaluateEntities' in-memory mutation of its argument slice never
// reaches a later GetEntities call.
func (s *Store) UpdateEntityScores(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "update_entity_scores", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE entities SET quality_score = ?, attributed_to = ? WHERE entity_id = ?`)
	if err != nil {
		return NewStorageError("sqlite", "update_entity_scores", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, e.QualityScore, e.AttributedTo, e.EntityID); err != nil {
			return NewStorageError("sqlite", "update_entity_scores", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "update_entity_scores", err)
	}
	return nil
}
