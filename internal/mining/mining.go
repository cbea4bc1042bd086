// Package mining implements the C6 Unified Miner: a single LLM call per
// transcript window that extracts claims, jargon, people, and mental
// models together, each with timestamped evidence (spec §4.6).
//
// The miner asks for JSON via explicit system-prompt instructions rather
// than a provider-level JSON-mode flag: [llm.CompletionRequest] carries no
// response-format field, and extending that stable provider interface for
// one caller would ripple through every backend. A deterministic repair
// pass tolerates the model drifting from the requested shape.
package mining

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/knowledgeminer/knowledgeminer/internal/llmadapter"
	"github.com/knowledgeminer/knowledgeminer/internal/segment"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/types"
)

// ContentType selects the prompt variant the miner uses, per spec §4.6.
type ContentType string

const (
	ContentTranscriptOwn        ContentType = "transcript_own"
	ContentTranscriptThirdParty ContentType = "transcript_third_party"
	ContentDocument             ContentType = "document"
)

var validContextTypes = map[string]bool{"exact": true, "extended": true, "segment": true}

// Config configures a [Miner].
type Config struct {
	Adapter *llmadapter.Adapter

	// Target selects which LLM Adapter backend family mining calls go
	// through. Defaults to TargetHosted.
	Target llmadapter.Target
}

// Miner runs the Unified Miner LLM call over transcript windows.
type Miner struct {
	adapter *llmadapter.Adapter
	target  llmadapter.Target
	logger  *slog.Logger
}

// New builds a Miner from cfg.
func New(cfg Config) *Miner {
	target := cfg.Target
	if target == "" {
		target = llmadapter.TargetHosted
	}
	return &Miner{
		adapter: cfg.Adapter,
		target:  target,
		logger:  slog.Default().With("component", "mining"),
	}
}

// Mine runs one Unified Miner call over win and returns the claims and
// entities it found, scoped to sourceID and ready for scoring and storage.
// Dimensions and Importance/Tier are left zero-valued; the Flagship
// Evaluator (C8) fills those in.
func (m *Miner) Mine(ctx context.Context, runID, sourceID string, win segment.Window, contentType ContentType) (*store.MinedResult, error) {
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt(contentType),
		Messages:     []types.Message{{Role: "user", Content: userPrompt(win)}},
		Temperature:  0,
	}

	resp, err := m.adapter.Complete(ctx, m.target, runID, req)
	if err != nil {
		return nil, fmt.Errorf("mining: complete: %w", err)
	}

	raw, err := parseAndRepair(resp.Content, m.logger)
	if err != nil {
		return nil, fmt.Errorf("mining: parse: %w", err)
	}

	return toMinedResult(sourceID, win, raw), nil
}

func systemPrompt(ct ContentType) string {
	var variant string
	switch ct {
	case ContentTranscriptOwn:
		variant = "The transcript is the channel owner or host speaking in their own voice; attribute claims to them by name or role when the transcript makes that clear."
	case ContentTranscriptThirdParty:
		variant = "The transcript is third-party content the uploader did not author (an interview, a panel, a guest talk); attribute claims to whichever speaker actually said them, not the uploader."
	case ContentDocument:
		variant = "The input is a written document, not a spoken transcript; there is no speaker turn-taking, so use the author or a cited source as the speaker when known, and leave it empty otherwise."
	default:
		variant = ""
	}

	return strings.TrimSpace(fmt.Sprintf(`You are the unified extraction stage of a knowledge-mining pipeline. %s

Extract every distinct claim, piece of jargon, named person, and mental model discussed in the supplied window. Respond with a single JSON object only, no surrounding prose or markdown fences, matching exactly this shape:

{
  "claims": [{"canonical": "string", "type": "factual|causal|normative|predictive|definitional", "speaker": "string", "evidence_spans": [{"t0": number, "t1": number, "quote": "string", "context_text": "string", "context_type": "exact|extended|segment"}]}],
  "jargon": [{"name": "string", "definition": "string", "domain": "string", "aliases": ["string"], "evidence_spans": [...]}],
  "people": [{"name": "string", "mentions": [{"t0": number, "t1": number, "quote": "string", "context_text": "string", "context_type": "exact|extended|segment"}]}],
  "mental_models": [{"name": "string", "definition": "string", "aliases": ["string"], "evidence_spans": [...]}]
}

Every top-level array must be present even when empty. Use the literal t0/t1 timestamps printed before each transcript line for every evidence span; do not invent timestamps.`, variant))
}

func userPrompt(win segment.Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Window %d, source time [%.2f, %.2f]:\n\n", win.Index, win.T0, win.T1)
	for _, s := range win.Segments {
		fmt.Fprintf(&b, "[%.2f-%.2f] %s\n", s.T0, s.T1, s.Text)
	}
	return b.String()
}

// rawEvidenceSpan/rawMention mirror the requested JSON shape after repair.
type rawEvidenceSpan struct {
	T0          float64 `json:"t0"`
	T1          float64 `json:"t1"`
	Quote       string  `json:"quote"`
	ContextText string  `json:"context_text"`
	ContextType string  `json:"context_type"`
}

type rawClaim struct {
	Canonical     string            `json:"canonical"`
	Type          string            `json:"type"`
	Speaker       string            `json:"speaker"`
	EvidenceSpans []rawEvidenceSpan `json:"evidence_spans"`
}

type rawJargon struct {
	Name          string            `json:"name"`
	Definition    string            `json:"definition"`
	Domain        string            `json:"domain"`
	Aliases       []string          `json:"aliases"`
	EvidenceSpans []rawEvidenceSpan `json:"evidence_spans"`
}

type rawPerson struct {
	Name     string            `json:"name"`
	Mentions []rawEvidenceSpan `json:"mentions"`
}

type rawMentalModel struct {
	Name          string            `json:"name"`
	Definition    string            `json:"definition"`
	Aliases       []string          `json:"aliases"`
	EvidenceSpans []rawEvidenceSpan `json:"evidence_spans"`
}

type rawOutput struct {
	Claims       []rawClaim       `json:"claims"`
	Jargon       []rawJargon      `json:"jargon"`
	People       []rawPerson      `json:"people"`
	MentalModels []rawMentalModel `json:"mental_models"`
}

// parseAndRepair implements spec §4.6's five-step repair pass over the raw
// model output before strict unmarshalling.
func parseAndRepair(content string, logger *slog.Logger) (*rawOutput, error) {
	content = extractJSONObject(content)

	var doc map[string]any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	// Step 1: rename a legacy "description" field to "definition" on
	// mental-model entries.
	renameField(doc, "mental_models", "description", "definition")

	// Step 2: migrate a legacy flat evidence_quote+timestamp pair into
	// evidence_spans[0] (or mentions[0] for people).
	migrateFlatEvidence(doc, "claims", "evidence_spans")
	migrateFlatEvidence(doc, "jargon", "evidence_spans")
	migrateFlatEvidence(doc, "mental_models", "evidence_spans")
	migrateFlatEvidence(doc, "people", "mentions")

	// Step 3: insert missing required top-level arrays as [].
	for _, key := range []string{"claims", "jargon", "people", "mental_models"} {
		if _, ok := doc[key]; !ok {
			doc[key] = []any{}
		}
	}

	// Step 4: normalize out-of-enum context_type values to "segment";
	// domain is free-form and passes through untouched.
	normalizeContextTypes(doc, "claims", "evidence_spans")
	normalizeContextTypes(doc, "jargon", "evidence_spans")
	normalizeContextTypes(doc, "mental_models", "evidence_spans")
	normalizeContextTypes(doc, "people", "mentions")

	// Step 4b: normalize t0/t1 to numeric seconds. The model may emit the
	// spec's "MM:SS"/"HH:MM:SS" alternative form instead of a plain number;
	// left as a string, it fails the strict float64 unmarshal below and
	// drops the whole window's evidence.
	normalizeTimestamps(doc, "claims", "evidence_spans")
	normalizeTimestamps(doc, "jargon", "evidence_spans")
	normalizeTimestamps(doc, "mental_models", "evidence_spans")
	normalizeTimestamps(doc, "people", "mentions")

	repaired, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	// Step 5: re-validate; log and return the best-effort parse anyway if
	// the shape is still broken rather than discarding the window.
	var out rawOutput
	if err := json.Unmarshal(repaired, &out); err != nil {
		logger.Warn("miner output still invalid after repair", "err", err)
		return &out, nil
	}
	return &out, nil
}

func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return s
}

func renameField(doc map[string]any, listKey, from, to string) {
	items, _ := doc[listKey].([]any)
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if _, has := obj[to]; has {
			continue
		}
		if v, ok := obj[from]; ok {
			obj[to] = v
			delete(obj, from)
		}
	}
}

func migrateFlatEvidence(doc map[string]any, listKey, spansKey string) {
	items, _ := doc[listKey].([]any)
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if _, has := obj[spansKey]; has {
			continue
		}
		quote, hasQuote := obj["evidence_quote"]
		if !hasQuote {
			obj[spansKey] = []any{}
			continue
		}
		span := map[string]any{"quote": quote, "context_type": "exact"}
		if ts, ok := obj["timestamp"]; ok {
			span["t0"] = ts
			span["t1"] = ts
		}
		obj[spansKey] = []any{span}
		delete(obj, "evidence_quote")
		delete(obj, "timestamp")
	}
}

func normalizeContextTypes(doc map[string]any, listKey, spansKey string) {
	items, _ := doc[listKey].([]any)
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		spans, ok := obj[spansKey].([]any)
		if !ok {
			obj[spansKey] = []any{}
			continue
		}
		for _, s := range spans {
			span, ok := s.(map[string]any)
			if !ok {
				continue
			}
			ct, _ := span["context_type"].(string)
			if !validContextTypes[ct] {
				span["context_type"] = "segment"
			}
		}
	}
}

// normalizeTimestamps rewrites every span's t0/t1 to a numeric number of
// seconds in place, so the strict unmarshal into rawEvidenceSpan (float64
// fields) never fails just because the model wrote "00:12" instead of 12.
func normalizeTimestamps(doc map[string]any, listKey, spansKey string) {
	items, _ := doc[listKey].([]any)
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		spans, ok := obj[spansKey].([]any)
		if !ok {
			continue
		}
		for _, s := range spans {
			span, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := parseTimestampSeconds(span["t0"]); ok {
				span["t0"] = v
			}
			if v, ok := parseTimestampSeconds(span["t1"]); ok {
				span["t1"] = v
			}
		}
	}
}

// parseTimestampSeconds converts a raw t0/t1 value into seconds. Per spec
// §3, t0/t1 may be a plain number of seconds or the "MM:SS"/"HH:MM:SS"
// alternative form; anything else reports ok=false so the caller leaves
// the field untouched rather than guess.
func parseTimestampSeconds(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return 0, false
		}
		var seconds float64
		for _, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return 0, false
			}
			seconds = seconds*60 + f
		}
		return seconds, true
	default:
		return 0, false
	}
}

func toMinedResult(sourceID string, win segment.Window, raw *rawOutput) *store.MinedResult {
	result := &store.MinedResult{SourceID: sourceID}

	for _, c := range raw.Claims {
		claim := store.Claim{
			ClaimID:       uuid.NewString(),
			SourceID:      sourceID,
			CanonicalText: c.Canonical,
			Type:          toClaimType(c.Type),
			Speaker:       c.Speaker,
			Sequence:      win.Index,
			EvidenceSpans: toEvidenceSpans(c.EvidenceSpans),
		}
		result.Claims = append(result.Claims, claim)
	}

	for _, j := range raw.Jargon {
		result.Entities = append(result.Entities, store.Entity{
			EntityID:   uuid.NewString(),
			SourceID:   sourceID,
			Type:       store.EntityJargon,
			Name:       j.Name,
			Definition: j.Definition,
			Domain:     j.Domain,
			Aliases:    j.Aliases,
			Evidence:   toEntityEvidence(j.EvidenceSpans),
		})
	}

	for _, p := range raw.People {
		result.Entities = append(result.Entities, store.Entity{
			EntityID: uuid.NewString(),
			SourceID: sourceID,
			Type:     store.EntityPerson,
			Name:     p.Name,
			Evidence: toEntityEvidence(p.Mentions),
		})
	}

	for _, mm := range raw.MentalModels {
		result.Entities = append(result.Entities, store.Entity{
			EntityID:   uuid.NewString(),
			SourceID:   sourceID,
			Type:       store.EntityMentalModel,
			Name:       mm.Name,
			Definition: mm.Definition,
			Aliases:    mm.Aliases,
			Evidence:   toEntityEvidence(mm.EvidenceSpans),
		})
	}

	return result
}

func toEvidenceSpans(spans []rawEvidenceSpan) []store.EvidenceSpan {
	out := make([]store.EvidenceSpan, len(spans))
	for i, s := range spans {
		t0, t1 := orderedSpan(s.T0, s.T1)
		out[i] = store.EvidenceSpan{
			Sequence:    i,
			T0:          t0,
			T1:          t1,
			Quote:       s.Quote,
			ContextText: s.ContextText,
			ContextType: store.ContextType(s.ContextType),
		}
	}
	return out
}

func toEntityEvidence(spans []rawEvidenceSpan) []store.EntityEvidence {
	out := make([]store.EntityEvidence, len(spans))
	for i, s := range spans {
		t0, t1 := orderedSpan(s.T0, s.T1)
		out[i] = store.EntityEvidence{
			Sequence:    i,
			T0:          t0,
			T1:          t1,
			Quote:       s.Quote,
			ContextText: s.ContextText,
			ContextType: store.ContextType(s.ContextType),
		}
	}
	return out
}

// orderedSpan swaps t0/t1 if the model emitted them reversed, so every
// stored span satisfies t0 <= t1.
func orderedSpan(t0, t1 float64) (float64, float64) {
	if t1 < t0 {
		return t1, t0
	}
	return t0, t1
}

func toClaimType(t string) store.ClaimType {
	switch store.ClaimType(t) {
	case store.ClaimFactual, store.ClaimCausal, store.ClaimNormative, store.ClaimPredictive, store.ClaimDefinitional:
		return store.ClaimType(t)
	default:
		return store.ClaimFactual
	}
}
