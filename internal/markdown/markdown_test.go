package markdown_test

import (
	"strings"
	"testing"

	"github.com/knowledgeminer/knowledgeminer/internal/markdown"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

func testSource() store.Source {
	return store.Source{
		SourceID:           "youtube:abc123",
		URL:                "https://youtube.com/watch?v=abc123",
		Title:              "A Conversation About Interest Rates",
		Uploader:           "Some Channel",
		UploadDate:         "20260115",
		DurationSeconds:    600,
		Tags:               []string{"economics", "policy"},
		ThumbnailLocalPath: "/data/thumbs/abc123.jpg",
		Description:        "A long discussion.",
		Chapters: []store.Chapter{
			{Title: "Intro", Start: 0, End: 30},
		},
	}
}

func TestRenderTranscript_IncludesFrontmatterAndThumbnail(t *testing.T) {
	src := testSource()
	segs := []store.Segment{
		{SourceID: src.SourceID, SegmentID: 0, T0: 0, T1: 5, Text: "Welcome to the show."},
		{SourceID: src.SourceID, SegmentID: 1, T0: 5, T1: 10, Text: "Today we discuss rates."},
	}

	out, err := markdown.RenderTranscript(src, segs, nil)
	if err != nil {
		t.Fatalf("RenderTranscript: %v", err)
	}

	if !strings.HasPrefix(out, "---\n") {
		t.Fatalf("expected frontmatter delimiter at start, got: %q", out[:20])
	}
	if !strings.Contains(out, "title: A Conversation About Interest Rates") {
		t.Errorf("missing title in frontmatter:\n%s", out)
	}
	if !strings.Contains(out, "source_type: YouTube") {
		t.Errorf("missing source_type in frontmatter:\n%s", out)
	}
	if !strings.Contains(out, "upload_date: January 15, 2026") {
		t.Errorf("expected human-formatted upload_date:\n%s", out)
	}
	if !strings.Contains(out, "![Thumbnail](Thumbnails/abc123.jpg)") {
		t.Errorf("missing thumbnail line:\n%s", out)
	}
	if strings.Contains(out, "\n# ") {
		t.Error("transcript body must not contain an H1 heading")
	}
	if !strings.Contains(out, "Welcome to the show.") || !strings.Contains(out, "Today we discuss rates.") {
		t.Errorf("missing segment text:\n%s", out)
	}
}

func TestRenderTranscript_GroupsConsecutiveSameSpeaker(t *testing.T) {
	src := testSource()
	src.ThumbnailLocalPath = ""
	segs := []store.Segment{
		{SegmentID: 0, T0: 0, T1: 5, Text: "First sentence."},
		{SegmentID: 1, T0: 5, T1: 10, Text: "Second sentence."},
		{SegmentID: 2, T0: 10, T1: 15, Text: "Third sentence from someone else."},
	}
	claims := []store.Claim{
		{
			Speaker: "Alice",
			EvidenceSpans: []store.EvidenceSpan{
				{T0: 0, T1: 10, Quote: "First sentence. Second sentence."},
			},
		},
		{
			Speaker: "Bob",
			EvidenceSpans: []store.EvidenceSpan{
				{T0: 10, T1: 15, Quote: "Third sentence from someone else."},
			},
		},
	}

	out, err := markdown.RenderTranscript(src, segs, claims)
	if err != nil {
		t.Fatalf("RenderTranscript: %v", err)
	}

	aliceIdx := strings.Index(out, "**Alice:**")
	bobIdx := strings.Index(out, "**Bob:**")
	if aliceIdx == -1 || bobIdx == -1 {
		t.Fatalf("expected both speaker labels present:\n%s", out)
	}
	if aliceIdx > bobIdx {
		t.Errorf("expected Alice's paragraph before Bob's:\n%s", out)
	}
	if strings.Count(out, "**Alice:**") != 1 {
		t.Errorf("expected Alice's two segments merged into one paragraph, got separate labels:\n%s", out)
	}
}

func TestRenderTranscript_UnattributedSegmentHasNoSpeakerLabel(t *testing.T) {
	src := testSource()
	src.ThumbnailLocalPath = ""
	segs := []store.Segment{{SegmentID: 0, T0: 0, T1: 5, Text: "No claim covers this."}}

	out, err := markdown.RenderTranscript(src, segs, nil)
	if err != nil {
		t.Fatalf("RenderTranscript: %v", err)
	}
	if strings.Contains(out, "**") {
		t.Errorf("expected no speaker label for unattributed segment:\n%s", out)
	}
	if !strings.Contains(out, "No claim covers this.") {
		t.Errorf("missing segment text:\n%s", out)
	}
}

func TestRenderSummary_IncludesSourceInfoAndClaims(t *testing.T) {
	src := testSource()
	claims := []store.Claim{
		{
			CanonicalText:         "Rates will rise next quarter.",
			Type:                  store.ClaimPredictive,
			Tier:                  store.TierA,
			Temporality:           store.TemporalityShortTerm,
			TemporalityConfidence: 0.8,
			Importance:            8.5,
			Dimensions:            store.Dimensions{Verifiability: 6},
		},
		{
			CanonicalText:         "Inflation is a monetary phenomenon.",
			Type:                  store.ClaimFactual,
			Tier:                  store.TierB,
			Temporality:           store.TemporalityTimeless,
			TemporalityConfidence: 0.95,
			Importance:            7.0,
			Dimensions:            store.Dimensions{Verifiability: 4},
		},
	}

	out, err := markdown.RenderSummary(markdown.SummaryData{
		Source: src,
		Short:  "A short summary.",
		Long:   "A much longer summary with more context.",
		Claims: claims,
	})
	if err != nil {
		t.Fatalf("RenderSummary: %v", err)
	}

	if !strings.Contains(out, "## Source Information") {
		t.Errorf("missing Source Information section:\n%s", out)
	}
	if !strings.Contains(out, "A short summary.") || !strings.Contains(out, "A much longer summary") {
		t.Errorf("missing summary text:\n%s", out)
	}
	if !strings.Contains(out, "Rates will rise next quarter.") {
		t.Errorf("missing claim text:\n%s", out)
	}
	if !strings.Contains(out, "predictive | A | short-term (0.80)") {
		t.Errorf("missing claim metadata line in expected format:\n%s", out)
	}

	// Higher-importance claim should be listed first.
	riseIdx := strings.Index(out, "Rates will rise")
	inflationIdx := strings.Index(out, "Inflation is a monetary")
	if riseIdx == -1 || inflationIdx == -1 || riseIdx > inflationIdx {
		t.Errorf("expected claims sorted by descending importance:\n%s", out)
	}
}

func TestRenderSummary_EmptyClaims(t *testing.T) {
	out, err := markdown.RenderSummary(markdown.SummaryData{Source: testSource()})
	if err != nil {
		t.Fatalf("RenderSummary: %v", err)
	}
	if !strings.Contains(out, "## Claims") {
		t.Errorf("expected Claims section header even when empty:\n%s", out)
	}
}
