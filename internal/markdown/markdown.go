// Package markdown renders the two per-source Markdown artifacts spec §6.2
// describes: a transcript file (frontmatter, speaker-grouped body) and a
// summary file (frontmatter, source information, short/long summary,
// enumerated claims). Frontmatter is YAML, same library the rest of the
// module uses for configuration (gopkg.in/yaml.v3); the body is built with
// text/template, the idiomatic stdlib choice since no library anywhere in
// the example pack does Markdown templating (see DESIGN.md).
package markdown

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

// transcriptFrontmatter is the YAML header of transcript.md, per spec §6.2.
// Categories are YouTube-specific metadata the Claim Store's Source type
// does not persist separately from Tags (see DESIGN.md); the field is kept
// here, always empty, so the contract's key is present in the document.
type transcriptFrontmatter struct {
	Title       string   `yaml:"title"`
	Source      string   `yaml:"source"`
	SourceType  string   `yaml:"source_type"`
	VideoID     string   `yaml:"video_id,omitempty"`
	Uploader    string   `yaml:"uploader,omitempty"`
	UploadDate  string   `yaml:"upload_date,omitempty"`
	Duration    float64  `yaml:"duration_seconds,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	Categories  []string `yaml:"categories"`
	Description string   `yaml:"description,omitempty"`
	GeneratedAt string   `yaml:"generated_at"`
}

func sourceTypeLabel(t store.SourceType) string {
	switch t {
	case store.SourceURL:
		return "YouTube"
	case store.SourceLocalAudio, store.SourceLocalVideo:
		return "Local Audio"
	case store.SourceDocument:
		return "Document"
	default:
		return "Local Audio"
	}
}

func truncateDescription(desc string) string {
	if len(desc) <= 500 {
		return desc
	}
	return desc[:500]
}

// humanUploadDate converts yt-dlp's YYYYMMDD upload_date into a readable
// form; anything else (already-formatted dates, empty string) passes
// through unchanged.
func humanUploadDate(raw string) string {
	if len(raw) != 8 {
		return raw
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return raw
	}
	return t.Format("January 2, 2006")
}

// paragraph is one run of consecutive same-speaker segments.
type paragraph struct {
	Speaker string
	Text    string
}

var transcriptBodyTemplate = template.Must(template.New("transcript").Parse(
	`{{range .Paragraphs}}{{if .Speaker}}**{{.Speaker}}:** {{end}}{{.Text}}

{{end}}`))

// RenderTranscript builds transcript.md's full contents for source, given
// its ordered segments and the claims mined from it (used only to infer
// per-segment speaker, per spec §3: "no speaker field on segments").
func RenderTranscript(source store.Source, segments []store.Segment, claims []store.Claim) (string, error) {
	src := source.URL
	if src == "" {
		src = "Local Audio"
	}
	_, videoID, hasVideoID := strings.Cut(source.SourceID, ":")
	if !hasVideoID {
		videoID = ""
	}

	fm := transcriptFrontmatter{
		Title:       source.Title,
		Source:      src,
		SourceType:  sourceTypeLabel(source.Type),
		VideoID:     videoID,
		Uploader:    source.Uploader,
		UploadDate:  humanUploadDate(source.UploadDate),
		Duration:    source.DurationSeconds,
		Tags:        source.Tags,
		Description: truncateDescription(source.Description),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	fmYAML, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("markdown: marshal transcript frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmYAML)
	b.WriteString("---\n\n")

	if thumb := thumbnailLine(source); thumb != "" {
		b.WriteString(thumb)
		b.WriteString("\n\n")
	}

	paragraphs := groupParagraphs(segments, assignSpeakers(segments, claims))
	if err := transcriptBodyTemplate.Execute(&b, struct{ Paragraphs []paragraph }{paragraphs}); err != nil {
		return "", fmt.Errorf("markdown: render transcript body: %w", err)
	}

	return b.String(), nil
}

// thumbnailLine renders spec §6.2's "Thumbnail line ... immediately after
// frontmatter if available".
func thumbnailLine(source store.Source) string {
	if source.ThumbnailLocalPath == "" {
		return ""
	}
	_, videoID, found := strings.Cut(source.SourceID, ":")
	if !found {
		videoID = source.SourceID
	}
	return fmt.Sprintf("![Thumbnail](Thumbnails/%s.jpg)", videoID)
}

// assignSpeakers maps each segment to the speaker of whichever claim
// evidence span overlaps it most, or "" if none does. Speaker attribution
// is an LLM inference over claim evidence, not an acoustic property of the
// segment (spec §3), so this is necessarily a best-effort reconciliation
// rather than an exact join.
func assignSpeakers(segments []store.Segment, claims []store.Claim) []string {
	type span struct {
		t0, t1  float64
		speaker string
	}
	var spans []span
	for _, c := range claims {
		if c.Speaker == "" {
			continue
		}
		for _, es := range c.EvidenceSpans {
			spans = append(spans, span{t0: es.T0, t1: es.T1, speaker: c.Speaker})
		}
	}

	speakers := make([]string, len(segments))
	for i, seg := range segments {
		best := -1.0
		for _, sp := range spans {
			if seg.T0 < sp.t1 && seg.T1 > sp.t0 {
				if overlap := min(seg.T1, sp.t1) - max(seg.T0, sp.t0); overlap > best {
					best = overlap
					speakers[i] = sp.speaker
				}
			}
		}
	}
	return speakers
}

// groupParagraphs merges consecutive segments sharing the same inferred
// speaker into one paragraph, printing the speaker name once per run
// (spec §6.2: "the speaker name is shown once at the start of each run").
func groupParagraphs(segments []store.Segment, speakers []string) []paragraph {
	var out []paragraph
	for i, seg := range segments {
		speaker := ""
		if i < len(speakers) {
			speaker = speakers[i]
		}
		if len(out) > 0 && out[len(out)-1].Speaker == speaker {
			out[len(out)-1].Text += " " + seg.Text
			continue
		}
		out = append(out, paragraph{Speaker: speaker, Text: seg.Text})
	}
	return out
}

// summaryFrontmatter is the YAML header of summary.md.
type summaryFrontmatter struct {
	Title       string `yaml:"title"`
	Channel     string `yaml:"channel,omitempty"`
	Date        string `yaml:"date,omitempty"`
	SourceURL   string `yaml:"source_url,omitempty"`
	Duration    float64 `yaml:"duration_seconds,omitempty"`
	GeneratedAt string `yaml:"generated_at"`
}

// SummaryData supplies everything RenderSummary needs beyond what's in the
// Claim Store: the free-text summaries, which are produced upstream (the
// spec leaves their generation open — see DESIGN.md's Open Question
// decision) and handed in here rather than computed by this package.
type SummaryData struct {
	Source  store.Source
	Short   string
	Long    string
	Claims  []store.Claim
}

var summaryBodyTemplate = template.Must(template.New("summary").Parse(
	`## Source Information

- **Title:** {{.Source.Title}}
- **Channel:** {{.Source.Uploader}}
- **Date:** {{.Source.UploadDate}}
- **URL:** {{.Source.URL}}
- **Duration:** {{.DurationLabel}}
- **Description:** {{.Source.Description}}
- **Tags:** {{.TagsLabel}}
{{if .Source.Chapters}}- **Chapters:**
{{range .Source.Chapters}}  - {{.Start}}-{{.End}}: {{.Title}}
{{end}}{{end}}
## Summary

{{.Short}}

## Long Summary

{{.Long}}

## Claims

{{range .Claims}}- {{.CanonicalText}} — {{.Type}} | {{.Tier}} | {{.Temporality}} ({{printf "%.2f" .TemporalityConfidence}}) | importance {{printf "%.2f" .Importance}} | specificity n/a | verifiability {{printf "%.1f" .Dimensions.Verifiability}}
{{end}}`))

// RenderSummary builds summary.md's full contents, per spec §6.2.
func RenderSummary(d SummaryData) (string, error) {
	fm := summaryFrontmatter{
		Title:       d.Source.Title,
		Channel:     d.Source.Uploader,
		Date:        d.Source.UploadDate,
		SourceURL:   d.Source.URL,
		Duration:    d.Source.DurationSeconds,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	fmYAML, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("markdown: marshal summary frontmatter: %w", err)
	}

	claims := append([]store.Claim(nil), d.Claims...)
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Importance > claims[j].Importance })

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmYAML)
	b.WriteString("---\n\n")

	data := struct {
		Source        store.Source
		Short, Long   string
		Claims        []store.Claim
		DurationLabel string
		TagsLabel     string
	}{
		Source:        d.Source,
		Short:         d.Short,
		Long:          d.Long,
		Claims:        claims,
		DurationLabel: durationLabel(d.Source.DurationSeconds),
		TagsLabel:     strings.Join(d.Source.Tags, ", "),
	}

	var body bytes.Buffer
	if err := summaryBodyTemplate.Execute(&body, data); err != nil {
		return "", fmt.Errorf("markdown: render summary body: %w", err)
	}
	b.Write(body.Bytes())

	return b.String(), nil
}

func durationLabel(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}
