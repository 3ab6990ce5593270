// Package analysis turns a symptom submission into structured guidance.
// Analyzers are tried in order by a Chain; a language model is preferred and
// the rule-based analyzer is the offline fallback.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/malaise/internal/episode"
)

// Disclaimer is attached to every result regardless of source.
const Disclaimer = "This is not a medical diagnosis. If symptoms are severe or you are worried, contact a healthcare professional."

// Request is the input to an analyzer.
type Request struct {
	Symptoms []string
	Notes    string
	// Progression is set when the entry joins an episode with prior entries.
	Progression *episode.Progression
}

// Result is the structured analysis of one submission.
type Result struct {
	Severity                *episode.Severity `json:"severity,omitempty"`
	Analysis                string            `json:"analysis"`
	DailySummary            string            `json:"daily_summary,omitempty"`
	SelfCareTips            []string          `json:"self_care_tips,omitempty"`
	WhenToSeekCare          string            `json:"when_to_seek_care,omitempty"`
	EpisodeTitle            string            `json:"episode_title,omitempty"`
	EpisodeSummary          string            `json:"episode_summary,omitempty"`
	EstimatedRecoveryWindow string            `json:"estimated_recovery_window,omitempty"`
	Disclaimer              string            `json:"disclaimer"`
	// Source names the analyzer that produced the result.
	Source string `json:"source"`
}

// EpisodeSummaryText is the text kept as the episode's summary: the
// episode summary, else the daily summary, else the analysis.
func (r *Result) EpisodeSummaryText() string {
	for _, s := range []string{r.EpisodeSummary, r.DailySummary, r.Analysis} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Analyzer produces a Result for a Request.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// modelResponse is the JSON object language models are asked to return.
type modelResponse struct {
	Severity                string   `json:"severity" jsonschema:"enum=low,enum=moderate,enum=high"`
	Analysis                string   `json:"analysis"`
	DailySummary            string   `json:"daily_summary"`
	SelfCareTips            []string `json:"self_care_tips"`
	WhenToSeekCare          string   `json:"when_to_seek_care"`
	EpisodeTitle            string   `json:"episode_title"`
	EpisodeSummary          string   `json:"episode_summary"`
	EstimatedRecoveryWindow string   `json:"estimated_recovery_window"`
}

func (r modelResponse) result() *Result {
	tips := make([]string, 0, len(r.SelfCareTips))
	for _, t := range r.SelfCareTips {
		if t = strings.TrimSpace(t); t != "" {
			tips = append(tips, t)
		}
	}
	return &Result{
		Severity:                episode.ParseSeverity(r.Severity),
		Analysis:                strings.TrimSpace(r.Analysis),
		DailySummary:            strings.TrimSpace(r.DailySummary),
		SelfCareTips:            tips,
		WhenToSeekCare:          strings.TrimSpace(r.WhenToSeekCare),
		EpisodeTitle:            strings.TrimSpace(r.EpisodeTitle),
		EpisodeSummary:          strings.TrimSpace(r.EpisodeSummary),
		EstimatedRecoveryWindow: strings.TrimSpace(r.EstimatedRecoveryWindow),
	}
}

const systemPrompt = `You are a cautious symptom-tracking assistant. You do not diagnose.

Given the symptoms a person logged today, optional notes, and optionally how their current illness episode has progressed, respond with a single JSON object with these fields:
- severity: one of "low", "moderate", "high"
- analysis: 2-4 sentences describing what the symptoms may suggest, in plain language
- daily_summary: one sentence summarising today
- self_care_tips: 2-5 short, practical tips
- when_to_seek_care: the warning signs that should prompt contacting a professional
- episode_title: a short name for the illness episode (e.g. "Common Cold"), or "" if unclear
- episode_summary: 1-3 sentences summarising the whole episode so far
- estimated_recovery_window: e.g. "3-5 days", or "" if unknown

Rules:
- Never claim certainty or name a definitive diagnosis.
- Rate severity "high" for red-flag symptoms such as chest pain, difficulty breathing, confusion or fainting.
- Output JSON only, no prose around it.`

// buildPrompt renders the user turn shared by the model-backed analyzers.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symptoms today: %s\n", strings.Join(req.Symptoms, ", "))
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", notes)
	}

	p := req.Progression
	if p == nil {
		b.WriteString("\nThis is the first entry of a new episode.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nEpisode progression (day %d, trend %s): %s\n", p.DayNumber, p.Trend, p.ProgressionSummary)
	if len(p.NewSymptoms) > 0 {
		fmt.Fprintf(&b, "New since last entry: %s\n", strings.Join(p.NewSymptoms, ", "))
	}
	if len(p.ResolvedSymptoms) > 0 {
		fmt.Fprintf(&b, "Resolved since last entry: %s\n", strings.Join(p.ResolvedSymptoms, ", "))
	}
	if len(p.OngoingSymptoms) > 0 {
		fmt.Fprintf(&b, "Ongoing: %s\n", strings.Join(p.OngoingSymptoms, ", "))
	}
	if len(p.PreviousEntries) > 0 {
		b.WriteString("\nPrevious entries:\n")
		for _, e := range p.PreviousEntries {
			fmt.Fprintf(&b, "- %s: %s", e.Date, strings.Join(e.Symptoms, ", "))
			if e.Notes != nil && *e.Notes != "" {
				fmt.Fprintf(&b, " (notes: %s)", *e.Notes)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// decodeModelJSON unmarshals model output, falling back to the first
// top-level JSON object when the model wrapped it in prose or fences.
func decodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}

// parseModelOutput decodes a model reply into a Result. A reply without any
// analysis text is treated as a failure so the chain can fall back.
func parseModelOutput(outputText string) (*Result, error) {
	var resp modelResponse
	if err := decodeModelJSON(outputText, &resp); err != nil {
		return nil, err
	}
	res := resp.result()
	if res.Analysis == "" {
		return nil, fmt.Errorf("model output has no analysis")
	}
	return res, nil
}
