package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/malaise/internal/episode"
)

// redFlags are symptoms that always rate high severity.
var redFlags = []string{
	"chest pain",
	"difficulty breathing",
	"shortness of breath",
	"confusion",
	"fainting",
	"seizure",
	"coughing blood",
	"stiff neck",
}

// tips maps a symptom keyword to self-care advice. Order matters for output.
var tips = []struct {
	keyword string
	tip     string
}{
	{"fever", "Rest, drink plenty of fluids and monitor your temperature."},
	{"cough", "Warm drinks with honey can soothe a cough."},
	{"sore throat", "Gargle with warm salt water a few times a day."},
	{"headache", "Rest in a quiet, dark room and stay hydrated."},
	{"nausea", "Eat small, bland meals and sip clear fluids."},
	{"diarrhea", "Replace lost fluids with water or oral rehydration solution."},
	{"congestion", "Steam inhalation or saline spray can ease congestion."},
	{"fatigue", "Prioritise sleep and reduce strenuous activity."},
}

const genericTip = "Rest and stay hydrated."

// Rules is a deterministic analyzer that works offline. It never fails.
type Rules struct{}

// Name implements Analyzer.
func (Rules) Name() string { return "rules" }

// Analyze implements Analyzer.
func (Rules) Analyze(_ context.Context, req Request) (*Result, error) {
	lower := make([]string, len(req.Symptoms))
	for i, s := range req.Symptoms {
		lower[i] = strings.ToLower(s)
	}
	haystack := strings.Join(lower, "\n") + "\n" + strings.ToLower(req.Notes)

	severity := rulesSeverity(haystack, len(req.Symptoms), req.Progression)

	var analysis strings.Builder
	fmt.Fprintf(&analysis, "You reported %s.", strings.Join(req.Symptoms, ", "))
	if req.Progression != nil {
		fmt.Fprintf(&analysis, " %s", req.Progression.ProgressionSummary)
	}
	if severity == episode.SeverityHigh {
		analysis.WriteString(" Some of these symptoms can be serious.")
	}

	res := &Result{
		Severity:       &severity,
		Analysis:       analysis.String(),
		DailySummary:   fmt.Sprintf("%d symptom(s) logged, severity %s.", len(req.Symptoms), severity),
		SelfCareTips:   rulesTips(haystack),
		WhenToSeekCare: "Seek care promptly for chest pain, difficulty breathing, confusion, fainting, or symptoms that keep getting worse.",
	}
	if severity == episode.SeverityHigh {
		res.WhenToSeekCare = "Contact a healthcare professional or emergency services now."
	}
	return res, nil
}

func rulesSeverity(haystack string, count int, p *episode.Progression) episode.Severity {
	for _, flag := range redFlags {
		if strings.Contains(haystack, flag) {
			return episode.SeverityHigh
		}
	}
	if count >= 4 || (p != nil && p.Trend == episode.TrendWorsening && p.DayNumber >= 3) {
		return episode.SeverityModerate
	}
	return episode.SeverityLow
}

func rulesTips(haystack string) []string {
	var out []string
	for _, t := range tips {
		if strings.Contains(haystack, t.keyword) {
			out = append(out, t.tip)
		}
	}
	if len(out) == 0 {
		out = append(out, genericTip)
	}
	return out
}
