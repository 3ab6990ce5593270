package episode

import (
	"context"
	"fmt"
	"strings"
)

// Progression describes how a new symptom set differs from the most recent
// prior entry of an episode. It is handed to the analyzer as context.
type Progression struct {
	EpisodeID          string         `json:"episode_id"`
	DayNumber          int            `json:"day_number"`
	NewSymptoms        []string       `json:"new_symptoms"`
	ResolvedSymptoms   []string       `json:"resolved_symptoms"`
	OngoingSymptoms    []string       `json:"ongoing_symptoms"`
	Trend              Trend          `json:"trend"`
	ProgressionSummary string         `json:"progression_summary"`
	PreviousEntries    []SymptomEntry `json:"previous_entries"`
}

// AnalyzeEpisodeProgression compares currentSymptoms with the latest prior
// entry of the episode. It returns nil when the episode has no entries yet.
func (m *Manager) AnalyzeEpisodeProgression(ctx context.Context, episodeID string, currentSymptoms []string) (*Progression, error) {
	entries, err := m.EntriesForEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	previous := entries[len(entries)-1]
	added, resolved, ongoing, trend := DiffSymptoms(previous.Symptoms, currentSymptoms)
	dayNumber := len(entries) + 1

	return &Progression{
		EpisodeID:          episodeID,
		DayNumber:          dayNumber,
		NewSymptoms:        added,
		ResolvedSymptoms:   resolved,
		OngoingSymptoms:    ongoing,
		Trend:              trend,
		ProgressionSummary: progressionSummary(dayNumber, trend, added, resolved),
		PreviousEntries:    entries,
	}, nil
}

// DiffSymptoms splits two symptom lists into added, resolved and ongoing
// names and classifies the trend. Both lists are cleaned first. More new than resolved is worsening, more
// resolved than new is improving, and a tie (including no change) is stable.
func DiffSymptoms(previous, current []string) (added, resolved, ongoing []string, trend Trend) {
	previous, current = CleanSymptoms(previous), CleanSymptoms(current)
	prev := make(map[string]bool, len(previous))
	for _, s := range previous {
		prev[s] = true
	}
	cur := make(map[string]bool, len(current))
	for _, s := range current {
		cur[s] = true
	}

	added, resolved, ongoing = []string{}, []string{}, []string{}
	for _, s := range current {
		if prev[s] {
			ongoing = append(ongoing, s)
		} else {
			added = append(added, s)
		}
	}
	for _, s := range previous {
		if !cur[s] {
			resolved = append(resolved, s)
		}
	}

	switch {
	case len(added) > len(resolved):
		trend = TrendWorsening
	case len(resolved) > len(added):
		trend = TrendImproving
	default:
		trend = TrendStable
	}
	return added, resolved, ongoing, trend
}

func progressionSummary(dayNumber int, trend Trend, added, resolved []string) string {
	switch trend {
	case TrendImproving:
		noun := "symptoms"
		if len(resolved) == 1 {
			noun = "symptom"
		}
		return fmt.Sprintf("Day %d: Symptoms improving. %d %s resolved.", dayNumber, len(resolved), noun)
	case TrendWorsening:
		return fmt.Sprintf("Day %d: Symptoms worsening. New symptoms: %s.", dayNumber, strings.Join(added, ", "))
	default:
		return fmt.Sprintf("Day %d: Symptoms stable.", dayNumber)
	}
}
