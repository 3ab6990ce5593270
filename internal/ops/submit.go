package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/malaise/internal/analysis"
	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/errors"
)

// SubmitInput contains parameters for the Submit operation.
type SubmitInput struct {
	DeviceID     string
	Date         string // YYYY-MM-DD, default: today
	Symptoms     []string
	Notes        string
	DayThreshold int // 0 means the configured threshold
}

// SubmitOutput contains the result of the Submit operation.
type SubmitOutput struct {
	Match       *episode.Match        `json:"match"`
	Episode     *episode.Episode      `json:"episode"`
	Entry       *episode.SymptomEntry `json:"entry"`
	Progression *episode.Progression  `json:"progression,omitempty"`
	Analysis    *analysis.Result      `json:"analysis"`
}

// Submit logs a symptom entry: it analyzes the symptoms (with progression
// context when the entry joins an episode), assigns the entry to an episode
// and stores it. When analysis fails nothing is written.
func Submit(ctx context.Context, d Deps, input SubmitInput) (*SubmitOutput, error) {
	deviceID, err := requireID("device_id", input.DeviceID)
	if err != nil {
		return nil, err
	}
	date := input.Date
	if strings.TrimSpace(date) == "" {
		date = episode.Today(time.Now())
	}
	date, err = episode.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	symptoms, err := ValidateSymptoms(input.Symptoms)
	if err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(input.Notes)
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("notes exceed %d characters", MaxNotesLength))
	}
	if d.Analyzer == nil {
		return nil, errors.NewAnalysisFailed(nil, fmt.Errorf("no analyzer configured"))
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("submit")
	}

	preview, err := d.Manager.PreviewEpisodeForEntry(ctx, deviceID, date, symptoms, input.DayThreshold)
	if err != nil {
		return nil, err
	}

	var progression *episode.Progression
	if !preview.IsNewEpisode {
		progression, err = d.Manager.AnalyzeEpisodeProgression(ctx, preview.Episode.ID, symptoms)
		if err != nil {
			return nil, err
		}
	}

	result, err := d.Analyzer.Analyze(ctx, analysis.Request{
		Symptoms:    symptoms,
		Notes:       notes,
		Progression: progression,
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("submit")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	match, err := d.Manager.DetermineEpisodeForEntry(ctx, deviceID, date, symptoms, input.DayThreshold)
	if err != nil {
		return nil, err
	}
	// Preview ran unlocked; another submission may have changed the
	// device's episodes while the analyzer was running.
	if match.IsNewEpisode != preview.IsNewEpisode || (!match.IsNewEpisode && match.Episode.ID != preview.Episode.ID) {
		d.logger().Warn("episode assignment changed during analysis",
			"previewed", preview.Episode.ID, "assigned", match.Episode.ID)
		progression = nil
		if !match.IsNewEpisode {
			progression, err = d.Manager.AnalyzeEpisodeProgression(ctx, match.Episode.ID, symptoms)
			if err != nil {
				return nil, err
			}
		}
	}

	entry, err := d.Manager.CreateSymptomEntry(ctx, episode.NewEntry{
		EpisodeID:  match.Episode.ID,
		Date:       date,
		Symptoms:   symptoms,
		Notes:      notes,
		Severity:   result.Severity,
		AIAnalysis: payload,
	})
	if err != nil {
		return nil, err
	}

	if err := d.Manager.UpdateEpisodeTitleFromAnalysis(ctx, match.Episode.ID, result.EpisodeTitle, result.Analysis); err != nil {
		return nil, err
	}
	if err := d.Manager.UpdateEpisodeSummaryFromAnalysis(ctx, match.Episode.ID, result.EpisodeSummaryText(), result.EstimatedRecoveryWindow); err != nil {
		return nil, err
	}

	ep, err := d.Manager.GetEpisode(ctx, match.Episode.ID)
	if err != nil {
		return nil, err
	}

	d.logger().Info("symptom entry logged",
		"episode_id", ep.ID, "entry_id", entry.ID, "new_episode", match.IsNewEpisode,
		"retroactive", match.IsRetroactive, "analyzer", result.Source)

	return &SubmitOutput{
		Match:       match,
		Episode:     ep,
		Entry:       entry,
		Progression: progression,
		Analysis:    result,
	}, nil
}

// PreviewInput contains parameters for the Preview operation.
type PreviewInput struct {
	DeviceID     string
	Date         string // default: today
	Symptoms     []string
	DayThreshold int
}

// Preview reports which episode an entry would join without writing anything.
func Preview(ctx context.Context, d Deps, input PreviewInput) (*episode.Match, error) {
	deviceID, err := requireID("device_id", input.DeviceID)
	if err != nil {
		return nil, err
	}
	date := input.Date
	if strings.TrimSpace(date) == "" {
		date = episode.Today(time.Now())
	}
	return d.Manager.PreviewEpisodeForEntry(ctx, deviceID, date, input.Symptoms, input.DayThreshold)
}
