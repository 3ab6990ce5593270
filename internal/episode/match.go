package episode

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/malaise/internal/errors"
)

// candidate is an active episode that an entry date falls within the window of.
type candidate struct {
	episode *Episode
	// earliest is the earliest entry date, or "" if the episode has no entries.
	earliest string
}

// findMatch returns the first active episode, in storage order, whose anchor
// date is within threshold days of entryDate. The anchor is the most recent
// entry date, or the start date for an episode without entries.
// The first match wins even if a later episode is closer.
func (m *Manager) findMatch(ctx context.Context, deviceID, entryDate string, threshold int) (*candidate, error) {
	active, err := m.activeEpisodes(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	for i := range active {
		ep := &active[i]
		entries, err := m.listEntries(ctx, ep.ID)
		if err != nil {
			return nil, err
		}

		anchor := ep.StartDate
		earliest := ""
		if len(entries) > 0 {
			anchor, earliest = latestAndEarliest(entries)
		}

		gap, err := DayGap(entryDate, anchor)
		if err != nil {
			return nil, err
		}
		m.logger.Debug("episode match check",
			"episode_id", ep.ID, "anchor", anchor, "entry_date", entryDate, "gap", gap, "threshold", threshold)
		if gap <= threshold {
			return &candidate{episode: ep, earliest: earliest}, nil
		}
	}
	return nil, nil
}

// latestAndEarliest returns the most recent and the earliest entry dates.
func latestAndEarliest(entries []SymptomEntry) (latest, earliest string) {
	latest, earliest = entries[0].Date, entries[0].Date
	for _, e := range entries[1:] {
		if e.Date > latest {
			latest = e.Date
		}
		if e.Date < earliest {
			earliest = e.Date
		}
	}
	return latest, earliest
}

func validateMatchInput(deviceID, entryDate string) (string, error) {
	if strings.TrimSpace(deviceID) == "" {
		return "", errors.NewInvalidRequest("device_id is required")
	}
	return NormalizeDate(entryDate)
}

// PreviewEpisodeForEntry reports what DetermineEpisodeForEntry would do
// without persisting anything. For a new episode the returned Episode is an
// unsaved placeholder with an empty ID.
func (m *Manager) PreviewEpisodeForEntry(ctx context.Context, deviceID, entryDate string, symptoms []string, dayThreshold int) (*Match, error) {
	date, err := validateMatchInput(deviceID, entryDate)
	if err != nil {
		return nil, err
	}
	symptoms = CleanSymptoms(symptoms)

	c, err := m.findMatch(ctx, deviceID, date, m.threshold(dayThreshold))
	if err != nil {
		return nil, m.fail("preview_episode_for_entry", err)
	}

	if c != nil {
		retro := c.earliest != "" && date < c.earliest
		msg := fmt.Sprintf("Will be added to: %s", c.episode.Title)
		if retro {
			msg += fmt.Sprintf(" (retroactive entry, start date would move to %s)", date)
		}
		return &Match{
			Episode:         c.episode,
			IsRetroactive:   retro,
			NeedsReanalysis: retro,
			Message:         msg,
		}, nil
	}

	placeholder := &Episode{
		DeviceID:   deviceID,
		StartDate:  date,
		Title:      GenerateTitle("", symptoms),
		Symptoms:   symptoms,
		Status:     StatusActive,
		EntryCount: 1,
	}
	return &Match{
		Episode:      placeholder,
		IsNewEpisode: true,
		Message:      "Will start a new episode",
	}, nil
}

// DetermineEpisodeForEntry assigns a new entry date to an episode.
//
// A match increments entry_count, merges the symptoms into the episode and,
// when the entry predates the earliest known entry, moves start_date back
// and asks the caller to re-analyse. Without a match, stale active episodes
// are resolved relative to entryDate and a new episode is created.
func (m *Manager) DetermineEpisodeForEntry(ctx context.Context, deviceID, entryDate string, symptoms []string, dayThreshold int) (*Match, error) {
	date, err := validateMatchInput(deviceID, entryDate)
	if err != nil {
		return nil, err
	}
	symptoms = CleanSymptoms(symptoms)
	threshold := m.threshold(dayThreshold)

	mu := m.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	c, err := m.findMatch(ctx, deviceID, date, threshold)
	if err != nil {
		return nil, m.fail("determine_episode_for_entry", err)
	}

	if c != nil {
		ep := c.episode
		retro := c.earliest != "" && date < c.earliest
		if retro {
			ep.StartDate = date
		}
		ep.EntryCount++
		ep.Symptoms = unionSymptoms(ep.Symptoms, symptoms)
		ep.UpdatedAt = m.now().Unix()
		if err := m.saveEpisode(ctx, ep); err != nil {
			return nil, m.fail("determine_episode_for_entry", err)
		}

		msg := fmt.Sprintf("Added to existing episode: %s", ep.Title)
		if retro {
			msg += fmt.Sprintf(" (retroactive entry, start date moved to %s)", date)
			m.logger.Info("episode backdated", "episode_id", ep.ID, "start_date", date)
		}
		m.logger.Debug("entry matched episode", "episode_id", ep.ID, "entry_count", ep.EntryCount)
		return &Match{
			Episode:         ep,
			IsRetroactive:   retro,
			NeedsReanalysis: retro,
			Message:         msg,
		}, nil
	}

	resolved, err := m.autoResolveOldEpisodes(ctx, deviceID, date, threshold)
	if err != nil {
		return nil, m.fail("determine_episode_for_entry", err)
	}

	id, err := generateID()
	if err != nil {
		return nil, m.fail("determine_episode_for_entry", errors.NewInternal(err))
	}
	now := m.now().Unix()
	ep := &Episode{
		ID:         id,
		DeviceID:   deviceID,
		StartDate:  date,
		Title:      GenerateTitle("", symptoms),
		Symptoms:   symptoms,
		Status:     StatusActive,
		EntryCount: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.saveEpisode(ctx, ep); err != nil {
		return nil, m.fail("determine_episode_for_entry", err)
	}
	m.logger.Info("episode created", "episode_id", ep.ID, "device_id", deviceID, "start_date", date)

	return &Match{
		Episode:      ep,
		IsNewEpisode: true,
		Message:      fmt.Sprintf("Started new episode: %s", ep.Title),
		AutoResolved: resolved,
	}, nil
}

// autoResolveOldEpisodes resolves active episodes whose most recent entry is
// more than threshold days away from currentEntryDate. The end date is that
// most recent entry's date. Episodes without entries are left alone.
// The caller must hold the device lock.
func (m *Manager) autoResolveOldEpisodes(ctx context.Context, deviceID, currentEntryDate string, threshold int) ([]string, error) {
	active, err := m.activeEpisodes(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	var resolved []string
	for i := range active {
		ep := &active[i]
		entries, err := m.listEntries(ctx, ep.ID)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}

		latest, _ := latestAndEarliest(entries)
		gap, err := DayGap(currentEntryDate, latest)
		if err != nil {
			return nil, err
		}
		if gap <= threshold {
			continue
		}

		if err := m.resolveLocked(ctx, ep, latest); err != nil {
			return nil, err
		}
		m.logger.Info("stale episode auto-resolved", "episode_id", ep.ID, "last_entry", latest, "gap", gap)
		resolved = append(resolved, ep.ID)
	}
	return resolved, nil
}
