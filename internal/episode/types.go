package episode

import (
	"context"
	"encoding/json"
	"strings"
)

// Storage collections.
const (
	EpisodesCollection = "episodes"
	EntriesCollection  = "symptom_entries"
)

// Status is the lifecycle state of an episode.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	// StatusArchived is reserved; nothing transitions into it yet.
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// Severity is a coarse severity label.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// ParseSeverity maps free text onto a known severity, or nil.
// "mild" and "severe" are accepted as aliases.
func ParseSeverity(s string) *Severity {
	var sev Severity
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "mild":
		sev = SeverityLow
	case "moderate", "medium":
		sev = SeverityModerate
	case "high", "severe":
		sev = SeverityHigh
	default:
		return nil
	}
	return &sev
}

// Trend classifies the change between two consecutive entries.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

// Episode is one contiguous illness period.
type Episode struct {
	ID                      string    `json:"id"`
	DeviceID                string    `json:"device_id"`
	StartDate               string    `json:"start_date"`
	EndDate                 *string   `json:"end_date,omitempty"`
	Title                   string    `json:"title"`
	Symptoms                []string  `json:"symptoms"`
	Severity                *Severity `json:"severity,omitempty"`
	Status                  Status    `json:"status"`
	EntryCount              int       `json:"entry_count"`
	AISummary               *string   `json:"ai_summary,omitempty"`
	EstimatedRecoveryWindow *string   `json:"estimated_recovery_window,omitempty"`
	CreatedAt               int64     `json:"created_at"`
	UpdatedAt               int64     `json:"updated_at"`
}

// SymptomEntry is one submission of symptoms for a calendar date.
type SymptomEntry struct {
	ID         string          `json:"id"`
	EpisodeID  string          `json:"episode_id"`
	Date       string          `json:"date"`
	Symptoms   []string        `json:"symptoms"`
	Notes      *string         `json:"notes,omitempty"`
	Severity   *Severity       `json:"severity,omitempty"`
	AIAnalysis json.RawMessage `json:"ai_analysis,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// EpisodeWithEntries is an episode plus its entries in ascending date order.
type EpisodeWithEntries struct {
	Episode *Episode       `json:"episode"`
	Entries []SymptomEntry `json:"entries"`
}

// Match is the outcome of matching a new entry date against a device's episodes.
type Match struct {
	Episode         *Episode `json:"episode"`
	IsNewEpisode    bool     `json:"is_new_episode"`
	IsRetroactive   bool     `json:"is_retroactive"`
	NeedsReanalysis bool     `json:"needs_reanalysis"`
	Message         string   `json:"message"`
	// AutoResolved lists episodes resolved as stale before a new one was created.
	AutoResolved []string `json:"auto_resolved,omitempty"`
}

// Store is the persistence the Manager needs: JSON records keyed by
// collection and id, each tagged with an owner scope.
// Get returns nil data (and no error) for a missing record.
// List returns records in a stable iteration order; an empty scope lists all.
type Store interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id, scope string, data []byte) error
	Remove(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection, scope string) ([][]byte, error)
}

// CleanSymptoms trims names, drops empties, and removes duplicates keeping first occurrence.
func CleanSymptoms(symptoms []string) []string {
	seen := make(map[string]bool, len(symptoms))
	out := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// unionSymptoms appends names from add that are not yet in base.
func unionSymptoms(base, add []string) []string {
	return CleanSymptoms(append(append([]string{}, base...), add...))
}
