package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/malaise/internal/episode"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	DeviceID   string
	ActiveOnly bool
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []episode.Episode `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// List returns a page of a device's episodes, newest first.
func List(ctx context.Context, d Deps, input ListInput) (*ListOutput, error) {
	deviceID, err := requireID("device_id", input.DeviceID)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	eps, err := d.Manager.GetEpisodesByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if input.ActiveOnly {
		active := eps[:0]
		for _, ep := range eps {
			if ep.Status == episode.StatusActive {
				active = append(active, ep)
			}
		}
		eps = active
	}

	total := len(eps)
	start := min(offset, total)
	end := min(start+limit, total)
	items := eps[start:end]
	if items == nil {
		items = []episode.Episode{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: end < total,
			Total:   total,
		},
	}, nil
}

// Get returns an episode with its entries.
func Get(ctx context.Context, d Deps, episodeID string) (*episode.EpisodeWithEntries, error) {
	id, err := requireID("episode_id", episodeID)
	if err != nil {
		return nil, err
	}
	return d.Manager.GetEpisodeWithEntries(ctx, id)
}

// ProgressionInput contains parameters for the Progression operation.
type ProgressionInput struct {
	EpisodeID string
	Symptoms  []string
}

// Progression compares symptoms against an episode's latest entry.
// It returns nil when the episode has no entries.
func Progression(ctx context.Context, d Deps, input ProgressionInput) (*episode.Progression, error) {
	id, err := requireID("episode_id", input.EpisodeID)
	if err != nil {
		return nil, err
	}
	symptoms, err := ValidateSymptoms(input.Symptoms)
	if err != nil {
		return nil, err
	}
	if _, err := d.Manager.GetEpisode(ctx, id); err != nil {
		return nil, err
	}
	return d.Manager.AnalyzeEpisodeProgression(ctx, id, symptoms)
}

// ResolveInput contains parameters for the Resolve operation.
type ResolveInput struct {
	EpisodeID string
	EndDate   string // default: today
}

// Resolve marks an episode resolved and returns it. Unlike the manager
// call, an unknown id is reported as NOT_FOUND.
func Resolve(ctx context.Context, d Deps, input ResolveInput) (*episode.Episode, error) {
	id, err := requireID("episode_id", input.EpisodeID)
	if err != nil {
		return nil, err
	}
	endDate := input.EndDate
	if strings.TrimSpace(endDate) == "" {
		endDate = episode.Today(time.Now())
	}
	if _, err := d.Manager.GetEpisode(ctx, id); err != nil {
		return nil, err
	}
	if err := d.Manager.ResolveEpisode(ctx, id, endDate); err != nil {
		return nil, err
	}
	return d.Manager.GetEpisode(ctx, id)
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted   bool   `json:"deleted"`
	EpisodeID string `json:"episode_id"`
}

// Delete removes an episode and its entries.
func Delete(ctx context.Context, d Deps, episodeID string) (*DeleteOutput, error) {
	id, err := requireID("episode_id", episodeID)
	if err != nil {
		return nil, err
	}
	if err := d.Manager.DeleteEpisode(ctx, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: true, EpisodeID: id}, nil
}

