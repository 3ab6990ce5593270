package episode

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/malaise/internal/errors"
)

// DefaultDayThreshold is used when a caller passes a non-positive threshold.
const DefaultDayThreshold = 2

// Manager owns episode matching, lifecycle and progression rules.
// It keeps no cache: every read goes to the Store.
//
// Read-modify-write paths are serialised per device, so concurrent
// submissions for one device cannot create duplicate episodes or lose
// entry_count increments. Separate processes sharing a database are not
// coordinated.
type Manager struct {
	store        Store
	logger       *slog.Logger
	dayThreshold int
	now          func() time.Time

	locks sync.Map // device id -> *sync.Mutex
}

// NewManager creates a Manager. A non-positive dayThreshold means DefaultDayThreshold.
func NewManager(store Store, logger *slog.Logger, dayThreshold int) *Manager {
	if dayThreshold <= 0 {
		dayThreshold = DefaultDayThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        store,
		logger:       logger,
		dayThreshold: dayThreshold,
		now:          time.Now,
	}
}

// DayThreshold returns the manager's default day threshold.
func (m *Manager) DayThreshold() int {
	return m.dayThreshold
}

func (m *Manager) threshold(override int) int {
	if override > 0 {
		return override
	}
	return m.dayThreshold
}

func (m *Manager) deviceLock(deviceID string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(deviceID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// fail logs a propagated error and returns it unchanged.
func (m *Manager) fail(op string, err error) error {
	if !errors.Is(err, errors.ErrInvalidRequest) && !errors.Is(err, errors.ErrNotFound) {
		m.logger.Error("episode operation failed", "op", op, "error", err)
	}
	return err
}

// --- persistence helpers ---

func (m *Manager) loadEpisode(ctx context.Context, id string) (*Episode, error) {
	data, err := m.store.Get(ctx, EpisodesCollection, id)
	if err != nil || data == nil {
		return nil, err
	}
	var ep Episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &ep, nil
}

func (m *Manager) saveEpisode(ctx context.Context, ep *Episode) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return errors.NewInternal(err)
	}
	return m.store.Set(ctx, EpisodesCollection, ep.ID, ep.DeviceID, data)
}

func (m *Manager) saveEntry(ctx context.Context, entry *SymptomEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.NewInternal(err)
	}
	return m.store.Set(ctx, EntriesCollection, entry.ID, entry.EpisodeID, data)
}

func (m *Manager) listEpisodes(ctx context.Context, deviceID string) ([]Episode, error) {
	items, err := m.store.List(ctx, EpisodesCollection, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]Episode, 0, len(items))
	for _, data := range items {
		var ep Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, ep)
	}
	return out, nil
}

func (m *Manager) listEntries(ctx context.Context, episodeID string) ([]SymptomEntry, error) {
	items, err := m.store.List(ctx, EntriesCollection, episodeID)
	if err != nil {
		return nil, err
	}
	out := make([]SymptomEntry, 0, len(items))
	for _, data := range items {
		var e SymptomEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, e)
	}
	return out, nil
}

// withEpisode loads an episode under its device lock and runs fn on it.
// A missing episode is not an error: fn is skipped and found is false.
func (m *Manager) withEpisode(ctx context.Context, id string, fn func(ep *Episode) error) (found bool, err error) {
	ep, err := m.loadEpisode(ctx, id)
	if err != nil || ep == nil {
		return false, err
	}

	mu := m.deviceLock(ep.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	// Reload under the lock; another writer may have changed it.
	ep, err = m.loadEpisode(ctx, id)
	if err != nil || ep == nil {
		return false, err
	}
	return true, fn(ep)
}

// --- queries ---

// GetEpisodesByDevice returns all episodes of a device, newest start date first.
func (m *Manager) GetEpisodesByDevice(ctx context.Context, deviceID string) ([]Episode, error) {
	eps, err := m.listEpisodes(ctx, deviceID)
	if err != nil {
		return nil, m.fail("get_episodes_by_device", err)
	}
	sort.SliceStable(eps, func(i, j int) bool {
		if eps[i].StartDate != eps[j].StartDate {
			return eps[i].StartDate > eps[j].StartDate
		}
		return eps[i].CreatedAt > eps[j].CreatedAt
	})
	return eps, nil
}

// GetActiveEpisodesByDevice returns the active episodes of a device in storage order.
func (m *Manager) GetActiveEpisodesByDevice(ctx context.Context, deviceID string) ([]Episode, error) {
	active, err := m.activeEpisodes(ctx, deviceID)
	if err != nil {
		return nil, m.fail("get_active_episodes_by_device", err)
	}
	return active, nil
}

func (m *Manager) activeEpisodes(ctx context.Context, deviceID string) ([]Episode, error) {
	eps, err := m.listEpisodes(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	active := eps[:0]
	for _, ep := range eps {
		if ep.Status == StatusActive {
			active = append(active, ep)
		}
	}
	return active, nil
}

// GetEpisode returns one episode or NOT_FOUND.
func (m *Manager) GetEpisode(ctx context.Context, episodeID string) (*Episode, error) {
	ep, err := m.loadEpisode(ctx, episodeID)
	if err != nil {
		return nil, m.fail("get_episode", err)
	}
	if ep == nil {
		return nil, errors.NewNotFound("episode", episodeID)
	}
	return ep, nil
}

// GetEpisodeWithEntries returns an episode and its entries in ascending date order.
func (m *Manager) GetEpisodeWithEntries(ctx context.Context, episodeID string) (*EpisodeWithEntries, error) {
	ep, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	entries, err := m.EntriesForEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return &EpisodeWithEntries{Episode: ep, Entries: entries}, nil
}

// EntriesForEpisode returns an episode's entries sorted ascending by date.
// Entries sharing a date keep their creation order.
func (m *Manager) EntriesForEpisode(ctx context.Context, episodeID string) ([]SymptomEntry, error) {
	entries, err := m.listEntries(ctx, episodeID)
	if err != nil {
		return nil, m.fail("entries_for_episode", err)
	}
	sortEntriesAscending(entries)
	return entries, nil
}

// AllEpisodes returns every stored episode in storage order.
func (m *Manager) AllEpisodes(ctx context.Context) ([]Episode, error) {
	eps, err := m.listEpisodes(ctx, "")
	if err != nil {
		return nil, m.fail("all_episodes", err)
	}
	return eps, nil
}

// --- mutations ---

// NewEntry holds the fields of a symptom entry to create.
type NewEntry struct {
	EpisodeID  string
	Date       string
	Symptoms   []string
	Notes      string
	Severity   *Severity
	AIAnalysis json.RawMessage
}

// CreateSymptomEntry persists a new entry for an existing episode.
// It does not touch entry_count; matching already accounted for it.
// When the entry carries a severity, the episode's severity follows it.
func (m *Manager) CreateSymptomEntry(ctx context.Context, input NewEntry) (*SymptomEntry, error) {
	date, err := NormalizeDate(input.Date)
	if err != nil {
		return nil, err
	}

	var entry *SymptomEntry
	found, err := m.withEpisode(ctx, input.EpisodeID, func(ep *Episode) error {
		id, err := generateID()
		if err != nil {
			return errors.NewInternal(err)
		}
		now := m.now().Unix()
		entry = &SymptomEntry{
			ID:         id,
			EpisodeID:  ep.ID,
			Date:       date,
			Symptoms:   CleanSymptoms(input.Symptoms),
			Severity:   input.Severity,
			AIAnalysis: input.AIAnalysis,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if notes := strings.TrimSpace(input.Notes); notes != "" {
			entry.Notes = &notes
		}
		if err := m.saveEntry(ctx, entry); err != nil {
			return err
		}

		if input.Severity != nil {
			ep.Severity = input.Severity
			ep.UpdatedAt = now
			return m.saveEpisode(ctx, ep)
		}
		return nil
	})
	if err != nil {
		return nil, m.fail("create_symptom_entry", err)
	}
	if !found {
		return nil, errors.NewNotFound("episode", input.EpisodeID)
	}

	m.logger.Debug("symptom entry created", "entry_id", entry.ID, "episode_id", entry.EpisodeID, "date", entry.Date)
	return entry, nil
}

// IncrementEntryCount adds one to an episode's entry_count. Unknown ids are ignored.
func (m *Manager) IncrementEntryCount(ctx context.Context, episodeID string) error {
	_, err := m.withEpisode(ctx, episodeID, func(ep *Episode) error {
		ep.EntryCount++
		ep.UpdatedAt = m.now().Unix()
		return m.saveEpisode(ctx, ep)
	})
	if err != nil {
		return m.fail("increment_entry_count", err)
	}
	return nil
}

// UpdateEpisodeStartDate moves an episode's start date. Unknown ids are ignored.
func (m *Manager) UpdateEpisodeStartDate(ctx context.Context, episodeID, startDate string) error {
	date, err := NormalizeDate(startDate)
	if err != nil {
		return err
	}
	_, err = m.withEpisode(ctx, episodeID, func(ep *Episode) error {
		ep.StartDate = date
		ep.UpdatedAt = m.now().Unix()
		return m.saveEpisode(ctx, ep)
	})
	if err != nil {
		return m.fail("update_episode_start_date", err)
	}
	return nil
}

// ResolveEpisode marks an episode resolved as of endDate. Unknown ids are ignored.
// endDate is not checked against the start date.
func (m *Manager) ResolveEpisode(ctx context.Context, episodeID, endDate string) error {
	date, err := NormalizeDate(endDate)
	if err != nil {
		return err
	}
	_, err = m.withEpisode(ctx, episodeID, func(ep *Episode) error {
		return m.resolveLocked(ctx, ep, date)
	})
	if err != nil {
		return m.fail("resolve_episode", err)
	}
	return nil
}

func (m *Manager) resolveLocked(ctx context.Context, ep *Episode, endDate string) error {
	ep.Status = StatusResolved
	ep.EndDate = &endDate
	ep.UpdatedAt = m.now().Unix()
	if err := m.saveEpisode(ctx, ep); err != nil {
		return err
	}
	m.logger.Info("episode resolved", "episode_id", ep.ID, "end_date", endDate)
	return nil
}

// DeleteEpisode deletes an episode's entries and then the episode.
// Not transactional: an interruption can leave entries without an episode.
func (m *Manager) DeleteEpisode(ctx context.Context, episodeID string) error {
	found, err := m.withEpisode(ctx, episodeID, func(ep *Episode) error {
		entries, err := m.listEntries(ctx, ep.ID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := m.store.Remove(ctx, EntriesCollection, e.ID); err != nil {
				return err
			}
		}
		if err := m.store.Remove(ctx, EpisodesCollection, ep.ID); err != nil {
			return err
		}
		m.logger.Info("episode deleted", "episode_id", ep.ID, "entries", len(entries))
		return nil
	})
	if err != nil {
		return m.fail("delete_episode", err)
	}
	if !found {
		return errors.NewNotFound("episode", episodeID)
	}
	return nil
}

// UpdateEpisodeTitleFromAnalysis applies an AI-suggested title. Without one,
// a canned title is used when the analysis text names a recognisable illness;
// otherwise the title is left alone. Unknown ids are ignored.
func (m *Manager) UpdateEpisodeTitleFromAnalysis(ctx context.Context, episodeID, aiTitle, analysisText string) error {
	title := strings.TrimSpace(aiTitle)
	if title == "" {
		title = keywordTitle(analysisText)
	}
	if title == "" {
		return nil
	}
	_, err := m.withEpisode(ctx, episodeID, func(ep *Episode) error {
		if ep.Title == title {
			return nil
		}
		ep.Title = title
		ep.UpdatedAt = m.now().Unix()
		return m.saveEpisode(ctx, ep)
	})
	if err != nil {
		return m.fail("update_episode_title", err)
	}
	return nil
}

// UpdateEpisodeSummaryFromAnalysis refreshes the AI summary and recovery window.
// Empty values leave the stored ones unchanged. Unknown ids are ignored.
func (m *Manager) UpdateEpisodeSummaryFromAnalysis(ctx context.Context, episodeID, summary, recoveryWindow string) error {
	summary = strings.TrimSpace(summary)
	recoveryWindow = strings.TrimSpace(recoveryWindow)
	if summary == "" && recoveryWindow == "" {
		return nil
	}
	_, err := m.withEpisode(ctx, episodeID, func(ep *Episode) error {
		if summary != "" {
			ep.AISummary = &summary
		}
		if recoveryWindow != "" {
			ep.EstimatedRecoveryWindow = &recoveryWindow
		}
		ep.UpdatedAt = m.now().Unix()
		return m.saveEpisode(ctx, ep)
	})
	if err != nil {
		return m.fail("update_episode_summary", err)
	}
	return nil
}

// RestoreEpisode writes an episode as-is (import).
func (m *Manager) RestoreEpisode(ctx context.Context, ep *Episode) error {
	if err := m.saveEpisode(ctx, ep); err != nil {
		return m.fail("restore_episode", err)
	}
	return nil
}

// RestoreEntry writes an entry as-is (import).
func (m *Manager) RestoreEntry(ctx context.Context, entry *SymptomEntry) error {
	if err := m.saveEntry(ctx, entry); err != nil {
		return m.fail("restore_entry", err)
	}
	return nil
}

// EntryExists reports whether an entry id is taken.
func (m *Manager) EntryExists(ctx context.Context, id string) (bool, error) {
	data, err := m.store.Get(ctx, EntriesCollection, id)
	if err != nil {
		return false, m.fail("entry_exists", err)
	}
	return data != nil, nil
}

// EpisodeExists reports whether an episode id is taken.
func (m *Manager) EpisodeExists(ctx context.Context, id string) (bool, error) {
	ep, err := m.loadEpisode(ctx, id)
	if err != nil {
		return false, m.fail("episode_exists", err)
	}
	return ep != nil, nil
}

func sortEntriesAscending(entries []SymptomEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date < entries[j].Date
	})
}

// generateID generates a new ULID.
func generateID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
