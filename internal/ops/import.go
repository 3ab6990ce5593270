package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/errors"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on any parse error or collision, write nothing
	ImportModeReplace ImportMode = "replace" // overwrite on collision
	ImportModeSkip    ImportMode = "skip"    // keep existing records on collision
)

const maxImportLine = 4 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes a line or record that was not imported.
type ImportError struct {
	Line    int    `json:"line,omitempty"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// importRecord is a parsed record with its source line.
type importRecord struct {
	line int
	ExportRecord
}

func (r importRecord) id() string {
	if r.Kind == RecordEpisode {
		return r.Episode.ID
	}
	return r.Entry.ID
}

// Import reads a JSONL export file. Episodes are written before entries.
func Import(ctx context.Context, d Deps, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, skip")
	}
	if err := ValidatePath(input.Path, PathCheckRead, d.BaseDir, d.Config); err != nil {
		return nil, err
	}

	file, err := openImportFile(input.Path)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, problems := parseExportFile(file)
	orphans, err := findOrphanEntries(ctx, d.Manager, records)
	if err != nil {
		return nil, err
	}
	problems = append(problems, orphans...)

	out := &ImportOutput{Errors: []ImportError{}}
	if input.Mode == ImportModeError {
		if len(problems) > 0 {
			out.Errors = problems
			return out, nil
		}
		collisions, err := findCollisions(ctx, d.Manager, records)
		if err != nil {
			return nil, err
		}
		if len(collisions) > 0 {
			out.Errors = collisions
			return out, nil
		}
	} else {
		out.Errors = append(out.Errors, problems...)
		out.Skipped += len(problems)
	}

	skip := invalidLines(problems)
	for _, r := range records {
		if skip[r.line] {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("import")
		default:
		}

		if input.Mode == ImportModeSkip {
			exists, err := recordExists(ctx, d.Manager, r)
			if err != nil {
				return nil, err
			}
			if exists {
				out.Skipped++
				continue
			}
		}
		if err := restore(ctx, d.Manager, r); err != nil {
			return nil, err
		}
		out.Imported++
	}

	d.logger().Info("import complete", "path", input.Path, "mode", input.Mode,
		"imported", out.Imported, "skipped", out.Skipped, "errors", len(out.Errors))
	return out, nil
}

// parseExportFile returns valid records, episodes first, and a problem per bad line.
func parseExportFile(r io.Reader) ([]importRecord, []ImportError) {
	var eps, entries []importRecord
	var problems []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Header bool `json:"_malaise_export"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			problems = append(problems, ImportError{Line: lineNum, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if probe.Header {
			continue
		}

		var rec ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			problems = append(problems, ImportError{Line: lineNum, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid record: %v", err)})
			continue
		}
		if msg := validateRecord(rec); msg != "" {
			problems = append(problems, ImportError{Line: lineNum, Code: "INVALID_RECORD", Message: msg})
			continue
		}

		ir := importRecord{line: lineNum, ExportRecord: rec}
		if rec.Kind == RecordEpisode {
			eps = append(eps, ir)
		} else {
			entries = append(entries, ir)
		}
	}
	if err := scanner.Err(); err != nil {
		problems = append(problems, ImportError{Line: lineNum + 1, Code: "READ_ERROR", Message: fmt.Sprintf("failed to read file: %v", err)})
	}
	return append(eps, entries...), problems
}

// validateRecord returns a description of what is wrong with rec, or "".
func validateRecord(rec ExportRecord) string {
	switch rec.Kind {
	case RecordEpisode:
		ep := rec.Episode
		if ep == nil {
			return "episode record has no episode"
		}
		if ep.ID == "" || ep.DeviceID == "" {
			return "episode requires id and device_id"
		}
		if _, err := episode.ParseDate(ep.StartDate); err != nil {
			return fmt.Sprintf("episode %s: invalid start_date", ep.ID)
		}
		if ep.EndDate != nil {
			if _, err := episode.ParseDate(*ep.EndDate); err != nil {
				return fmt.Sprintf("episode %s: invalid end_date", ep.ID)
			}
		}
		if !ep.Status.Valid() {
			return fmt.Sprintf("episode %s: invalid status %q", ep.ID, ep.Status)
		}
	case RecordEntry:
		e := rec.Entry
		if e == nil {
			return "entry record has no entry"
		}
		if e.ID == "" || e.EpisodeID == "" {
			return "entry requires id and episode_id"
		}
		if _, err := episode.ParseDate(e.Date); err != nil {
			return fmt.Sprintf("entry %s: invalid date", e.ID)
		}
	default:
		return fmt.Sprintf("unknown record kind %q", rec.Kind)
	}
	return ""
}

// findOrphanEntries reports entries whose episode is neither in the file nor stored.
func findOrphanEntries(ctx context.Context, m *episode.Manager, records []importRecord) ([]ImportError, error) {
	inFile := make(map[string]bool)
	for _, r := range records {
		if r.Kind == RecordEpisode {
			inFile[r.Episode.ID] = true
		}
	}

	var orphans []ImportError
	for _, r := range records {
		if r.Kind != RecordEntry || inFile[r.Entry.EpisodeID] {
			continue
		}
		exists, err := m.EpisodeExists(ctx, r.Entry.EpisodeID)
		if err != nil {
			return nil, err
		}
		if !exists {
			orphans = append(orphans, ImportError{
				Line:    r.line,
				ID:      r.Entry.ID,
				Code:    "ORPHAN_ENTRY",
				Message: fmt.Sprintf("episode %q not found", r.Entry.EpisodeID),
			})
		}
	}
	return orphans, nil
}

func findCollisions(ctx context.Context, m *episode.Manager, records []importRecord) ([]ImportError, error) {
	var collisions []ImportError
	for _, r := range records {
		exists, err := recordExists(ctx, m, r)
		if err != nil {
			return nil, err
		}
		if exists {
			collisions = append(collisions, ImportError{
				Line:    r.line,
				ID:      r.id(),
				Code:    "ID_COLLISION",
				Message: fmt.Sprintf("%s with id %q already exists", r.Kind, r.id()),
			})
		}
	}
	return collisions, nil
}

func recordExists(ctx context.Context, m *episode.Manager, r importRecord) (bool, error) {
	if r.Kind == RecordEpisode {
		return m.EpisodeExists(ctx, r.Episode.ID)
	}
	return m.EntryExists(ctx, r.Entry.ID)
}

func restore(ctx context.Context, m *episode.Manager, r importRecord) error {
	if r.Kind == RecordEpisode {
		return m.RestoreEpisode(ctx, r.Episode)
	}
	return m.RestoreEntry(ctx, r.Entry)
}

func invalidLines(problems []ImportError) map[int]bool {
	lines := make(map[int]bool, len(problems))
	for _, p := range problems {
		if p.Line > 0 {
			lines[p.Line] = true
		}
	}
	return lines
}
