package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/malaise/internal/errors"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open export file: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return lines
}

// seedTwoDevices creates one two-entry episode on d1 and one single-entry episode on d2.
func seedTwoDevices(t *testing.T, d Deps) {
	t.Helper()
	mustSubmit(t, d, "d1", "2024-01-01", "Cough")
	mustSubmit(t, d, "d1", "2024-01-02", "Cough", "Fever")
	mustSubmit(t, d, "d2", "2024-01-01", "Rash")
}

func TestExport_HappyPath(t *testing.T) {
	d := rulesDeps(t)
	seedTwoDevices(t, d)

	exportPath := filepath.Join(ExportsDir(d.BaseDir), "backup.jsonl")
	out, err := Export(context.Background(), d, ExportInput{Path: exportPath})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Path != exportPath {
		t.Errorf("Path = %q, want %q", out.Path, exportPath)
	}
	if out.Episodes != 2 || out.Entries != 3 {
		t.Errorf("Episodes=%d Entries=%d, want 2 and 3", out.Episodes, out.Entries)
	}
	if out.ExportedAt == 0 {
		t.Error("ExportedAt should be set")
	}

	lines := readLines(t, exportPath)
	if len(lines) != 6 {
		t.Fatalf("lines = %d, want header + 2 episodes + 3 entries", len(lines))
	}

	var header ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header is not JSON: %v", err)
	}
	if !header.MalaiseExport || header.SchemaVersion != ExportSchemaVersion {
		t.Errorf("header = %+v", header)
	}

	// Each episode line is followed by its own entries.
	var current string
	for i, line := range lines[1:] {
		var rec ExportRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d is not JSON: %v", i+2, err)
		}
		switch rec.Kind {
		case RecordEpisode:
			current = rec.Episode.ID
		case RecordEntry:
			if rec.Entry.EpisodeID != current {
				t.Errorf("line %d: entry of %s follows episode %s", i+2, rec.Entry.EpisodeID, current)
			}
		default:
			t.Errorf("line %d: unexpected kind %q", i+2, rec.Kind)
		}
	}

	// No temp files left behind.
	matches, _ := filepath.Glob(filepath.Join(ExportsDir(d.BaseDir), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestExport_DeviceFilterAndDefaultPath(t *testing.T) {
	d := rulesDeps(t)
	seedTwoDevices(t, d)

	out, err := Export(context.Background(), d, ExportInput{DeviceID: "d1"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if filepath.Dir(out.Path) != ExportsDir(d.BaseDir) {
		t.Errorf("default path %q not in exports dir", out.Path)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "d1-") {
		t.Errorf("default file name %q should start with the device id", filepath.Base(out.Path))
	}
	if out.Episodes != 1 || out.Entries != 2 {
		t.Errorf("Episodes=%d Entries=%d, want 1 and 2", out.Episodes, out.Entries)
	}
}

func TestExport_PathOutsideExportsRejected(t *testing.T) {
	d := rulesDeps(t)

	_, err := Export(context.Background(), d, ExportInput{Path: filepath.Join(t.TempDir(), "out.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

// exportForImport exports src and returns deps for a fresh database that may read the file.
func exportForImport(t *testing.T) (src Deps, dst Deps, path string) {
	t.Helper()
	src = rulesDeps(t)
	seedTwoDevices(t, src)

	out, err := Export(context.Background(), src, ExportInput{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst = rulesDeps(t)
	dst.Config.AllowedPaths = []string{ExportsDir(src.BaseDir)}
	return src, dst, out.Path
}

func TestImport_RoundTrip(t *testing.T) {
	src, dst, path := exportForImport(t)
	ctx := context.Background()

	out, err := Import(ctx, dst, ImportInput{Path: path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 5 || out.Skipped != 0 || len(out.Errors) != 0 {
		t.Fatalf("Import = %+v, want 5 imported", out)
	}

	want, err := src.Manager.GetEpisodesByDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetEpisodesByDevice failed: %v", err)
	}
	got, err := Get(ctx, dst, want[0].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Episode.Title != want[0].Title || got.Episode.EntryCount != 2 || len(got.Entries) != 2 {
		t.Errorf("imported episode = %+v with %d entries", got.Episode, len(got.Entries))
	}

	// Imported episodes take part in matching.
	next := mustSubmit(t, dst, "d1", "2024-01-03", "Cough")
	if next.Match.IsNewEpisode {
		t.Error("entry after import should join the imported episode")
	}
}

func TestImport_Modes(t *testing.T) {
	_, dst, path := exportForImport(t)
	ctx := context.Background()

	if _, err := Import(ctx, dst, ImportInput{Path: path}); err != nil {
		t.Fatalf("first Import failed: %v", err)
	}

	out, err := Import(ctx, dst, ImportInput{Path: path, Mode: ImportModeError})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 0 || len(out.Errors) != 5 || out.Errors[0].Code != "ID_COLLISION" {
		t.Errorf("mode error on collision = %+v, want 5 ID_COLLISION errors", out)
	}

	out, err = Import(ctx, dst, ImportInput{Path: path, Mode: ImportModeSkip})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 0 || out.Skipped != 5 {
		t.Errorf("mode skip = %+v, want 5 skipped", out)
	}

	out, err = Import(ctx, dst, ImportInput{Path: path, Mode: ImportModeReplace})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 5 {
		t.Errorf("mode replace = %+v, want 5 imported", out)
	}

	eps, err := dst.Manager.AllEpisodes(ctx)
	if err != nil {
		t.Fatalf("AllEpisodes failed: %v", err)
	}
	if len(eps) != 2 {
		t.Errorf("episodes = %d, want 2 (replace must not duplicate)", len(eps))
	}
}

func TestImport_BadLines(t *testing.T) {
	d := rulesDeps(t)
	ctx := context.Background()

	content := strings.Join([]string{
		`{"_malaise_export":true,"schema_version":"1.0","exported_at":1}`,
		`{"kind":"episode","episode":{"id":"E1","device_id":"d1","start_date":"2024-01-01","title":"Cold","symptoms":["Cough"],"status":"active","entry_count":1}}`,
		`not json`,
		`{"kind":"episode","episode":{"id":"E2","device_id":"d1","start_date":"01/01/2024","status":"active"}}`,
		`{"kind":"entry","entry":{"id":"N1","episode_id":"E1","date":"2024-01-01","symptoms":["Cough"]}}`,
		`{"kind":"entry","entry":{"id":"N2","episode_id":"GHOST","date":"2024-01-01","symptoms":["Cough"]}}`,
		`{"kind":"capsule"}`,
	}, "\n") + "\n"
	path := filepath.Join(ExportsDir(d.BaseDir), "mixed.jsonl")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := Import(ctx, d, ImportInput{Path: path, Mode: ImportModeError})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 0 || len(out.Errors) != 4 {
		t.Fatalf("mode error = %+v, want 4 errors and nothing imported", out)
	}
	codes := map[string]int{}
	for _, e := range out.Errors {
		codes[e.Code]++
	}
	if codes["PARSE_ERROR"] != 1 || codes["INVALID_RECORD"] != 2 || codes["ORPHAN_ENTRY"] != 1 {
		t.Errorf("error codes = %v", codes)
	}
	if exists, _ := d.Manager.EpisodeExists(ctx, "E1"); exists {
		t.Error("mode error must not write anything when the file has problems")
	}

	out, err = Import(ctx, d, ImportInput{Path: path, Mode: ImportModeReplace})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if out.Imported != 2 || out.Skipped != 4 {
		t.Errorf("mode replace = %+v, want 2 imported and 4 skipped", out)
	}
	if exists, _ := d.Manager.EntryExists(ctx, "N1"); !exists {
		t.Error("valid entry N1 should be imported")
	}
}

func TestImport_InputValidation(t *testing.T) {
	d := rulesDeps(t)
	ctx := context.Background()

	if _, err := Import(ctx, d, ImportInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("missing path: expected ErrInvalidRequest, got: %v", err)
	}
	if _, err := Import(ctx, d, ImportInput{Path: "x.jsonl", Mode: "rename"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad mode: expected ErrInvalidRequest, got: %v", err)
	}
	missing := filepath.Join(ExportsDir(d.BaseDir), "missing.jsonl")
	if _, err := Import(ctx, d, ImportInput{Path: missing}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing file: expected ErrNotFound, got: %v", err)
	}
}
