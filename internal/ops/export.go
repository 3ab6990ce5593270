package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/errors"
)

// Export record kinds.
const (
	RecordEpisode = "episode"
	RecordEntry   = "entry"
)

// ExportSchemaVersion is written in the header line of every export.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path     string // optional, default: <base>/exports/<device>-<timestamp>.jsonl
	DeviceID string // optional filter
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Episodes   int    `json:"episodes"`
	Entries    int    `json:"entries"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL export file.
type ExportHeader struct {
	MalaiseExport bool   `json:"_malaise_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportRecord is one episode or entry line of an export file.
type ExportRecord struct {
	Kind    string                `json:"kind"`
	Episode *episode.Episode      `json:"episode,omitempty"`
	Entry   *episode.SymptomEntry `json:"entry,omitempty"`
}

// Export writes episodes and their entries to a JSONL file. Each episode
// line is followed by its entries in date order.
func Export(ctx context.Context, d Deps, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()
	deviceID := strings.TrimSpace(input.DeviceID)

	exportPath := input.Path
	if exportPath == "" {
		exportPath = filepath.Join(ExportsDir(d.BaseDir), defaultExportName(deviceID, now))
	}
	// Default paths are validated too; they embed the device id.
	if err := ValidatePath(exportPath, PathCheckWrite, d.BaseDir, d.Config); err != nil {
		return nil, err
	}

	var (
		eps []episode.Episode
		err error
	)
	if deviceID != "" {
		eps, err = d.Manager.GetEpisodesByDevice(ctx, deviceID)
	} else {
		eps, err = d.Manager.AllEpisodes(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to a temp file and rename so a failed export keeps the old file.
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := createExportTemp(tempPath)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := writeJSONLine(file, ExportHeader{
		MalaiseExport: true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
	}); err != nil {
		return nil, err
	}

	out := &ExportOutput{Path: exportPath, ExportedAt: exportedAt}
	for i := range eps {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("export")
		default:
		}

		ep := &eps[i]
		if err := writeJSONLine(file, ExportRecord{Kind: RecordEpisode, Episode: ep}); err != nil {
			return nil, err
		}
		out.Episodes++

		entries, err := d.Manager.EntriesForEpisode(ctx, ep.ID)
		if err != nil {
			return nil, err
		}
		for j := range entries {
			if err := writeJSONLine(file, ExportRecord{Kind: RecordEntry, Entry: &entries[j]}); err != nil {
				return nil, err
			}
			out.Entries++
		}
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	d.logger().Info("export complete", "path", exportPath, "episodes", out.Episodes, "entries", out.Entries)
	return out, nil
}

func writeJSONLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// defaultExportName is <device>-<timestamp>.jsonl, or all-<timestamp>.jsonl.
func defaultExportName(deviceID string, now time.Time) string {
	name := "all"
	if deviceID != "" {
		name = SanitizeForFilename(deviceID)
	}
	return fmt.Sprintf("%s-%s.jsonl", name, now.Format("2006-01-02T150405"))
}
