package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/malaise/internal/config"
	"github.com/hpungsan/malaise/internal/errors"
)

// pathFixture is a data directory with an exports dir and one extra allowed dir.
type pathFixture struct {
	baseDir string
	allowed string
	cfg     *config.Config
}

func newPathFixture(t *testing.T) *pathFixture {
	t.Helper()
	f := &pathFixture{baseDir: t.TempDir(), allowed: t.TempDir(), cfg: config.DefaultConfig()}
	require.NoError(t, os.MkdirAll(ExportsDir(f.baseDir), 0700))
	f.cfg.AllowedPaths = []string{f.allowed}
	return f
}

func writeExportFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"header"}`+"\n"), 0600))
	return path
}

func TestValidatePath_Accepted(t *testing.T) {
	f := newPathFixture(t)
	inAllowed := writeExportFile(t, filepath.Join(f.allowed, "phone-2024-03-01T080000.jsonl"))

	assert.NoError(t, ValidatePath(filepath.Join(ExportsDir(f.baseDir), "all-2024-03-01T080000.jsonl"), PathCheckWrite, f.baseDir, f.cfg),
		"new export in exports dir")
	assert.NoError(t, ValidatePath(inAllowed, PathCheckRead, f.baseDir, f.cfg), "import from allowed_paths")

	// allow_unsafe_paths lifts the directory restriction only.
	unsafe := config.DefaultConfig()
	unsafe.AllowUnsafePaths = true
	elsewhere := writeExportFile(t, filepath.Join(t.TempDir(), "backup.jsonl"))
	assert.NoError(t, ValidatePath(elsewhere, PathCheckRead, f.baseDir, unsafe))
	assert.NoError(t, ValidatePath(filepath.Join(t.TempDir(), "out.jsonl"), PathCheckWrite, f.baseDir, unsafe))
}

func TestValidatePath_Rejected(t *testing.T) {
	f := newPathFixture(t)
	nested := filepath.Join(f.allowed, "2024")
	require.NoError(t, os.MkdirAll(nested, 0755))
	nestedFile := writeExportFile(t, filepath.Join(nested, "episodes.jsonl"))

	tests := []struct {
		name string
		path string
		mode PathCheckMode
	}{
		{"empty", "", PathCheckWrite},
		{"parent traversal", "../episodes.jsonl", PathCheckWrite},
		{"mid-path traversal", f.allowed + "/../episodes.jsonl", PathCheckWrite},
		{"no extension", filepath.Join(f.allowed, "episodes"), PathCheckWrite},
		{"json extension", filepath.Join(f.allowed, "episodes.json"), PathCheckWrite},
		{"outside allowed dirs", filepath.Join(t.TempDir(), "episodes.jsonl"), PathCheckWrite},
		{"data dir itself", filepath.Join(f.baseDir, "episodes.jsonl"), PathCheckWrite},
		{"nested read", nestedFile, PathCheckRead},
		{"nested write", filepath.Join(nested, "out.jsonl"), PathCheckWrite},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, tc.mode, f.baseDir, f.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestValidatePath_MissingImportFile(t *testing.T) {
	f := newPathFixture(t)

	err := ValidatePath(filepath.Join(f.allowed, "missing.jsonl"), PathCheckRead, f.baseDir, f.cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	// A missing file is fine for an export target.
	assert.NoError(t, ValidatePath(filepath.Join(f.allowed, "missing.jsonl"), PathCheckWrite, f.baseDir, f.cfg))
}

func TestValidatePath_Symlinks(t *testing.T) {
	f := newPathFixture(t)
	outside := writeExportFile(t, filepath.Join(t.TempDir(), "private.jsonl"))

	link := filepath.Join(f.allowed, "shared.jsonl")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	linkedDir := filepath.Join(t.TempDir(), "exports-link")
	require.NoError(t, os.Symlink(f.allowed, linkedDir))

	unsafe := config.DefaultConfig()
	unsafe.AllowUnsafePaths = true

	tests := []struct {
		name string
		path string
		mode PathCheckMode
		cfg  *config.Config
	}{
		{"read through link", link, PathCheckRead, f.cfg},
		{"overwrite link", link, PathCheckWrite, f.cfg},
		{"link with unsafe paths", link, PathCheckRead, unsafe},
		{"parent dir is a link", filepath.Join(linkedDir, "episodes.jsonl"), PathCheckWrite, f.cfg},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, tc.mode, f.baseDir, tc.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/home/user/.malaise/exports/a.jsonl", false},
		{"./a.jsonl", false},
		{"episodes..2024.jsonl", false},
		{"../a.jsonl", true},
		{"/home/../etc/a.jsonl", true},
		{"exports/2024/../a.jsonl", true},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, containsTraversal(tc.path))
		})
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"phone-1", "phone-1"},
		{"laptop (work)", "laptop (work)"},
		{"a\\b", "a-b"},
		{"../../../etc/passwd", "etc-passwd"},
		{"dev\x00ice\x07", "device"},
		{"--tablet--", "tablet"},
		{"../..", "unnamed"},
		{"", "unnamed"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeForFilename(tc.input))
		})
	}
}
