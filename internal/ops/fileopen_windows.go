//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/malaise/internal/errors"
)

// createExportTemp creates (or truncates) an export temp file.
// Windows has no O_NOFOLLOW; ValidatePath has already rejected symlinks.
func createExportTemp(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

// openImportFile opens an export file for reading.
func openImportFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("file", path)
	}
	return f, err
}
