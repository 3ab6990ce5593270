//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/malaise/internal/errors"
)

// createExportTemp creates (or truncates) the temp file an export is written
// to before the rename. The final component is never followed.
func createExportTemp(path string) (*os.File, error) {
	return openNoFollow(path, syscall.O_CREAT|syscall.O_WRONLY|syscall.O_TRUNC, 0600, "export target")
}

// openImportFile opens an export file for reading without following a
// symlink in the final component. Directory components are covered by
// ValidatePath, which only admits files directly inside an allowed dir.
func openImportFile(path string) (*os.File, error) {
	return openNoFollow(path, syscall.O_RDONLY, 0, "import file")
}

func openNoFollow(path string, flag int, perm uint32, what string) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, perm)
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest(what + " must not be a symlink")
	case stderrors.Is(err, syscall.ENOENT) && flag&syscall.O_CREAT == 0:
		return nil, errors.NewNotFound("file", path)
	default:
		return nil, err
	}
}
