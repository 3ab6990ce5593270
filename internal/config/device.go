package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const deviceIDFile = "device_id"

// DeviceID returns the identity of this local profile, creating it on first use.
// Episodes are scoped to it; nothing is shared across devices.
func DeviceID(baseDir string) (string, error) {
	path := filepath.Join(baseDir, deviceIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write device id: %w", err)
	}
	return id, nil
}
