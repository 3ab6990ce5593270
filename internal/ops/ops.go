package ops

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/malaise/internal/analysis"
	"github.com/hpungsan/malaise/internal/config"
	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Submission limits
const (
	MaxSymptoms      = 30
	MaxSymptomLength = 100
	MaxNotesLength   = 4000
)

// Deps holds the collaborators shared by the operations.
type Deps struct {
	Manager  *episode.Manager
	Analyzer analysis.Analyzer
	Config   *config.Config
	// BaseDir is the data directory; exports default to BaseDir/exports.
	BaseDir string
	Logger  *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// ValidateSymptoms cleans a symptom list and enforces the submission limits.
func ValidateSymptoms(symptoms []string) ([]string, error) {
	cleaned := episode.CleanSymptoms(symptoms)
	if len(cleaned) == 0 {
		return nil, errors.NewInvalidRequest("at least one symptom is required")
	}
	if len(cleaned) > MaxSymptoms {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("too many symptoms: %d (max %d)", len(cleaned), MaxSymptoms))
	}
	for _, s := range cleaned {
		if utf8.RuneCountInString(s) > MaxSymptomLength {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("symptom %q exceeds %d characters", truncateRunes(s, 20)+"...", MaxSymptomLength))
		}
	}
	return cleaned, nil
}

// requireID trims an id and rejects it when empty.
func requireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	return id, nil
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
