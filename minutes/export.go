package minutes

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bosley/recordnote/observability"
	"github.com/rs/zerolog/log"
)

// Extension of exported documents.
const Extension = ".md"

// DefaultFilename returns meeting_minutes_YYYYMMDD_HHMMSS.md for at.
func DefaultFilename(at time.Time) string {
	return "meeting_minutes_" + at.Format("20060102_150405") + Extension
}

// Export writes doc to path as UTF-8, creating parent directories.
func Export(doc, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("failed to write minutes: %w", err)
	}

	observability.RecordExport()
	log.Info().Str("path", path).Int("bytes", len(doc)).Msg("Minutes exported")
	return nil
}
