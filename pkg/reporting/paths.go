package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultReportDir is where exports go when no path is given
const DefaultReportDir = "reports"

// DefaultJournalReportPath returns reports/journal_<timestamp>.xlsx
func DefaultJournalReportPath(now time.Time) string {
	return filepath.Join(DefaultReportDir, fmt.Sprintf("journal_%s.xlsx", now.UTC().Format("20060102_150405")))
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
