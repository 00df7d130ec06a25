// Package artifacts manages the on-disk output of a single scan: a dedicated
// directory for raw scanner output and the final report, plus a watcher that
// strips duplicate lines from text artifacts as external tools append to them.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/internal/utils"
)

// Store is the artifact directory of one scan. Every write lands inside the
// directory created at construction; nothing here ever changes the working
// directory.
type Store struct {
	dir string
}

// NewStore creates the per-scan directory under baseDir and returns a store
// scoped to it.
func NewStore(baseDir, scanID, domain string) (*Store, error) {
	dir, err := utils.CreateScanDirectory(baseDir, scanID, domain)
	if err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the absolute path of the scan's artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveRaw writes one raw output file into the scan directory and returns its
// absolute path. Only the base of name is used, so a hostile filename cannot
// escape the directory.
func (s *Store) SaveRaw(name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	return path, nil
}

// SaveReport marshals the final report as indented JSON into report.json.
func (s *Store) SaveReport(report *models.ScanReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return s.SaveRaw("report.json", data)
}
