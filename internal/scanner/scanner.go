// Package scanner discovers feature files under a project root.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Scanner finds files matching include globs and none of the exclude globs.
type Scanner interface {
	Scan(rootDir string, patterns []string, excludes []string) ([]string, error)
}

// FileScanner matches slash-separated globs relative to rootDir. Patterns may
// use ** to cross directories.
type FileScanner struct {
	fsys func(dir string) fs.FS
}

func NewScanner() *FileScanner {
	return &FileScanner{fsys: os.DirFS}
}

// Scan returns sorted, de-duplicated paths joined onto rootDir.
func (s *FileScanner) Scan(rootDir string, patterns []string, excludes []string) ([]string, error) {
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", rootDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", rootDir)
	}
	for _, p := range append(append([]string(nil), patterns...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("scanning %s: invalid pattern %q", rootDir, p)
		}
	}

	fsys := s.fsys(rootDir)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("scanning %s for %s: %w", rootDir, pattern, err)
		}
		for _, m := range matches {
			if seen[m] || excluded(m, excludes) {
				continue
			}
			seen[m] = true
			files = append(files, filepath.Join(rootDir, filepath.FromSlash(m)))
		}
	}

	sort.Strings(files)
	return files, nil
}

func excluded(path string, excludes []string) bool {
	for _, exc := range excludes {
		if doublestar.MatchUnvalidated(exc, path) {
			return true
		}
	}
	return false
}
