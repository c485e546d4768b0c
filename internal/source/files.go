// Package source loads documents for indexing from local files and JSON-lines
// exports.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"ragindex/internal/domain"
)

// DefaultInclude matches the text formats read as-is.
var DefaultInclude = []string{"**/*.txt", "**/*.md", "**/*.markdown"}

// FileOptions selects files under a directory. Patterns use doublestar
// syntax relative to the directory.
type FileOptions struct {
	Include []string
	Exclude []string
}

// LoadFiles reads every matching file under dir as one document, in path
// order. Blank files are skipped. A missing dir yields no documents.
func LoadFiles(dir string, opts FileOptions, logger *slog.Logger) ([]domain.Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("input dir not found", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	include := opts.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	fsys := os.DirFS(dir)
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok || excluded(m, opts.Exclude) {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)

	docs := make([]domain.Document, 0, len(paths))
	for _, rel := range paths {
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		text := strings.ToValidUTF8(string(data), "")
		if strings.TrimSpace(text) == "" {
			logger.Debug("skipping blank file", "path", rel)
			continue
		}
		docs = append(docs, domain.Document{
			Title: path.Base(rel),
			URL:   filepath.Join(dir, filepath.FromSlash(rel)),
			Text:  text,
		})
	}
	logger.Info("loaded documents", "dir", dir, "files", len(docs))
	return docs, nil
}

func excluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
