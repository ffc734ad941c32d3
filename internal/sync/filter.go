package sync

import (
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ExcludeFilter decides whether a relative path is excluded from a folder's
// sync by its glob patterns. Patterns use doublestar syntax ("**/*.tmp",
// ".cache/**"). A pattern matching a directory excludes its whole subtree.
type ExcludeFilter struct {
	patterns []string
	logger   *slog.Logger
}

// NewExcludeFilter validates and compiles the pattern list. Invalid patterns
// are dropped with a warning rather than failing the pass; a bad user
// pattern must not block syncing.
func NewExcludeFilter(patterns []string, logger *slog.Logger) *ExcludeFilter {
	if logger == nil {
		logger = slog.Default()
	}

	valid := make([]string, 0, len(patterns))

	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			logger.Warn("ignoring invalid exclude pattern", slog.String("pattern", p))
			continue
		}

		valid = append(valid, p)
	}

	return &ExcludeFilter{patterns: valid, logger: logger}
}

// Excluded reports whether relPath (slash-separated, no leading slash)
// matches any exclude pattern, either directly or via an ancestor directory.
func (f *ExcludeFilter) Excluded(relPath string) bool {
	for _, p := range f.patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}

		// A pattern naming a directory excludes everything beneath it.
		for dir := parentPath(relPath); dir != ""; dir = parentPath(dir) {
			if ok, _ := doublestar.Match(p, dir); ok {
				return true
			}
		}
	}

	return false
}

// parentPath returns the parent of a slash-separated relative path, or ""
// at the root.
func parentPath(relPath string) string {
	i := strings.LastIndexByte(relPath, '/')
	if i < 0 {
		return ""
	}

	return relPath[:i]
}

// pathDepth counts path components, used to order folder-create operations
// parents-first and delete operations bottom-up.
func pathDepth(relPath string) int {
	if relPath == "" {
		return 0
	}

	return strings.Count(relPath, "/") + 1
}
