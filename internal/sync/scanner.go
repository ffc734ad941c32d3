package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// maxHashSize bounds the files hashed during a snapshot. Above this the hash
// is left empty and the engine falls back to size+mtime comparison, keeping
// scans cheap on folders with very large media files.
const maxHashSize = 256 * 1024 * 1024

// Scanner produces local folder snapshots for reconciliation: a recursive
// listing respecting the folder's exclude patterns, with size, mtime, and a
// content hash where cheaply computable.
type Scanner struct {
	logger *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scanner{logger: logger}
}

// Snapshot walks root and returns relative path → LocalFile for every
// included regular file. Permission failures on the root wrap
// ErrLocalAccessDenied; unreadable subpaths are skipped with a warning so one
// bad directory cannot abort the whole pass.
func (s *Scanner) Snapshot(ctx context.Context, root string, filter *ExcludeFilter) (map[string]*LocalFile, error) {
	s.logger.Debug("scanning local folder", slog.String("root", root))

	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("scanner: stat %s: %w", root, ErrLocalAccessDenied)
		}

		return nil, fmt.Errorf("scanner: stat %s: %w", root, err)
	}

	snapshot := make(map[string]*LocalFile)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				s.logger.Warn("skipping unreadable path", slog.String("path", path))
				return nil
			}

			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("scanner: relativizing %s: %w", path, relErr)
		}

		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if filter != nil && filter.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			s.logger.Warn("skipping unstatable file", slog.String("path", path))
			return nil
		}

		lf := &LocalFile{
			Path:  rel,
			Size:  info.Size(),
			Mtime: info.ModTime().UnixNano(),
		}

		if info.Size() <= maxHashSize {
			hash, hashErr := HashFile(path)
			if hashErr != nil {
				s.logger.Warn("hashing failed, falling back to size+mtime",
					slog.String("path", path),
					slog.String("error", hashErr.Error()),
				)
			} else {
				lf.Hash = hash
			}
		}

		snapshot[rel] = lf

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scanner: walking %s: %w", root, walkErr)
	}

	s.logger.Debug("local scan complete",
		slog.String("root", root),
		slog.Int("files", len(snapshot)),
	)

	return snapshot, nil
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
