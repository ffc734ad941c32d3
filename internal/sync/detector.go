package sync

import (
	"log/slog"
	"strings"
	"time"
)

// Classification is the detector's verdict for one relative path, computed
// from the (local, remote, baseline) triple. The set is exhaustive over the
// present/absent/modified cross product per side since the last sync point.
type Classification int

const (
	// ClassUnchanged means both sides agree; no action.
	ClassUnchanged Classification = iota
	// ClassLocalOnly means the path exists only locally and was never synced.
	ClassLocalOnly
	// ClassRemoteOnly means the path exists only remotely and was never synced.
	ClassRemoteOnly
	// ClassBothModified means both sides diverged from the last sync point.
	ClassBothModified
	// ClassModifiedDeleted means the local side is present (possibly
	// modified) while the remote side deleted the path after the last sync.
	ClassModifiedDeleted
	// ClassDeletedModified means the local side deleted the path after the
	// last sync while the remote side still has it (possibly modified).
	ClassDeletedModified
	// ClassNameConflict marks a case-insensitive collision between two
	// distinct pairings; it is unresolvable without user input.
	ClassNameConflict
)

// String returns the classification name for logging.
func (c Classification) String() string {
	switch c {
	case ClassUnchanged:
		return "unchanged"
	case ClassLocalOnly:
		return "local_only"
	case ClassRemoteOnly:
		return "remote_only"
	case ClassBothModified:
		return "both_modified"
	case ClassModifiedDeleted:
		return "modified_deleted"
	case ClassDeletedModified:
		return "deleted_modified"
	case ClassNameConflict:
		return "name_conflict"
	default:
		return "unknown"
	}
}

// Detector classifies per-path divergence between a local snapshot, a remote
// snapshot, and the persisted baseline from the last successful sync.
type Detector struct {
	tolerance time.Duration
	logger    *slog.Logger
}

// NewDetector creates a Detector. tolerance absorbs filesystem timestamp
// granularity when comparing mtimes without hashes; zero selects the default.
func NewDetector(tolerance time.Duration, logger *slog.Logger) *Detector {
	if tolerance <= 0 {
		tolerance = DefaultMtimeTolerance
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{tolerance: tolerance, logger: logger}
}

// Classify maps one path's (local, remote, baseline) triple to a
// Classification. Any of the three may be nil for absent.
func (d *Detector) Classify(local *LocalFile, remote *RemoteFile, base *BaselineEntry) Classification {
	switch {
	case local != nil && remote != nil:
		return d.classifyBothPresent(local, remote, base)

	case local != nil:
		// Remote absent. Without a baseline the file is simply new locally;
		// with one, the remote side deleted it after the last sync.
		if base == nil {
			return ClassLocalOnly
		}

		return ClassModifiedDeleted

	case remote != nil:
		if base == nil {
			return ClassRemoteOnly
		}

		return ClassDeletedModified

	default:
		// Both absent: stale baseline row, cleaned up by the engine.
		return ClassUnchanged
	}
}

// classifyBothPresent decides between unchanged and both-modified when the
// path exists on both sides.
func (d *Detector) classifyBothPresent(local *LocalFile, remote *RemoteFile, base *BaselineEntry) Classification {
	if d.sidesEqual(local, remote) {
		return ClassUnchanged
	}

	localChanged := d.localChanged(local, base)
	remoteChanged := d.remoteChanged(remote, base)

	d.logger.Debug("classify divergent path",
		slog.String("path", local.Path),
		slog.Bool("local_changed", localChanged),
		slog.Bool("remote_changed", remoteChanged),
	)

	switch {
	case localChanged && !remoteChanged:
		// Only the local side moved since the last sync point.
		return ClassLocalOnly

	case remoteChanged && !localChanged:
		return ClassRemoteOnly

	default:
		// Both moved, or there is no baseline to arbitrate (create-create).
		return ClassBothModified
	}
}

// sidesEqual compares local and remote metadata: hash equality when both
// hashes are available, otherwise size plus mtime-within-tolerance.
func (d *Detector) sidesEqual(local *LocalFile, remote *RemoteFile) bool {
	if local.Hash != "" && remote.Hash != "" {
		return local.Hash == remote.Hash
	}

	return local.Size == remote.Size && mtimeEqual(local.Mtime, remote.Mtime, d.tolerance)
}

// localChanged reports whether the local file diverged from the baseline.
func (d *Detector) localChanged(local *LocalFile, base *BaselineEntry) bool {
	if base == nil {
		return true
	}

	if local.Hash != "" && base.Hash != "" {
		return local.Hash != base.Hash
	}

	return local.Size != base.Size || !mtimeEqual(local.Mtime, base.Mtime, d.tolerance)
}

// remoteChanged reports whether the remote file diverged from the baseline.
func (d *Detector) remoteChanged(remote *RemoteFile, base *BaselineEntry) bool {
	if base == nil {
		return true
	}

	if remote.Hash != "" && base.Hash != "" {
		return remote.Hash != base.Hash
	}

	return remote.Size != base.Size || !mtimeEqual(remote.Mtime, base.Mtime, d.tolerance)
}

// DetectNameCollisions finds case-insensitive collisions across the union of
// local and remote paths. Two distinct paths folding to the same lowercase
// key cannot be paired safely on a case-insensitive filesystem; each
// colliding path is surfaced as a name conflict requiring user input.
func DetectNameCollisions(locals map[string]*LocalFile, remotes map[string]*RemoteFile) map[string]bool {
	folded := make(map[string][]string)

	addPath := func(p string) {
		key := strings.ToLower(p)

		for _, existing := range folded[key] {
			if existing == p {
				return
			}
		}

		folded[key] = append(folded[key], p)
	}

	for p := range locals {
		addPath(p)
	}

	for p := range remotes {
		addPath(p)
	}

	collisions := make(map[string]bool)

	for _, paths := range folded {
		if len(paths) < 2 {
			continue
		}

		for _, p := range paths {
			collisions[p] = true
		}
	}

	return collisions
}
