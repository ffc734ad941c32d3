package sync

import (
	"encoding/json"
	"log/slog"
	"path"
	"time"
)

// PlannedOp is an operation the resolver wants enqueued. The engine assigns
// IDs and timestamps when it materializes these into PendingOperations.
type PlannedOp struct {
	Type      OperationType
	Path      string
	LocalPath string
	DestPath  string
	Payload   []byte
}

// Decision is the resolver's output for one classified path: zero or more
// operations to enqueue, and optionally a conflict to hold for user input.
// Held conflicts enqueue nothing until the user supplies a resolution.
type Decision struct {
	Ops  []PlannedOp
	Hold *Conflict
}

// Resolver maps (classification, policy) to concrete operations, implementing
// the strategy table: keep-local overwrites remote, keep-server overwrites
// local, keep-newest compares mtimes, ask-user records and holds.
type Resolver struct {
	tolerance time.Duration
	logger    *slog.Logger
}

// NewResolver creates a Resolver with the given mtime tolerance (zero selects
// the default).
func NewResolver(tolerance time.Duration, logger *slog.Logger) *Resolver {
	if tolerance <= 0 {
		tolerance = DefaultMtimeTolerance
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{tolerance: tolerance, logger: logger}
}

// Resolve decides the action(s) for one path. local, remote, and base may be
// nil according to the classification. relPath is the pairing-relative path;
// localAbs is the absolute local path for upload sources.
func (r *Resolver) Resolve(
	folder *Folder, cls Classification, relPath, localAbs string,
	local *LocalFile, remote *RemoteFile, base *BaselineEntry,
) Decision {
	switch cls {
	case ClassUnchanged:
		return Decision{}

	case ClassLocalOnly:
		if !folder.SyncType.AllowsUpload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{uploadOp(relPath, localAbs)}}

	case ClassRemoteOnly:
		if !folder.SyncType.AllowsDownload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{downloadOp(relPath, remote)}}

	case ClassBothModified:
		return r.resolveBothModified(folder, relPath, localAbs, local, remote)

	case ClassModifiedDeleted:
		return r.resolveModifiedDeleted(folder, relPath, localAbs, local, base)

	case ClassDeletedModified:
		return r.resolveDeletedModified(folder, relPath, remote, base)

	case ClassNameConflict:
		// Case-insensitive collisions are unresolvable automatically,
		// regardless of the configured policy.
		return Decision{Hold: buildConflict(folder.ID, relPath, local, remote)}

	default:
		r.logger.Warn("unknown classification, skipping path",
			slog.String("path", relPath),
			slog.String("classification", cls.String()),
		)

		return Decision{}
	}
}

// resolveBothModified applies the policy when both sides changed and content
// differs.
func (r *Resolver) resolveBothModified(
	folder *Folder, relPath, localAbs string, local *LocalFile, remote *RemoteFile,
) Decision {
	switch folder.ConflictPolicy {
	case PolicyKeepLocal:
		if !folder.SyncType.AllowsUpload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{uploadOp(relPath, localAbs)}}

	case PolicyKeepServer:
		if !folder.SyncType.AllowsDownload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{downloadOp(relPath, remote)}}

	case PolicyKeepNewest:
		// Ties within tolerance resolve to the server side: the server is
		// the source of truth on equal timestamps.
		winnerIsLocal := !mtimeEqual(local.Mtime, remote.Mtime, r.tolerance) && local.Mtime > remote.Mtime
		if winnerIsLocal && folder.SyncType.AllowsUpload() {
			return Decision{Ops: []PlannedOp{uploadOp(relPath, localAbs)}}
		}

		if !folder.SyncType.AllowsDownload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{downloadOp(relPath, remote)}}

	case PolicyAskUser:
		return Decision{Hold: buildConflict(folder.ID, relPath, local, remote)}

	default:
		r.logger.Warn("unknown conflict policy, holding for user",
			slog.String("policy", string(folder.ConflictPolicy)),
			slog.String("path", relPath),
		)

		return Decision{Hold: buildConflict(folder.ID, relPath, local, remote)}
	}
}

// resolveModifiedDeleted handles a locally present file whose remote copy was
// deleted after the last sync. Deletion loses by default: the present side is
// re-uploaded unless the policy explicitly targets the deleting side.
func (r *Resolver) resolveModifiedDeleted(
	folder *Folder, relPath, localAbs string, local *LocalFile, base *BaselineEntry,
) Decision {
	switch folder.ConflictPolicy {
	case PolicyKeepServer:
		// Honor the remote deletion.
		return Decision{Ops: []PlannedOp{deleteOp(relPath, SideLocal)}}

	case PolicyKeepNewest:
		// The baseline's sync time is the best available tombstone
		// timestamp: a local edit after it means the edit is newest.
		if base != nil && local.Mtime <= base.SyncedAt {
			return Decision{Ops: []PlannedOp{deleteOp(relPath, SideLocal)}}
		}

		fallthrough

	case PolicyKeepLocal:
		if !folder.SyncType.AllowsUpload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{uploadOp(relPath, localAbs)}}

	case PolicyAskUser:
		return Decision{Hold: buildConflict(folder.ID, relPath, local, nil)}

	default:
		return Decision{Hold: buildConflict(folder.ID, relPath, local, nil)}
	}
}

// resolveDeletedModified handles a locally deleted file that still exists
// remotely. Symmetric to resolveModifiedDeleted.
func (r *Resolver) resolveDeletedModified(
	folder *Folder, relPath string, remote *RemoteFile, base *BaselineEntry,
) Decision {
	switch folder.ConflictPolicy {
	case PolicyKeepLocal:
		// Honor the local deletion by propagating it.
		return Decision{Ops: []PlannedOp{deleteOp(relPath, SideRemote)}}

	case PolicyKeepNewest:
		if base != nil && remote.Mtime <= base.SyncedAt {
			return Decision{Ops: []PlannedOp{deleteOp(relPath, SideRemote)}}
		}

		fallthrough

	case PolicyKeepServer:
		if !folder.SyncType.AllowsDownload() {
			return Decision{}
		}

		return Decision{Ops: []PlannedOp{downloadOp(relPath, remote)}}

	case PolicyAskUser:
		return Decision{Hold: buildConflict(folder.ID, relPath, nil, remote)}

	default:
		return Decision{Hold: buildConflict(folder.ID, relPath, nil, remote)}
	}
}

// --- planned op constructors ---

func uploadOp(relPath, localAbs string) PlannedOp {
	return PlannedOp{Type: OpUpload, Path: relPath, LocalPath: localAbs}
}

// downloadOp carries the expected remote metadata so the executor can record
// the baseline without re-listing after completion.
func downloadOp(relPath string, remote *RemoteFile) PlannedOp {
	payload, _ := json.Marshal(OpPayload{ //nolint:errcheck // static struct cannot fail to marshal
		Hash:  remote.Hash,
		Size:  remote.Size,
		Mtime: remote.Mtime,
	})

	return PlannedOp{Type: OpDownload, Path: relPath, Payload: payload}
}

func deleteOp(relPath string, side OpSide) PlannedOp {
	payload, _ := json.Marshal(OpPayload{Side: side}) //nolint:errcheck // static struct cannot fail to marshal

	return PlannedOp{Type: OpDelete, Path: relPath, Payload: payload}
}

// buildConflict snapshots both sides' metadata into a Conflict record.
func buildConflict(folderID, relPath string, local *LocalFile, remote *RemoteFile) *Conflict {
	c := &Conflict{
		FolderID:   folderID,
		Path:       relPath,
		Name:       path.Base(relPath),
		DetectedAt: NowNano(),
	}

	if local != nil {
		c.LocalSize = local.Size
		c.LocalMtime = local.Mtime
		c.LocalHash = local.Hash
	}

	if remote != nil {
		c.RemoteSize = remote.Size
		c.RemoteMtime = remote.Mtime
		c.RemoteHash = remote.Hash
	}

	return c
}
