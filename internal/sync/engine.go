package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentFolders bounds parallel reconciliation across folders. Within
// one folder, passes are strictly serialized.
const maxConcurrentFolders = 3

// Engine runs reconciliation passes: snapshot both sides, classify every path
// against the baseline, resolve divergences into queued operations or held
// conflicts, then drain the queue.
type Engine struct {
	store    *Store
	scanner  *Scanner
	detector *Detector
	resolver *Resolver
	client   RemoteClient
	manager  *Manager
	logger   *slog.Logger

	folders keyedMutex
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(
	store *Store, scanner *Scanner, detector *Detector, resolver *Resolver,
	client RemoteClient, manager *Manager, logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    store,
		scanner:  scanner,
		detector: detector,
		resolver: resolver,
		client:   client,
		manager:  manager,
		logger:   logger,
	}
}

// Reconcile runs one full pass over a folder. Passes for the same folder are
// serialized; a paused folder is a successful no-op. The folder transitions
// to syncing for the duration and settles to idle or error afterwards, except
// that connectivity loss returns it to idle with the queue intact.
func (e *Engine) Reconcile(ctx context.Context, folderID string) (*SyncResult, error) {
	unlock := e.folders.lock(folderID)
	defer unlock()

	started := time.Now()

	folder, err := e.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{FolderID: folderID, Timestamp: NowNano()}

	if folder.Status == FolderPaused {
		e.logger.Debug("skipping paused folder", slog.String("folder_id", folderID))

		result.Success = true

		return result, nil
	}

	if err := e.store.UpdateFolderStatus(ctx, folderID, FolderSyncing, ""); err != nil {
		return nil, err
	}

	enqueued, conflicts, err := e.plan(ctx, folder)
	if err != nil {
		return e.settle(ctx, folder, result, started, err)
	}

	result.Conflicts = conflicts

	stats, drainErr := e.manager.DrainFolder(ctx, folder)
	if stats != nil {
		e.countCompleted(ctx, enqueued, result)
	}

	// A pass that terminally failed operations is not a successful pass,
	// even though the drain itself ran to completion.
	if drainErr == nil && stats != nil && stats.Failed > 0 {
		drainErr = fmt.Errorf("%d of %d operations failed permanently", stats.Failed, stats.Executed)
	}

	return e.settle(ctx, folder, result, started, drainErr)
}

// ReconcileAll runs passes over every folder with bounded parallelism.
// Individual folder failures are collected, not fatal to the others.
func (e *Engine) ReconcileAll(ctx context.Context) ([]*SyncResult, error) {
	folders, err := e.store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*SyncResult, len(folders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFolders)

	for i, f := range folders {
		g.Go(func() error {
			r, rErr := e.Reconcile(gctx, f.ID)
			if r == nil {
				r = &SyncResult{FolderID: f.ID, Timestamp: NowNano()}
			}

			if rErr != nil {
				r.Errors = append(r.Errors, rErr.Error())
			}

			results[i] = r

			// Connectivity loss stops the whole run; anything else is
			// contained to its folder.
			if rErr != nil && errors.Is(rErr, ErrNetworkUnavailable) {
				return rErr
			}

			return nil
		})
	}

	err = g.Wait()

	return results, err
}

// plan snapshots both sides, classifies the union of paths, and enqueues the
// resolver's operations. It returns the enqueued operations and the number of
// conflicts held for the user.
func (e *Engine) plan(ctx context.Context, folder *Folder) ([]*PendingOperation, int, error) {
	filter := NewExcludeFilter(folder.ExcludePatterns, e.logger)

	locals, err := e.scanner.Snapshot(ctx, folder.LocalRoot, filter)
	if err != nil {
		return nil, 0, err
	}

	remotes, err := e.remoteSnapshot(ctx, folder, filter)
	if err != nil {
		return nil, 0, err
	}

	baseline, err := e.store.GetBaseline(ctx, folder.ID)
	if err != nil {
		return nil, 0, err
	}

	collisions := DetectNameCollisions(locals, remotes)

	var (
		enqueued  []*PendingOperation
		conflicts int
		unchanged int
	)

	for _, relPath := range unionPaths(locals, remotes, baseline) {
		local := locals[relPath]
		remote := remotes[relPath]
		base := baseline[relPath]

		cls := e.detector.Classify(local, remote, base)
		if collisions[relPath] {
			cls = ClassNameConflict
		}

		if cls == ClassUnchanged {
			if local == nil && remote == nil {
				// Stale baseline row for a path gone from both sides.
				if err := e.store.DeleteBaselineEntry(ctx, folder.ID, relPath); err != nil {
					return nil, 0, err
				}

				continue
			}

			unchanged++

			// Both sides equal but never recorded: adopt into the baseline so
			// deletions become detectable from here on.
			if err := e.adoptBaseline(ctx, folder.ID, relPath, local, base); err != nil {
				return nil, 0, err
			}

			continue
		}

		decision := e.resolver.Resolve(folder, cls, relPath,
			localPathFor(folder, relPath), local, remote, base)

		if decision.Hold != nil {
			if err := e.store.SaveConflict(ctx, decision.Hold); err != nil {
				return nil, 0, err
			}

			conflicts++

			continue
		}

		for _, planned := range decision.Ops {
			op, err := e.store.Enqueue(ctx, &PendingOperation{
				FolderID:  folder.ID,
				Type:      planned.Type,
				Path:      planned.Path,
				LocalPath: planned.LocalPath,
				DestPath:  planned.DestPath,
				Payload:   planned.Payload,
			})
			if err != nil {
				return nil, 0, err
			}

			enqueued = append(enqueued, op)
		}
	}

	if err := e.store.UpdateFolderCounters(ctx, folder.ID, unchanged+len(enqueued), unchanged); err != nil {
		return nil, 0, err
	}

	e.logger.Info("reconciliation planned",
		slog.String("folder_id", folder.ID),
		slog.Int("unchanged", unchanged),
		slog.Int("enqueued", len(enqueued)),
		slog.Int("conflicts", conflicts),
	)

	return enqueued, conflicts, nil
}

// remoteSnapshot lists the remote subtree and maps it to relative paths.
func (e *Engine) remoteSnapshot(ctx context.Context, folder *Folder, filter *ExcludeFilter) (map[string]*RemoteFile, error) {
	files, err := e.client.ListFiles(ctx, folder.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder.RemotePath, classifyRemote(err))
	}

	snapshot := make(map[string]*RemoteFile, len(files))

	for _, fi := range files {
		rel := relRemotePath(folder.RemotePath, fi.Path)
		if rel == "" {
			continue
		}

		if filter != nil && filter.Excluded(rel) {
			continue
		}

		snapshot[rel] = &RemoteFile{
			Path:  rel,
			Name:  fi.Name,
			Size:  fi.Size,
			Hash:  fi.Hash,
			Mtime: fi.Mtime,
		}
	}

	return snapshot, nil
}

// adoptBaseline records an equal-on-both-sides path that the baseline does
// not yet reflect.
func (e *Engine) adoptBaseline(ctx context.Context, folderID, relPath string, local *LocalFile, base *BaselineEntry) error {
	if local == nil {
		return nil
	}

	if base != nil && base.Size == local.Size && base.Mtime == local.Mtime && base.Hash == local.Hash {
		return nil
	}

	return e.store.UpsertBaselineEntry(ctx, &BaselineEntry{
		FolderID: folderID,
		Path:     relPath,
		Size:     local.Size,
		Mtime:    local.Mtime,
		Hash:     local.Hash,
		SyncedAt: NowNano(),
	})
}

// countCompleted fills the per-type completion counters from the final state
// of this pass's enqueued operations.
func (e *Engine) countCompleted(ctx context.Context, enqueued []*PendingOperation, result *SyncResult) {
	for _, op := range enqueued {
		final, err := e.store.GetOperation(ctx, op.ID)
		if err != nil || final.Status != OpCompleted {
			continue
		}

		switch final.Type {
		case OpUpload:
			result.FilesUploaded++
		case OpDownload:
			result.FilesDownloaded++
		case OpDelete:
			result.FilesDeleted++
		}
	}
}

// settle records the pass outcome on the folder and finalizes the result.
func (e *Engine) settle(
	ctx context.Context, folder *Folder, result *SyncResult, started time.Time, passErr error,
) (*SyncResult, error) {
	result.Duration = time.Since(started)

	switch {
	case passErr == nil:
		result.Success = true

		if err := e.store.UpdateFolderStatus(ctx, folder.ID, FolderIdle, ""); err != nil {
			return result, err
		}

		if err := e.store.SetFolderLastSync(ctx, folder.ID, NowNano()); err != nil {
			return result, err
		}

		return result, nil

	case passAborting(passErr):
		// Connectivity or auth: the queue is intact, nothing failed. The
		// folder goes back to idle and the next drain picks up where this
		// one stopped.
		result.Errors = append(result.Errors, passErr.Error())

		if err := e.store.UpdateFolderStatus(ctx, folder.ID, FolderIdle, passErr.Error()); err != nil {
			return result, err
		}

		return result, passErr

	default:
		result.Errors = append(result.Errors, passErr.Error())

		if err := e.store.UpdateFolderStatus(ctx, folder.ID, FolderError, passErr.Error()); err != nil {
			return result, err
		}

		return result, passErr
	}
}

// unionPaths returns the sorted union of paths across the three maps.
func unionPaths(
	locals map[string]*LocalFile, remotes map[string]*RemoteFile, baseline map[string]*BaselineEntry,
) []string {
	seen := make(map[string]bool, len(locals)+len(remotes))

	for p := range locals {
		seen[p] = true
	}

	for p := range remotes {
		seen[p] = true
	}

	for p := range baseline {
		seen[p] = true
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// relRemotePath strips the folder's remote root from an absolute remote path.
func relRemotePath(root, full string) string {
	root = strings.TrimSuffix(root, "/")

	if full == root {
		return ""
	}

	if strings.HasPrefix(full, root+"/") {
		return strings.TrimPrefix(full, root+"/")
	}

	// Server returned a path outside the subtree; treat it as already
	// relative.
	return strings.TrimPrefix(full, "/")
}
