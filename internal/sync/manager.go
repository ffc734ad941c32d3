package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	stdsync "sync"
	"time"

	"github.com/Xveyn/baluhost-sync/internal/nasapi"
)

// partialSuffix marks in-progress download targets. The rename to the final
// name happens only after the body is fully written, so a crash never leaves
// a truncated file under its real name.
const partialSuffix = ".partial"

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Executed  int
	Completed int
	Failed    int
	Requeued  int
	Aborted   bool
}

// Manager drains the pending-operation queue: it orders queued work, executes
// each operation against the remote index or the local filesystem, applies
// the retry budget, and keeps the baseline current as operations complete.
type Manager struct {
	store    *Store
	client   RemoteClient
	uploader *Uploader
	logger   *slog.Logger

	// paths serializes concurrent work on the same relative path; operations
	// on different paths may interleave freely.
	paths keyedMutex
}

// NewManager creates a Manager.
func NewManager(store *Store, client RemoteClient, uploader *Uploader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{store: store, client: client, uploader: uploader, logger: logger}
}

// DrainFolder executes the folder's queued operations in dependency order:
// folder creates parents-first, then transfers, then moves and renames, then
// deletes. Within a tier, operations run oldest-first. A connectivity or auth
// failure aborts the pass and returns the in-flight operation to pending; no
// queued work is failed by an outage.
func (m *Manager) DrainFolder(ctx context.Context, folder *Folder) (*DrainStats, error) {
	ops, err := m.store.ListPending(ctx, folder.ID)
	if err != nil {
		return nil, err
	}

	orderOps(ops)

	stats := &DrainStats{}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			stats.Aborted = true
			return stats, err
		}

		stats.Executed++

		execErr := m.executeTracked(ctx, folder, op)
		if execErr == nil {
			stats.Completed++
			continue
		}

		if passAborting(execErr) {
			stats.Aborted = true

			m.logger.Warn("drain aborted",
				slog.String("folder_id", folder.ID),
				slog.String("op_id", op.ID),
				slog.Any("error", execErr),
			)

			return stats, execErr
		}

		// Operation-level failure: the retry budget decided its fate, the
		// drain moves on to the next operation.
		if op.Status == OpFailed {
			stats.Failed++
		} else {
			stats.Requeued++
		}
	}

	return stats, nil
}

// DrainAll drains every folder's queue sequentially, stopping early when a
// pass-aborting error surfaces. Paused folders are skipped.
func (m *Manager) DrainAll(ctx context.Context) (*DrainStats, error) {
	folders, err := m.store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	total := &DrainStats{}

	for _, f := range folders {
		if f.Status == FolderPaused {
			continue
		}

		stats, err := m.DrainFolder(ctx, f)
		if stats != nil {
			total.Executed += stats.Executed
			total.Completed += stats.Completed
			total.Failed += stats.Failed
			total.Requeued += stats.Requeued
		}

		if err != nil {
			total.Aborted = true
			return total, err
		}
	}

	return total, nil
}

// executeTracked runs one operation through the state machine: mark retrying,
// execute, then settle the outcome. The returned error is non-nil only for
// pass-aborting conditions; per-operation failures are absorbed into the
// operation's own status, which is updated on op in place for the caller.
func (m *Manager) executeTracked(ctx context.Context, folder *Folder, op *PendingOperation) error {
	unlock := m.paths.lock(folder.ID + "\x00" + op.Path)
	defer unlock()

	if err := m.store.MarkRetrying(ctx, op.ID); err != nil {
		return err
	}

	op.Status = OpRetrying

	execErr := m.execute(ctx, folder, op)
	if execErr == nil {
		if err := m.store.MarkCompleted(ctx, op.ID); err != nil {
			return err
		}

		op.Status = OpCompleted

		if err := m.store.IncrementFolderSynced(ctx, folder.ID); err != nil {
			return err
		}

		return nil
	}

	return m.settleFailure(ctx, op, execErr)
}

// settleFailure applies the failure taxonomy to one errored operation.
func (m *Manager) settleFailure(ctx context.Context, op *PendingOperation, execErr error) error {
	switch {
	case passAborting(execErr):
		// Not the operation's fault. Put it back untouched and abort.
		if err := m.store.MarkPending(ctx, op.ID); err != nil {
			return err
		}

		op.Status = OpPending

		return execErr

	case errors.Is(execErr, nasapi.ErrConflict):
		// The remote changed under the operation, so the queued plan is
		// stale. Drop it; the next reconcile pass re-detects the path.
		if err := m.store.Cancel(ctx, op.ID); err != nil {
			return err
		}

		op.Status = OpPending

		m.logger.Warn("operation superseded by remote change",
			slog.String("op_id", op.ID),
			slog.String("path", op.Path),
			slog.Any("error", errors.Join(ErrRemoteConflict, execErr)),
		)

		return nil

	case permanent(execErr):
		if err := m.store.MarkFailed(ctx, op.ID, execErr.Error()); err != nil {
			return err
		}

		op.Status = OpFailed

		m.logger.Error("operation failed permanently",
			slog.String("op_id", op.ID),
			slog.String("type", string(op.Type)),
			slog.String("path", op.Path),
			slog.Any("error", execErr),
		)

		return nil

	default:
		newCount, err := m.store.IncrementRetry(ctx, op.ID, execErr.Error())
		if err != nil {
			return err
		}

		op.RetryCount = newCount
		op.Status = OpPending

		if newCount >= op.MaxRetries {
			if err := m.store.MarkFailed(ctx, op.ID, execErr.Error()); err != nil {
				return err
			}

			op.Status = OpFailed

			m.logger.Error("operation exhausted retries",
				slog.String("op_id", op.ID),
				slog.String("path", op.Path),
				slog.Int("retries", newCount),
			)

			return nil
		}

		m.logger.Warn("operation will retry",
			slog.String("op_id", op.ID),
			slog.String("path", op.Path),
			slog.Int("retry", newCount),
			slog.Int("max", op.MaxRetries),
			slog.Any("error", execErr),
		)

		return nil
	}
}

// execute dispatches one operation to its executor.
func (m *Manager) execute(ctx context.Context, folder *Folder, op *PendingOperation) error {
	m.logger.Debug("executing operation",
		slog.String("op_id", op.ID),
		slog.String("type", string(op.Type)),
		slog.String("path", op.Path),
	)

	switch op.Type {
	case OpUpload:
		return m.executeUpload(ctx, folder, op)
	case OpDownload:
		return m.executeDownload(ctx, folder, op)
	case OpDelete:
		return m.executeDelete(ctx, folder, op)
	case OpCreateFolder:
		return m.executeCreateFolder(ctx, folder, op)
	case OpRename:
		return m.executeTranspose(ctx, folder, op, m.client.Rename, os.Rename)
	case OpMove:
		return m.executeTranspose(ctx, folder, op, m.client.Move, os.Rename)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (m *Manager) executeUpload(ctx context.Context, folder *Folder, op *PendingOperation) error {
	localAbs := op.LocalPath
	if localAbs == "" {
		localAbs = localPathFor(folder, op.Path)
	}

	if err := m.uploader.Upload(ctx, folder.ID, localAbs, remotePathFor(folder, op.Path)); err != nil {
		return err
	}

	info, err := os.Stat(localAbs)
	if err != nil {
		return fmt.Errorf("stat after upload %s: %w", localAbs, err)
	}

	hash, err := HashFile(localAbs)
	if err != nil {
		return fmt.Errorf("hash after upload %s: %w", localAbs, err)
	}

	return m.store.UpsertBaselineEntry(ctx, &BaselineEntry{
		FolderID: folder.ID,
		Path:     op.Path,
		Size:     info.Size(),
		Mtime:    info.ModTime().UnixNano(),
		Hash:     hash,
		SyncedAt: NowNano(),
	})
}

func (m *Manager) executeDownload(ctx context.Context, folder *Folder, op *PendingOperation) error {
	var payload OpPayload
	if len(op.Payload) > 0 {
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return fmt.Errorf("decoding download payload: %w", err)
		}
	}

	localAbs := localPathFor(folder, op.Path)
	partial := localAbs + partialSuffix

	if err := os.MkdirAll(filepath.Dir(localAbs), 0o755); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("creating %s: %w", filepath.Dir(localAbs), ErrLocalAccessDenied)
		}

		return err
	}

	f, err := os.Create(partial)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("creating %s: %w", partial, ErrLocalAccessDenied)
		}

		return err
	}

	written, err := m.client.Download(ctx, remotePathFor(folder, op.Path), f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(partial) //nolint:errcheck,gosec // best-effort cleanup of partial file

		return err
	}

	if err := os.Rename(partial, localAbs); err != nil {
		return fmt.Errorf("finalizing download %s: %w", localAbs, err)
	}

	entry := &BaselineEntry{
		FolderID: folder.ID,
		Path:     op.Path,
		Size:     written,
		Hash:     payload.Hash,
		SyncedAt: NowNano(),
	}

	// Stamp the remote mtime locally so the next scan sees both sides equal.
	if payload.Mtime > 0 {
		mt := nanoTime(payload.Mtime)
		if chErr := os.Chtimes(localAbs, mt, mt); chErr == nil {
			entry.Mtime = payload.Mtime
		}
	}

	if entry.Mtime == 0 {
		if info, statErr := os.Stat(localAbs); statErr == nil {
			entry.Mtime = info.ModTime().UnixNano()
		}
	}

	return m.store.UpsertBaselineEntry(ctx, entry)
}

func (m *Manager) executeDelete(ctx context.Context, folder *Folder, op *PendingOperation) error {
	side, err := payloadSide(op)
	if err != nil {
		return err
	}

	switch side {
	case SideLocal:
		if err := os.Remove(localPathFor(folder, op.Path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("deleting %s: %w", op.Path, ErrLocalAccessDenied)
			}

			return err
		}

	case SideRemote:
		// Deleting something already gone is success.
		err := m.client.DeleteFile(ctx, remotePathFor(folder, op.Path))
		if err != nil && !errors.Is(err, nasapi.ErrNotFound) {
			return err
		}
	}

	return m.store.DeleteBaselineEntry(ctx, folder.ID, op.Path)
}

func (m *Manager) executeCreateFolder(ctx context.Context, folder *Folder, op *PendingOperation) error {
	side, err := payloadSide(op)
	if err != nil {
		return err
	}

	switch side {
	case SideLocal:
		if err := os.MkdirAll(localPathFor(folder, op.Path), 0o755); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("creating folder %s: %w", op.Path, ErrLocalAccessDenied)
			}

			return err
		}

		return nil

	default:
		return m.client.CreateFolder(ctx, remotePathFor(folder, op.Path))
	}
}

// executeTranspose runs a move or rename on the side named by the payload and
// follows it in the baseline.
func (m *Manager) executeTranspose(
	ctx context.Context, folder *Folder, op *PendingOperation,
	remoteFn func(ctx context.Context, from, to string) error,
	localFn func(from, to string) error,
) error {
	side, err := payloadSide(op)
	if err != nil {
		return err
	}

	switch side {
	case SideLocal:
		from := localPathFor(folder, op.Path)
		to := localPathFor(folder, op.DestPath)

		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return err
		}

		if err := localFn(from, to); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("moving %s: %w", op.Path, ErrLocalAccessDenied)
			}

			return err
		}

	default:
		if err := remoteFn(ctx, remotePathFor(folder, op.Path), remotePathFor(folder, op.DestPath)); err != nil {
			return err
		}
	}

	return m.store.RenameBaselineEntry(ctx, folder.ID, op.Path, op.DestPath)
}

// --- ordering ---

// opTier assigns each operation type its drain tier. Folder creation must
// precede the transfers into those folders; deletes come last so a move
// pairing never races its source removal.
func opTier(t OperationType) int {
	switch t {
	case OpCreateFolder:
		return 0
	case OpUpload, OpDownload:
		return 1
	case OpMove, OpRename:
		return 2
	case OpDelete:
		return 3
	default:
		return 4
	}
}

// orderOps sorts in place: tier, then depth for folder creates (parents
// first) and inverse depth for deletes (leaves first), then FIFO.
func orderOps(ops []*PendingOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		ti, tj := opTier(ops[i].Type), opTier(ops[j].Type)
		if ti != tj {
			return ti < tj
		}

		if ops[i].Type == OpCreateFolder && ops[j].Type == OpCreateFolder {
			if di, dj := pathDepth(ops[i].Path), pathDepth(ops[j].Path); di != dj {
				return di < dj
			}
		}

		if ops[i].Type == OpDelete && ops[j].Type == OpDelete {
			if di, dj := pathDepth(ops[i].Path), pathDepth(ops[j].Path); di != dj {
				return di > dj
			}
		}

		if ops[i].CreatedAt != ops[j].CreatedAt {
			return ops[i].CreatedAt < ops[j].CreatedAt
		}

		return ops[i].ID < ops[j].ID
	})
}

// --- helpers ---

func nanoTime(ns int64) time.Time {
	return time.Unix(0, ns)
}

func payloadSide(op *PendingOperation) (OpSide, error) {
	var payload OpPayload
	if len(op.Payload) > 0 {
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return "", fmt.Errorf("decoding payload for %s: %w", op.ID, err)
		}
	}

	if payload.Side == "" {
		payload.Side = SideRemote
	}

	return payload.Side, nil
}

func localPathFor(folder *Folder, relPath string) string {
	return filepath.Join(folder.LocalRoot, filepath.FromSlash(relPath))
}

func remotePathFor(folder *Folder, relPath string) string {
	return path.Join(folder.RemotePath, relPath)
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[string]*stdsync.Mutex)
	}

	l, ok := k.locks[key]
	if !ok {
		l = &stdsync.Mutex{}
		k.locks[key] = l
	}

	k.mu.Unlock()

	l.Lock()

	return l.Unlock
}
