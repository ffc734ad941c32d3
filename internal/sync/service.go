package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
)

// Service is the application-facing facade over the sync subsystem. CLI
// commands and the daemon talk to it rather than to the engine, manager, and
// store individually.
type Service struct {
	store   *Store
	engine  *Engine
	manager *Manager
	hub     *Hub
	logger  *slog.Logger
}

// NewService wires a Service.
func NewService(store *Store, engine *Engine, manager *Manager, hub *Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: store, engine: engine, manager: manager, hub: hub, logger: logger}
}

// --- folders ---

// AddFolder registers a new folder pairing.
func (s *Service) AddFolder(ctx context.Context, f *Folder) error {
	if f.LocalRoot == "" || f.RemotePath == "" {
		return fmt.Errorf("sync: folder requires both local root and remote path")
	}

	if f.SyncType == "" {
		f.SyncType = SyncBidirectional
	}

	if f.ConflictPolicy == "" {
		f.ConflictPolicy = PolicyKeepNewest
	}

	return s.store.SaveFolder(ctx, f)
}

// RemoveFolder deletes a pairing and its queued state. Local files and the
// remote tree are left untouched.
func (s *Service) RemoveFolder(ctx context.Context, folderID string) error {
	return s.store.DeleteFolder(ctx, folderID)
}

// GetFolder returns one folder pairing.
func (s *Service) GetFolder(ctx context.Context, folderID string) (*Folder, error) {
	return s.store.GetFolder(ctx, folderID)
}

// ListFolders returns all folder pairings.
func (s *Service) ListFolders(ctx context.Context) ([]*Folder, error) {
	return s.store.ListFolders(ctx)
}

// PauseFolder suspends syncing for a folder. Queued operations are retained
// but not drained until resume.
func (s *Service) PauseFolder(ctx context.Context, folderID string) error {
	return s.store.UpdateFolderStatus(ctx, folderID, FolderPaused, "")
}

// ResumeFolder returns a paused folder to idle, making it eligible for the
// next pass.
func (s *Service) ResumeFolder(ctx context.Context, folderID string) error {
	f, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}

	if f.Status != FolderPaused {
		return nil
	}

	return s.store.UpdateFolderStatus(ctx, folderID, FolderIdle, "")
}

// --- reconciliation ---

// TriggerReconcile runs one reconciliation pass over a folder.
func (s *Service) TriggerReconcile(ctx context.Context, folderID string) (*SyncResult, error) {
	return s.engine.Reconcile(ctx, folderID)
}

// TriggerReconcileAll runs passes over every folder.
func (s *Service) TriggerReconcileAll(ctx context.Context) ([]*SyncResult, error) {
	return s.engine.ReconcileAll(ctx)
}

// DrainQueues executes queued operations without a fresh reconciliation,
// used when connectivity returns.
func (s *Service) DrainQueues(ctx context.Context) (*DrainStats, error) {
	return s.manager.DrainAll(ctx)
}

// --- pending operations ---

// ListOperations returns the operation history for a folder (all folders when
// folderID is empty).
func (s *Service) ListOperations(ctx context.Context, folderID string) ([]*PendingOperation, error) {
	return s.store.ListOperations(ctx, folderID)
}

// RetryOperation resets a failed operation to pending with a fresh retry
// budget.
func (s *Service) RetryOperation(ctx context.Context, operationID string) error {
	return s.store.ResetForRetry(ctx, operationID)
}

// CancelOperation removes a queued operation before it executes.
func (s *Service) CancelOperation(ctx context.Context, operationID string) error {
	return s.store.Cancel(ctx, operationID)
}

// --- offline action queue ---
// User actions taken while disconnected are captured as pending operations
// and execute on the next drain.

// QueueDelete queues deletion of a remote file.
func (s *Service) QueueDelete(ctx context.Context, folderID, relPath string) (*PendingOperation, error) {
	return s.queueSided(ctx, folderID, OpDelete, relPath, "", SideRemote)
}

// QueueCreateFolder queues creation of a remote directory.
func (s *Service) QueueCreateFolder(ctx context.Context, folderID, relPath string) (*PendingOperation, error) {
	return s.queueSided(ctx, folderID, OpCreateFolder, relPath, "", SideRemote)
}

// QueueRename queues a remote rename.
func (s *Service) QueueRename(ctx context.Context, folderID, relPath, destPath string) (*PendingOperation, error) {
	return s.queueSided(ctx, folderID, OpRename, relPath, destPath, SideRemote)
}

// QueueMove queues a remote move.
func (s *Service) QueueMove(ctx context.Context, folderID, relPath, destPath string) (*PendingOperation, error) {
	return s.queueSided(ctx, folderID, OpMove, relPath, destPath, SideRemote)
}

// QueueUpload queues an upload of a local file.
func (s *Service) QueueUpload(ctx context.Context, folderID, relPath string) (*PendingOperation, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	return s.store.Enqueue(ctx, &PendingOperation{
		FolderID:  folderID,
		Type:      OpUpload,
		Path:      relPath,
		LocalPath: localPathFor(folder, relPath),
	})
}

func (s *Service) queueSided(
	ctx context.Context, folderID string, opType OperationType, relPath, destPath string, side OpSide,
) (*PendingOperation, error) {
	if _, err := s.store.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(OpPayload{Side: side})
	if err != nil {
		return nil, fmt.Errorf("sync: encoding payload: %w", err)
	}

	return s.store.Enqueue(ctx, &PendingOperation{
		FolderID: folderID,
		Type:     opType,
		Path:     relPath,
		DestPath: destPath,
		Payload:  payload,
	})
}

// --- conflicts ---

// ListConflicts returns conflicts awaiting a user decision (all folders when
// folderID is empty).
func (s *Service) ListConflicts(ctx context.Context, folderID string) ([]*Conflict, error) {
	return s.store.ListConflicts(ctx, folderID, true)
}

// ResolveConflict applies the user's decision to a held conflict: the chosen
// side's state is queued for propagation and the conflict is marked resolved.
// PolicyAskUser is not a valid resolution.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string, resolution ConflictPolicy) error {
	if resolution == PolicyAskUser {
		return fmt.Errorf("sync: %q is not a resolution", resolution)
	}

	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}

	folder, err := s.store.GetFolder(ctx, conflict.FolderID)
	if err != nil {
		return err
	}

	planned, err := materializeResolution(folder, conflict, resolution)
	if err != nil {
		return err
	}

	for _, p := range planned {
		if _, err := s.store.Enqueue(ctx, &PendingOperation{
			FolderID:  folder.ID,
			Type:      p.Type,
			Path:      p.Path,
			LocalPath: p.LocalPath,
			DestPath:  p.DestPath,
			Payload:   p.Payload,
		}); err != nil {
			return err
		}
	}

	if err := s.store.MarkConflictResolved(ctx, conflictID, resolution); err != nil {
		return err
	}

	s.logger.Info("conflict resolved",
		slog.String("conflict_id", conflictID),
		slog.String("path", conflict.Path),
		slog.String("resolution", string(resolution)),
	)

	return nil
}

// materializeResolution turns a decided conflict into planned operations.
// Side presence is read off the recorded metadata: a side with a zero mtime
// was absent when the conflict was detected.
func materializeResolution(folder *Folder, c *Conflict, resolution ConflictPolicy) ([]PlannedOp, error) {
	localPresent := c.LocalMtime > 0
	remotePresent := c.RemoteMtime > 0

	if resolution == PolicyKeepNewest {
		// Ties resolve to the server side.
		if localPresent && (!remotePresent || c.LocalMtime > c.RemoteMtime) {
			resolution = PolicyKeepLocal
		} else {
			resolution = PolicyKeepServer
		}
	}

	switch resolution {
	case PolicyKeepLocal:
		if !localPresent {
			return []PlannedOp{deleteOp(c.Path, SideRemote)}, nil
		}

		return []PlannedOp{uploadOp(c.Path, localPathFor(folder, c.Path))}, nil

	case PolicyKeepServer:
		if !remotePresent {
			return []PlannedOp{deleteOp(c.Path, SideLocal)}, nil
		}

		return []PlannedOp{downloadOp(c.Path, &RemoteFile{
			Path:  c.Path,
			Name:  path.Base(c.Path),
			Size:  c.RemoteSize,
			Hash:  c.RemoteHash,
			Mtime: c.RemoteMtime,
		})}, nil

	default:
		return nil, fmt.Errorf("sync: unknown resolution %q", resolution)
	}
}

// --- observation ---

// ObserveFolderStatus streams folder snapshots as the folder's configuration
// or status changes.
func (s *Service) ObserveFolderStatus(folderID string) (<-chan *Folder, func()) {
	return s.hub.SubscribeFolder(folderID)
}

// ObservePendingOperations streams pending-operation list snapshots.
func (s *Service) ObservePendingOperations() (<-chan []*PendingOperation, func()) {
	return s.hub.SubscribeOps()
}

// ObserveUploads streams upload queue snapshots with byte-level progress.
func (s *Service) ObserveUploads() (<-chan []*UploadItem, func()) {
	return s.hub.SubscribeUploads()
}
