package sync

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Store is the durable state layer: folder pairings, the pending-operation
// queue, per-folder baselines, held conflicts, and the upload queue, all in a
// single SQLite database. Mutations notify the Hub so observers see fresh
// snapshots without polling.
type Store struct {
	db     *sql.DB
	hub    *Hub
	logger *slog.Logger
}

// OpenStore opens (creating if needed) the database at path, applies pragmas
// and schema migrations, and returns a ready Store. hub may be nil when no
// observers are wanted (tests, one-shot CLI commands).
func OpenStore(ctx context.Context, path string, hub *Hub, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sync: opening database: %w", err)
	}

	// WAL lets the scheduler drain while the CLI reads status. The busy
	// timeout covers the brief writer lock during checkpoints.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close() //nolint:errcheck,gosec // best-effort cleanup on open failure
			return nil, fmt.Errorf("sync: applying %q: %w", p, err)
		}
	}

	if err := migrate(ctx, db, logger); err != nil {
		db.Close() //nolint:errcheck,gosec // best-effort cleanup on open failure
		return nil, err
	}

	return &Store{db: db, hub: hub, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- folders ---

const (
	sqlUpsertFolder = `
		INSERT INTO folders (
			id, device_id, local_root, remote_path, sync_type, auto_sync,
			conflict_policy, status, last_sync_at, total_files, synced_files,
			exclude_patterns, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id        = excluded.device_id,
			local_root       = excluded.local_root,
			remote_path      = excluded.remote_path,
			sync_type        = excluded.sync_type,
			auto_sync        = excluded.auto_sync,
			conflict_policy  = excluded.conflict_policy,
			exclude_patterns = excluded.exclude_patterns,
			updated_at       = excluded.updated_at`

	sqlSelectFolder = `
		SELECT id, device_id, local_root, remote_path, sync_type, auto_sync,
			conflict_policy, status, last_sync_at, total_files, synced_files,
			exclude_patterns, last_error, created_at, updated_at
		FROM folders`

	sqlUpdateFolderStatus = `
		UPDATE folders SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`

	sqlUpdateFolderCounters = `
		UPDATE folders SET total_files = ?, synced_files = ?, updated_at = ? WHERE id = ?`

	sqlIncrementFolderSynced = `
		UPDATE folders SET synced_files = synced_files + 1, updated_at = ? WHERE id = ?`

	sqlUpdateFolderLastSync = `
		UPDATE folders SET last_sync_at = ?, updated_at = ? WHERE id = ?`
)

// SaveFolder inserts or updates a folder pairing. A missing ID is assigned.
// Runtime columns (status, counters, last sync) are preserved on update;
// SaveFolder only touches configuration.
func (s *Store) SaveFolder(ctx context.Context, f *Folder) error {
	now := NowNano()

	if f.ID == "" {
		f.ID = uuid.NewString()
		f.CreatedAt = now
	}

	if f.Status == "" {
		f.Status = FolderIdle
	}

	f.UpdatedAt = now

	patterns, err := json.Marshal(f.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("sync: encoding exclude patterns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, sqlUpsertFolder,
		f.ID, f.DeviceID, f.LocalRoot, f.RemotePath, string(f.SyncType),
		boolToInt(f.AutoSync), string(f.ConflictPolicy), string(f.Status),
		nullableInt64(f.LastSyncAt), f.TotalFiles, f.SyncedFiles,
		string(patterns), f.LastError, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sync: saving folder %s: %w", f.ID, err)
	}

	s.notifyFolder(ctx, f.ID)

	return nil
}

// GetFolder returns one folder by ID, or ErrFolderNotFound.
func (s *Store) GetFolder(ctx context.Context, id string) (*Folder, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectFolder+" WHERE id = ?", id)

	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFolderNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("sync: loading folder %s: %w", id, err)
	}

	return f, nil
}

// ListFolders returns all folder pairings ordered by creation time.
func (s *Store) ListFolders(ctx context.Context) ([]*Folder, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectFolder+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("sync: listing folders: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var folders []*Folder

	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scanning folder: %w", err)
		}

		folders = append(folders, f)
	}

	return folders, rows.Err()
}

// UpdateFolderStatus transitions a folder's lifecycle state. lastError is
// cleared on non-error states by passing "".
func (s *Store) UpdateFolderStatus(ctx context.Context, id string, status FolderStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateFolderStatus, string(status), lastError, NowNano(), id)
	if err != nil {
		return fmt.Errorf("sync: updating folder %s status: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports affected rows
		return ErrFolderNotFound
	}

	s.notifyFolder(ctx, id)

	return nil
}

// UpdateFolderCounters sets the total/synced file counters for progress
// reporting at the start of a pass.
func (s *Store) UpdateFolderCounters(ctx context.Context, id string, total, synced int) error {
	if _, err := s.db.ExecContext(ctx, sqlUpdateFolderCounters, total, synced, NowNano(), id); err != nil {
		return fmt.Errorf("sync: updating folder %s counters: %w", id, err)
	}

	s.notifyFolder(ctx, id)

	return nil
}

// IncrementFolderSynced bumps the synced counter after one operation completes.
func (s *Store) IncrementFolderSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlIncrementFolderSynced, NowNano(), id); err != nil {
		return fmt.Errorf("sync: incrementing folder %s synced count: %w", id, err)
	}

	s.notifyFolder(ctx, id)

	return nil
}

// SetFolderLastSync records the completion time of a successful pass.
func (s *Store) SetFolderLastSync(ctx context.Context, id string, ts int64) error {
	if _, err := s.db.ExecContext(ctx, sqlUpdateFolderLastSync, ts, NowNano(), id); err != nil {
		return fmt.Errorf("sync: updating folder %s last sync: %w", id, err)
	}

	s.notifyFolder(ctx, id)

	return nil
}

// DeleteFolder removes a folder pairing and all of its dependent state.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning folder delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range []string{
		"DELETE FROM pending_operations WHERE folder_id = ?",
		"DELETE FROM baseline_entries WHERE folder_id = ?",
		"DELETE FROM conflicts WHERE folder_id = ?",
		"DELETE FROM upload_queue WHERE folder_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("sync: deleting folder %s state: %w", id, err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sync: deleting folder %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports affected rows
		return ErrFolderNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing folder delete: %w", err)
	}

	s.notifyOps(ctx)

	return nil
}

// --- pending operations ---

const (
	sqlInsertOperation = `
		INSERT INTO pending_operations (
			id, folder_id, op_type, path, local_path, dest_path, payload,
			status, retry_count, max_retries, last_error, created_at,
			last_retry_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectOperation = `
		SELECT id, folder_id, op_type, path, local_path, dest_path, payload,
			status, retry_count, max_retries, last_error, created_at,
			last_retry_at, completed_at
		FROM pending_operations`

	sqlFindDuplicateOp = sqlSelectOperation + `
		WHERE folder_id = ? AND op_type = ? AND path = ? AND dest_path = ?
			AND status IN ('pending', 'retrying')
		LIMIT 1`

	sqlRefreshDuplicateOp = `
		UPDATE pending_operations SET payload = ?, local_path = ?
		WHERE id = ?`

	sqlMarkRetrying = `
		UPDATE pending_operations SET status = 'retrying', last_retry_at = ?
		WHERE id = ? AND status IN ('pending', 'retrying')`

	sqlMarkCompleted = `
		UPDATE pending_operations SET status = 'completed', completed_at = ?, last_error = ''
		WHERE id = ?`

	sqlMarkFailed = `
		UPDATE pending_operations SET status = 'failed', last_error = ?
		WHERE id = ?`

	sqlIncrementRetry = `
		UPDATE pending_operations
		SET retry_count = retry_count + 1, status = 'pending',
			last_error = ?, last_retry_at = ?
		WHERE id = ?`

	sqlMarkPending = `
		UPDATE pending_operations SET status = 'pending'
		WHERE id = ? AND status = 'retrying'`

	sqlResetForRetry = `
		UPDATE pending_operations
		SET status = 'pending', retry_count = 0, last_error = ''
		WHERE id = ? AND status = 'failed'`

	sqlCancelOperation = `
		DELETE FROM pending_operations
		WHERE id = ? AND status IN ('pending', 'retrying')`
)

// Enqueue inserts a new pending operation, or updates the existing one in
// place when a non-terminal duplicate with the same (type, path, destination)
// already sits in the queue for the folder. Enqueueing is idempotent across
// repeated reconciliation passes, and a re-enqueue carries the freshest
// payload forward.
func (s *Store) Enqueue(ctx context.Context, op *PendingOperation) (*PendingOperation, error) {
	existing, err := s.findDuplicate(ctx, op)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := s.refreshDuplicate(ctx, existing, op); err != nil {
			return nil, err
		}

		s.logger.Debug("enqueue deduplicated",
			slog.String("op_id", existing.ID),
			slog.String("type", string(op.Type)),
			slog.String("path", op.Path),
		)

		return existing, nil
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	if op.Status == "" {
		op.Status = OpPending
	}

	if op.MaxRetries == 0 {
		op.MaxRetries = DefaultMaxRetries
	}

	if op.CreatedAt == 0 {
		op.CreatedAt = NowNano()
	}

	_, err = s.db.ExecContext(ctx, sqlInsertOperation,
		op.ID, op.FolderID, string(op.Type), op.Path, op.LocalPath,
		op.DestPath, op.Payload, string(op.Status), op.RetryCount,
		op.MaxRetries, op.LastError, op.CreatedAt,
		nullableInt64(op.LastRetryAt), nullableInt64(op.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("sync: enqueueing %s %s: %w", op.Type, op.Path, err)
	}

	s.notifyOps(ctx)

	return op, nil
}

// refreshDuplicate brings a deduplicated operation's payload and local path
// up to date with the re-enqueued one. A queued DOWNLOAD whose remote changed
// again must record the newest hash and mtime, not the ones it was first
// planned with. Retry state and queue position are untouched.
func (s *Store) refreshDuplicate(ctx context.Context, existing, op *PendingOperation) error {
	if bytes.Equal(existing.Payload, op.Payload) && existing.LocalPath == op.LocalPath {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, sqlRefreshDuplicateOp,
		op.Payload, op.LocalPath, existing.ID); err != nil {
		return fmt.Errorf("sync: refreshing duplicate %s: %w", existing.ID, err)
	}

	existing.Payload = op.Payload
	existing.LocalPath = op.LocalPath

	s.notifyOps(ctx)

	return nil
}

func (s *Store) findDuplicate(ctx context.Context, op *PendingOperation) (*PendingOperation, error) {
	row := s.db.QueryRowContext(ctx, sqlFindDuplicateOp,
		op.FolderID, string(op.Type), op.Path, op.DestPath)

	dup, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: checking duplicate for %s %s: %w", op.Type, op.Path, err)
	}

	return dup, nil
}

// GetOperation returns one operation by ID, or ErrOperationNotFound.
func (s *Store) GetOperation(ctx context.Context, id string) (*PendingOperation, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectOperation+" WHERE id = ?", id)

	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("sync: loading operation %s: %w", id, err)
	}

	return op, nil
}

// ListPending returns the folder's executable operations (pending or
// retrying) in FIFO order. An empty folderID selects all folders.
func (s *Store) ListPending(ctx context.Context, folderID string) ([]*PendingOperation, error) {
	query := sqlSelectOperation + " WHERE status IN ('pending', 'retrying')"
	args := []any{}

	if folderID != "" {
		query += " AND folder_id = ?"
		args = append(args, folderID)
	}

	query += " ORDER BY created_at, id"

	return s.queryOperations(ctx, query, args...)
}

// ListOperations returns all operations for a folder, newest last. An empty
// folderID selects all folders.
func (s *Store) ListOperations(ctx context.Context, folderID string) ([]*PendingOperation, error) {
	query := sqlSelectOperation
	args := []any{}

	if folderID != "" {
		query += " WHERE folder_id = ?"
		args = append(args, folderID)
	}

	query += " ORDER BY created_at, id"

	return s.queryOperations(ctx, query, args...)
}

func (s *Store) queryOperations(ctx context.Context, query string, args ...any) ([]*PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: listing operations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var ops []*PendingOperation

	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scanning operation: %w", err)
		}

		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// MarkRetrying moves an operation into the retrying state as the executor
// picks it up. Terminal operations are left untouched.
func (s *Store) MarkRetrying(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlMarkRetrying, NowNano(), id); err != nil {
		return fmt.Errorf("sync: marking operation %s retrying: %w", id, err)
	}

	s.notifyOps(ctx)

	return nil
}

// MarkCompleted moves an operation to the terminal completed state.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlMarkCompleted, NowNano(), id); err != nil {
		return fmt.Errorf("sync: marking operation %s completed: %w", id, err)
	}

	s.notifyOps(ctx)

	return nil
}

// MarkFailed moves an operation to the terminal failed state, recording the
// final error for display.
func (s *Store) MarkFailed(ctx context.Context, id, lastError string) error {
	if _, err := s.db.ExecContext(ctx, sqlMarkFailed, lastError, id); err != nil {
		return fmt.Errorf("sync: marking operation %s failed: %w", id, err)
	}

	s.notifyOps(ctx)

	return nil
}

// MarkPending returns a retrying operation to pending without touching its
// retry counter. Used when a drain aborts for connectivity rather than an
// operation-level failure.
func (s *Store) MarkPending(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlMarkPending, id); err != nil {
		return fmt.Errorf("sync: returning operation %s to pending: %w", id, err)
	}

	s.notifyOps(ctx)

	return nil
}

// IncrementRetry records a retryable failure: bumps the counter, stores the
// error, and returns the operation to pending. The new count is returned so
// the caller can decide whether the retry budget is exhausted.
func (s *Store) IncrementRetry(ctx context.Context, id, lastError string) (int, error) {
	if _, err := s.db.ExecContext(ctx, sqlIncrementRetry, lastError, NowNano(), id); err != nil {
		return 0, fmt.Errorf("sync: incrementing retry for operation %s: %w", id, err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT retry_count FROM pending_operations WHERE id = ?", id,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("sync: reading retry count for operation %s: %w", id, err)
	}

	s.notifyOps(ctx)

	return count, nil
}

// Cancel removes a non-terminal operation from the queue. Cancelling a
// missing, completed, or failed operation returns ErrOperationNotFound.
func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlCancelOperation, id)
	if err != nil {
		return fmt.Errorf("sync: cancelling operation %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports affected rows
		return ErrOperationNotFound
	}

	s.notifyOps(ctx)

	return nil
}

// ResetForRetry returns a failed operation to pending with a fresh retry
// budget. Only failed operations are eligible.
func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlResetForRetry, id)
	if err != nil {
		return fmt.Errorf("sync: resetting operation %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports affected rows
		return ErrOperationNotFound
	}

	s.notifyOps(ctx)

	return nil
}

// --- baseline ---

const (
	sqlUpsertBaseline = `
		INSERT INTO baseline_entries (folder_id, path, size, mtime, hash, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_id, path) DO UPDATE SET
			size      = excluded.size,
			mtime     = excluded.mtime,
			hash      = excluded.hash,
			synced_at = excluded.synced_at`

	sqlSelectBaseline = `
		SELECT folder_id, path, size, mtime, hash, synced_at
		FROM baseline_entries WHERE folder_id = ?`
)

// GetBaseline loads the folder's full baseline keyed by relative path.
func (s *Store) GetBaseline(ctx context.Context, folderID string) (map[string]*BaselineEntry, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectBaseline, folderID)
	if err != nil {
		return nil, fmt.Errorf("sync: loading baseline for folder %s: %w", folderID, err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	base := make(map[string]*BaselineEntry)

	for rows.Next() {
		var e BaselineEntry
		if err := rows.Scan(&e.FolderID, &e.Path, &e.Size, &e.Mtime, &e.Hash, &e.SyncedAt); err != nil {
			return nil, fmt.Errorf("sync: scanning baseline entry: %w", err)
		}

		base[e.Path] = &e
	}

	return base, rows.Err()
}

// UpsertBaselineEntry records the state of one path at sync time.
func (s *Store) UpsertBaselineEntry(ctx context.Context, e *BaselineEntry) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertBaseline,
		e.FolderID, e.Path, e.Size, e.Mtime, e.Hash, e.SyncedAt)
	if err != nil {
		return fmt.Errorf("sync: saving baseline for %s: %w", e.Path, err)
	}

	return nil
}

// DeleteBaselineEntry drops one path from the baseline after a propagated
// deletion.
func (s *Store) DeleteBaselineEntry(ctx context.Context, folderID, path string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM baseline_entries WHERE folder_id = ? AND path = ?", folderID, path)
	if err != nil {
		return fmt.Errorf("sync: deleting baseline for %s: %w", path, err)
	}

	return nil
}

// RenameBaselineEntry follows a completed move or rename so the next pass
// does not see a spurious delete-plus-create.
func (s *Store) RenameBaselineEntry(ctx context.Context, folderID, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE baseline_entries SET path = ? WHERE folder_id = ? AND path = ?",
		to, folderID, from)
	if err != nil {
		return fmt.Errorf("sync: renaming baseline %s to %s: %w", from, to, err)
	}

	return nil
}

// --- conflicts ---

const (
	sqlInsertConflict = `
		INSERT INTO conflicts (
			id, folder_id, path, name, local_size, local_mtime,
			remote_size, remote_mtime, local_hash, remote_hash,
			detected_at, resolution
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectConflict = `
		SELECT id, folder_id, path, name, local_size, local_mtime,
			remote_size, remote_mtime, local_hash, remote_hash,
			detected_at, resolution
		FROM conflicts`
)

// SaveConflict persists a held conflict. A missing ID is assigned. An
// existing unresolved conflict for the same (folder, path) is replaced so
// repeated passes refresh the recorded metadata instead of duplicating rows.
func (s *Store) SaveConflict(ctx context.Context, c *Conflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning conflict save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM conflicts WHERE folder_id = ? AND path = ? AND resolution IS NULL",
		c.FolderID, c.Path,
	); err != nil {
		return fmt.Errorf("sync: replacing conflict for %s: %w", c.Path, err)
	}

	var resolution *string
	if c.Resolution != nil {
		r := string(*c.Resolution)
		resolution = &r
	}

	if _, err := tx.ExecContext(ctx, sqlInsertConflict,
		c.ID, c.FolderID, c.Path, c.Name, c.LocalSize, c.LocalMtime,
		c.RemoteSize, c.RemoteMtime, c.LocalHash, c.RemoteHash,
		c.DetectedAt, resolution,
	); err != nil {
		return fmt.Errorf("sync: saving conflict for %s: %w", c.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing conflict save: %w", err)
	}

	return nil
}

// GetConflict returns one conflict by ID, or ErrConflictNotFound.
func (s *Store) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectConflict+" WHERE id = ?", id)

	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflictNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("sync: loading conflict %s: %w", id, err)
	}

	return c, nil
}

// ListConflicts returns the folder's conflicts, oldest first. An empty
// folderID selects all folders. Set unresolvedOnly to hide resolved history.
func (s *Store) ListConflicts(ctx context.Context, folderID string, unresolvedOnly bool) ([]*Conflict, error) {
	query := sqlSelectConflict + " WHERE 1=1"
	args := []any{}

	if folderID != "" {
		query += " AND folder_id = ?"
		args = append(args, folderID)
	}

	if unresolvedOnly {
		query += " AND resolution IS NULL"
	}

	query += " ORDER BY detected_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: listing conflicts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var conflicts []*Conflict

	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scanning conflict: %w", err)
		}

		conflicts = append(conflicts, c)
	}

	return conflicts, rows.Err()
}

// MarkConflictResolved records the user's chosen resolution.
func (s *Store) MarkConflictResolved(ctx context.Context, id string, resolution ConflictPolicy) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conflicts SET resolution = ? WHERE id = ? AND resolution IS NULL",
		string(resolution), id)
	if err != nil {
		return fmt.Errorf("sync: resolving conflict %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports affected rows
		return ErrConflictNotFound
	}

	return nil
}

// DeleteConflict removes a conflict record.
func (s *Store) DeleteConflict(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conflicts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sync: deleting conflict %s: %w", id, err)
	}

	return nil
}

// --- upload queue ---

const (
	sqlUpsertUploadItem = `
		INSERT INTO upload_queue (
			id, folder_id, name, local_path, remote_path, file_size,
			uploaded_bytes, upload_id, file_hash, status, retry_count,
			max_retries, created_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_size      = excluded.file_size,
			uploaded_bytes = excluded.uploaded_bytes,
			upload_id      = excluded.upload_id,
			file_hash      = excluded.file_hash,
			status         = excluded.status,
			retry_count    = excluded.retry_count,
			error          = excluded.error`

	sqlSelectUploadItem = `
		SELECT id, folder_id, name, local_path, remote_path, file_size,
			uploaded_bytes, upload_id, file_hash, status, retry_count,
			max_retries, created_at, error
		FROM upload_queue`
)

// SaveUploadItem inserts or updates an upload queue item. A missing ID is
// assigned.
func (s *Store) SaveUploadItem(ctx context.Context, u *UploadItem) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	if u.Status == "" {
		u.Status = UploadPending
	}

	if u.MaxRetries == 0 {
		u.MaxRetries = DefaultMaxRetries
	}

	if u.CreatedAt == 0 {
		u.CreatedAt = NowNano()
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertUploadItem,
		u.ID, u.FolderID, u.Name, u.LocalPath, u.RemotePath, u.FileSize,
		u.UploadedBytes, u.UploadID, u.FileHash, string(u.Status),
		u.RetryCount, u.MaxRetries, u.CreatedAt, u.Error,
	)
	if err != nil {
		return fmt.Errorf("sync: saving upload item %s: %w", u.RemotePath, err)
	}

	s.notifyUploads(ctx)

	return nil
}

// GetUploadItemByPath finds the upload item for a (folder, remote path) pair.
// Returns nil without error when absent.
func (s *Store) GetUploadItemByPath(ctx context.Context, folderID, remotePath string) (*UploadItem, error) {
	row := s.db.QueryRowContext(ctx,
		sqlSelectUploadItem+" WHERE folder_id = ? AND remote_path = ?",
		folderID, remotePath)

	u, err := scanUploadItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: loading upload item for %s: %w", remotePath, err)
	}

	return u, nil
}

// UpdateUploadProgress records chunk-level progress mid-transfer.
func (s *Store) UpdateUploadProgress(ctx context.Context, id string, uploadedBytes int64, status UploadState) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE upload_queue SET uploaded_bytes = ?, status = ? WHERE id = ?",
		uploadedBytes, string(status), id)
	if err != nil {
		return fmt.Errorf("sync: updating upload %s progress: %w", id, err)
	}

	s.notifyUploads(ctx)

	return nil
}

// ListUploadItems returns the folder's upload queue, oldest first. An empty
// folderID selects all folders.
func (s *Store) ListUploadItems(ctx context.Context, folderID string) ([]*UploadItem, error) {
	query := sqlSelectUploadItem
	args := []any{}

	if folderID != "" {
		query += " WHERE folder_id = ?"
		args = append(args, folderID)
	}

	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: listing upload items: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var items []*UploadItem

	for rows.Next() {
		u, err := scanUploadItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scanning upload item: %w", err)
		}

		items = append(items, u)
	}

	return items, rows.Err()
}

// DeleteUploadItem removes a completed or abandoned upload queue item.
func (s *Store) DeleteUploadItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM upload_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sync: deleting upload item %s: %w", id, err)
	}

	s.notifyUploads(ctx)

	return nil
}

// --- scanning helpers ---

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(r rowScanner) (*Folder, error) {
	var (
		f          Folder
		syncType   string
		policy     string
		status     string
		autoSync   int
		lastSyncAt sql.NullInt64
		patterns   string
	)

	err := r.Scan(&f.ID, &f.DeviceID, &f.LocalRoot, &f.RemotePath, &syncType,
		&autoSync, &policy, &status, &lastSyncAt, &f.TotalFiles,
		&f.SyncedFiles, &patterns, &f.LastError, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	f.SyncType = SyncType(syncType)
	f.ConflictPolicy = ConflictPolicy(policy)
	f.Status = FolderStatus(status)
	f.AutoSync = autoSync != 0

	if lastSyncAt.Valid {
		f.LastSyncAt = Int64Ptr(lastSyncAt.Int64)
	}

	if err := json.Unmarshal([]byte(patterns), &f.ExcludePatterns); err != nil {
		return nil, fmt.Errorf("decoding exclude patterns: %w", err)
	}

	return &f, nil
}

func scanOperation(r rowScanner) (*PendingOperation, error) {
	var (
		op          PendingOperation
		opType      string
		status      string
		lastRetryAt sql.NullInt64
		completedAt sql.NullInt64
	)

	err := r.Scan(&op.ID, &op.FolderID, &opType, &op.Path, &op.LocalPath,
		&op.DestPath, &op.Payload, &status, &op.RetryCount, &op.MaxRetries,
		&op.LastError, &op.CreatedAt, &lastRetryAt, &completedAt)
	if err != nil {
		return nil, err
	}

	op.Type = OperationType(opType)
	op.Status = OperationStatus(status)

	if lastRetryAt.Valid {
		op.LastRetryAt = Int64Ptr(lastRetryAt.Int64)
	}

	if completedAt.Valid {
		op.CompletedAt = Int64Ptr(completedAt.Int64)
	}

	return &op, nil
}

func scanConflict(r rowScanner) (*Conflict, error) {
	var (
		c          Conflict
		resolution sql.NullString
	)

	err := r.Scan(&c.ID, &c.FolderID, &c.Path, &c.Name, &c.LocalSize,
		&c.LocalMtime, &c.RemoteSize, &c.RemoteMtime, &c.LocalHash,
		&c.RemoteHash, &c.DetectedAt, &resolution)
	if err != nil {
		return nil, err
	}

	if resolution.Valid {
		p := ConflictPolicy(resolution.String)
		c.Resolution = &p
	}

	return &c, nil
}

func scanUploadItem(r rowScanner) (*UploadItem, error) {
	var (
		u      UploadItem
		status string
	)

	err := r.Scan(&u.ID, &u.FolderID, &u.Name, &u.LocalPath, &u.RemotePath,
		&u.FileSize, &u.UploadedBytes, &u.UploadID, &u.FileHash, &status,
		&u.RetryCount, &u.MaxRetries, &u.CreatedAt, &u.Error)
	if err != nil {
		return nil, err
	}

	u.Status = UploadState(status)

	return &u, nil
}

// --- hub notifications ---
// Notification failures are logged and swallowed: observers are advisory and
// must never fail a mutation.

func (s *Store) notifyOps(ctx context.Context) {
	if s.hub == nil {
		return
	}

	ops, err := s.ListOperations(ctx, "")
	if err != nil {
		s.logger.Debug("ops notification skipped", slog.Any("error", err))
		return
	}

	s.hub.PublishOps(ops)
}

func (s *Store) notifyFolder(ctx context.Context, id string) {
	if s.hub == nil {
		return
	}

	f, err := s.GetFolder(ctx, id)
	if err != nil {
		s.logger.Debug("folder notification skipped", slog.Any("error", err))
		return
	}

	s.hub.PublishFolder(f)
}

func (s *Store) notifyUploads(ctx context.Context) {
	if s.hub == nil {
		return
	}

	items, err := s.ListUploadItems(ctx, "")
	if err != nil {
		s.logger.Debug("upload notification skipped", slog.Any("error", err))
		return
	}

	s.hub.PublishUploads(items)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}

	return *v
}
