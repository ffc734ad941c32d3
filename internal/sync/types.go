// Package sync implements the offline folder-synchronization engine for the
// BaluHost NAS client: local/remote snapshot reconciliation, conflict
// detection and resolution, the durable pending-operation queue with retry
// bookkeeping, and chunked upload tracking.
package sync

import (
	"context"
	"io"
	"time"

	"github.com/Xveyn/baluhost-sync/internal/nasapi"
)

// SyncType controls which directions of a folder pairing are active.
type SyncType string

// Sync types as stored in the folders.sync_type column.
const (
	SyncUploadOnly    SyncType = "upload_only"
	SyncDownloadOnly  SyncType = "download_only"
	SyncBidirectional SyncType = "bidirectional"
)

// AllowsUpload reports whether local-to-remote transfers are permitted.
func (t SyncType) AllowsUpload() bool {
	return t == SyncUploadOnly || t == SyncBidirectional
}

// AllowsDownload reports whether remote-to-local transfers are permitted.
func (t SyncType) AllowsDownload() bool {
	return t == SyncDownloadOnly || t == SyncBidirectional
}

// ConflictPolicy selects the automatic resolution strategy for a folder.
type ConflictPolicy string

// Conflict policies as stored in the folders.conflict_policy column.
const (
	PolicyKeepLocal  ConflictPolicy = "keep_local"
	PolicyKeepServer ConflictPolicy = "keep_server"
	PolicyKeepNewest ConflictPolicy = "keep_newest"
	PolicyAskUser    ConflictPolicy = "ask_user"
)

// FolderStatus is the lifecycle state of a monitored folder pairing.
type FolderStatus string

// Folder statuses. Transitions happen only in the engine or via explicit
// user pause/resume.
const (
	FolderIdle    FolderStatus = "idle"
	FolderSyncing FolderStatus = "syncing"
	FolderError   FolderStatus = "error"
	FolderPaused  FolderStatus = "paused"
)

// Folder is one monitored local/remote folder pairing.
type Folder struct {
	ID              string
	DeviceID        string
	LocalRoot       string // local root directory (absolute path)
	RemotePath      string // remote root path on the NAS
	SyncType        SyncType
	AutoSync        bool
	ConflictPolicy  ConflictPolicy
	Status          FolderStatus
	LastSyncAt      *int64 // Unix nanoseconds, nil before first successful sync
	TotalFiles      int
	SyncedFiles     int
	ExcludePatterns []string // doublestar globs matched against relative paths
	LastError       string
	CreatedAt       int64
	UpdatedAt       int64
}

// Progress returns the synced fraction in [0,1]. Zero when TotalFiles is zero.
func (f *Folder) Progress() float64 {
	if f.TotalFiles == 0 {
		return 0
	}

	p := float64(f.SyncedFiles) / float64(f.TotalFiles)
	if p > 1 {
		return 1
	}

	return p
}

// OperationType is the kind of queued mutation.
type OperationType string

// Operation types as stored in the pending_operations.op_type column.
// Download is symmetric to upload: download-direction work flows through the
// same queue with its own type rather than inverted upload semantics.
const (
	OpUpload       OperationType = "upload"
	OpDownload     OperationType = "download"
	OpDelete       OperationType = "delete"
	OpRename       OperationType = "rename"
	OpMove         OperationType = "move"
	OpCreateFolder OperationType = "create_folder"
)

// OperationStatus is the queue state machine position of a pending operation.
type OperationStatus string

// Operation statuses. PENDING → RETRYING → {COMPLETED | PENDING | FAILED}.
// FAILED and COMPLETED are terminal; FAILED can be reset to PENDING by an
// explicit user retry, which also zeroes the retry counter.
const (
	OpPending   OperationStatus = "pending"
	OpRetrying  OperationStatus = "retrying"
	OpFailed    OperationStatus = "failed"
	OpCompleted OperationStatus = "completed"
)

// DefaultMaxRetries is the retry budget applied to new operations and upload
// queue items unless configured otherwise.
const DefaultMaxRetries = 3

// PendingOperation is one durable queued mutation awaiting execution against
// the remote index (or, for download-direction work, the local filesystem).
type PendingOperation struct {
	ID        string
	FolderID  string
	Type      OperationType
	Path      string // target path, relative to the folder roots
	LocalPath string // absolute local source path (uploads)
	DestPath  string // destination path (move/rename)
	// Payload is an opaque JSON blob decoded lazily by the executor.
	// Schema per operation type:
	//   delete, create_folder, rename, move: {"side": "local"|"remote"}
	//   download: {"hash": "...", "size": N, "mtime": N}, the expected
	//   remote metadata, recorded into the baseline after completion.
	Payload     []byte
	Status      OperationStatus
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   int64
	LastRetryAt *int64
	CompletedAt *int64
}

// Terminal reports whether the operation has reached a terminal status.
func (op *PendingOperation) Terminal() bool {
	return op.Status == OpCompleted || op.Status == OpFailed
}

// OpSide distinguishes which side of the pairing an operation mutates.
type OpSide string

// Operation sides used in payloads.
const (
	SideLocal  OpSide = "local"
	SideRemote OpSide = "remote"
)

// OpPayload is the decoded form of PendingOperation.Payload.
type OpPayload struct {
	Side  OpSide `json:"side,omitempty"`
	Hash  string `json:"hash,omitempty"`
	Size  int64  `json:"size,omitempty"`
	Mtime int64  `json:"mtime,omitempty"`
}

// Conflict is a detected divergence for one relative path. Conflicts persist
// only while an ask-user policy is waiting on a decision; otherwise they are
// transient within a reconciliation pass.
type Conflict struct {
	ID          string
	FolderID    string
	Path        string
	Name        string
	LocalSize   int64
	LocalMtime  int64
	RemoteSize  int64
	RemoteMtime int64
	LocalHash   string // empty when unavailable
	RemoteHash  string
	DetectedAt  int64
	Resolution  *ConflictPolicy // nil until resolved
}

// UploadState is the lifecycle state of a chunked upload queue item.
type UploadState string

// Upload item states.
const (
	UploadPending   UploadState = "pending"
	UploadUploading UploadState = "uploading"
	UploadCompleted UploadState = "completed"
	UploadFailed    UploadState = "failed"
	UploadCancelled UploadState = "cancelled"
)

// UploadItem tracks one queued or in-flight chunked upload with byte-level
// progress, distinct from the coarse upload PendingOperation that drives it.
type UploadItem struct {
	ID            string
	FolderID      string
	Name          string
	LocalPath     string
	RemotePath    string
	FileSize      int64
	UploadedBytes int64
	UploadID      string // server-issued upload session ID, empty before initiate
	FileHash      string // full-file hash the session was initiated with
	Status        UploadState
	RetryCount    int
	MaxRetries    int
	CreatedAt     int64
	Error         string
}

// Progress returns the uploaded fraction in [0,1]. Zero when FileSize is zero.
func (u *UploadItem) Progress() float64 {
	if u.FileSize == 0 {
		return 0
	}

	p := float64(u.UploadedBytes) / float64(u.FileSize)
	if p > 1 {
		return 1
	}

	return p
}

// CanRetry reports whether a failed item still has retry budget.
func (u *UploadItem) CanRetry() bool {
	return u.Status == UploadFailed && u.RetryCount < u.MaxRetries
}

// RemoteFile is a read-only snapshot entry from the remote index.
type RemoteFile struct {
	Path  string
	Name  string
	Size  int64
	Hash  string
	Mtime int64 // Unix nanoseconds
}

// LocalFile is a snapshot entry produced by the local scanner.
type LocalFile struct {
	Path  string // relative, slash-separated
	Size  int64
	Mtime int64  // Unix nanoseconds
	Hash  string // empty when hashing was skipped (oversized file)
}

// BaselineEntry records the state of one file at the last successful sync.
// The baseline is what lets the detector distinguish "deleted since last
// sync" from "never existed".
type BaselineEntry struct {
	FolderID string
	Path     string
	Size     int64
	Mtime    int64
	Hash     string
	SyncedAt int64
}

// SyncResult summarizes one reconciliation pass over one folder.
type SyncResult struct {
	FolderID        string
	Success         bool
	FilesUploaded   int
	FilesDownloaded int
	FilesDeleted    int
	Conflicts       int
	Errors          []string
	Duration        time.Duration
	Timestamp       int64
}

// --- Consumer-defined interfaces for the remote client ---
// These decouple the sync package from nasapi's concrete client, following
// the "accept interfaces, return structs" convention.

// RemoteIndex lists and mutates the remote file tree.
type RemoteIndex interface {
	ListFiles(ctx context.Context, remotePath string) ([]nasapi.FileInfo, error)
	Download(ctx context.Context, remotePath string, w io.Writer) (int64, error)
	DeleteFile(ctx context.Context, remotePath string) error
	Move(ctx context.Context, from, to string) error
	Rename(ctx context.Context, from, to string) error
	CreateFolder(ctx context.Context, remotePath string) error
}

// ChunkUploader drives the chunked upload protocol.
type ChunkUploader interface {
	InitiateUpload(ctx context.Context, folderID, remotePath string, size int64, hash string, totalChunks int) (*nasapi.UploadSession, error)
	UploadChunk(ctx context.Context, uploadID string, index int, chunkHash string, data io.Reader, length int64) (*nasapi.ChunkReceipt, error)
	UploadStatus(ctx context.Context, uploadID string) (*nasapi.UploadSessionStatus, error)
}

// RemoteClient is the full collaborator contract the queue executor needs.
type RemoteClient interface {
	RemoteIndex
	ChunkUploader
}

// --- Timestamp helpers ---
// All internal code uses int64 Unix nanoseconds; conversion to time.Time
// happens at system boundaries only.

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// Int64Ptr returns a pointer to v, for nullable database columns.
func Int64Ptr(v int64) *int64 {
	return &v
}

// DefaultMtimeTolerance absorbs filesystem timestamp granularity differences
// when comparing modification times without hashes.
const DefaultMtimeTolerance = 2 * time.Second

// mtimeEqual reports whether two nanosecond timestamps are equal within tol.
func mtimeEqual(a, b int64, tol time.Duration) bool {
	d := a - b
	if d < 0 {
		d = -d
	}

	return d <= int64(tol)
}
