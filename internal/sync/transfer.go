package sync

import (
	"bytes"
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

	"github.com/Xveyn/baluhost-sync/internal/nasapi"
)

// DefaultChunkSize is the chunk size the client proposes when initiating an
// upload session. The server's response is authoritative.
const DefaultChunkSize = 4 * 1024 * 1024

// chunkIntegrityRetries bounds resends of a single chunk whose hash the
// server rejected. Only the rejected chunk is resent.
const chunkIntegrityRetries = 3

// Uploader drives chunked, resumable file uploads. Progress is persisted in
// the upload queue so an interrupted transfer resumes from the first chunk
// the server has not acknowledged rather than from the beginning.
type Uploader struct {
	store     *Store
	client    ChunkUploader
	chunkSize int64
	logger    *slog.Logger
}

// NewUploader creates an Uploader. chunkSize zero selects the default.
func NewUploader(store *Store, client ChunkUploader, chunkSize int64, logger *slog.Logger) *Uploader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{store: store, client: client, chunkSize: chunkSize, logger: logger}
}

// Upload transfers localPath to remotePath in chunks, resuming a previous
// session for the same file content when one exists. The upload queue item is
// created or updated as a side effect and carries byte-level progress for
// observers throughout.
func (u *Uploader) Upload(ctx context.Context, folderID, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("upload %s: %w", localPath, ErrLocalAccessDenied)
		}

		return fmt.Errorf("upload %s: %w", localPath, err)
	}

	hash, err := HashFile(localPath)
	if err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}

	item, err := u.prepareItem(ctx, folderID, localPath, remotePath, info.Size(), hash)
	if err != nil {
		return err
	}

	session, received, err := u.openSession(ctx, item)
	if err != nil {
		u.recordFailure(ctx, item, err)
		return err
	}

	item.UploadID = session.UploadID
	item.FileHash = hash
	item.Status = UploadUploading

	if err := u.store.SaveUploadItem(ctx, item); err != nil {
		return err
	}

	if err := u.sendChunks(ctx, item, session, received); err != nil {
		u.recordFailure(ctx, item, err)
		return err
	}

	item.UploadedBytes = item.FileSize

	if err := u.store.UpdateUploadProgress(ctx, item.ID, item.UploadedBytes, UploadCompleted); err != nil {
		return err
	}

	u.logger.Info("upload complete",
		slog.String("path", remotePath),
		slog.Int64("size", item.FileSize),
	)

	return nil
}

// prepareItem finds or creates the upload queue item for this file. A stale
// item whose recorded hash no longer matches the file content is reset: its
// old session cannot be resumed because the bytes changed underneath it.
func (u *Uploader) prepareItem(
	ctx context.Context, folderID, localPath, remotePath string, size int64, hash string,
) (*UploadItem, error) {
	item, err := u.store.GetUploadItemByPath(ctx, folderID, remotePath)
	if err != nil {
		return nil, err
	}

	if item == nil {
		item = &UploadItem{
			FolderID:   folderID,
			Name:       filepath.Base(localPath),
			LocalPath:  localPath,
			RemotePath: remotePath,
		}
	}

	if item.FileHash != hash {
		item.UploadID = ""
		item.UploadedBytes = 0
	}

	item.FileSize = size
	item.FileHash = hash
	item.Status = UploadPending
	item.Error = ""

	if err := u.store.SaveUploadItem(ctx, item); err != nil {
		return nil, err
	}

	return item, nil
}

// openSession resumes the item's recorded session when the server still knows
// it, otherwise initiates a fresh one. The returned set holds the chunk
// indices the server has already acknowledged.
func (u *Uploader) openSession(ctx context.Context, item *UploadItem) (*nasapi.UploadSession, map[int]bool, error) {
	if item.UploadID != "" {
		status, err := u.client.UploadStatus(ctx, item.UploadID)

		switch {
		case err == nil:
			received := make(map[int]bool, len(status.ReceivedChunks))
			for _, idx := range status.ReceivedChunks {
				received[idx] = true
			}

			u.logger.Info("resuming upload session",
				slog.String("upload_id", item.UploadID),
				slog.String("path", item.RemotePath),
				slog.Int("chunks_received", len(received)),
				slog.Int("chunks_total", status.TotalChunks),
			)

			return &nasapi.UploadSession{
				UploadID:    status.UploadID,
				TotalChunks: status.TotalChunks,
				ChunkSize:   status.ChunkSize,
			}, received, nil

		case errors.Is(err, nasapi.ErrNotFound):
			// Session expired server-side; fall through to a fresh initiate.
			u.logger.Warn("upload session expired, restarting",
				slog.String("upload_id", item.UploadID),
				slog.String("path", item.RemotePath),
			)

		default:
			return nil, nil, err
		}
	}

	totalChunks := int((item.FileSize + u.chunkSize - 1) / u.chunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}

	session, err := u.client.InitiateUpload(ctx,
		item.FolderID, item.RemotePath, item.FileSize, item.FileHash, totalChunks)
	if err != nil {
		return nil, nil, err
	}

	return session, map[int]bool{}, nil
}

// sendChunks streams every unacknowledged chunk in order.
func (u *Uploader) sendChunks(
	ctx context.Context, item *UploadItem, session *nasapi.UploadSession, received map[int]bool,
) error {
	f, err := os.Open(item.LocalPath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("reading %s: %w", item.LocalPath, ErrLocalAccessDenied)
		}

		return fmt.Errorf("reading %s: %w", item.LocalPath, err)
	}
	defer f.Close()

	chunkSize := session.ChunkSize
	if chunkSize <= 0 {
		chunkSize = u.chunkSize
	}

	buf := make([]byte, chunkSize)

	// Credit already-acknowledged chunks by their true length; the final
	// chunk is usually short.
	var sent int64
	for index, yes := range received {
		if yes {
			sent += chunkLen(int64(index), chunkSize, item.FileSize)
		}
	}

	item.UploadedBytes = sent

	for index := 0; index < session.TotalChunks; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if received[index] {
			continue
		}

		chunk, err := readChunk(f, buf, int64(index)*chunkSize, item.FileSize)
		if err != nil {
			return fmt.Errorf("reading chunk %d of %s: %w", index, item.LocalPath, err)
		}

		if err := u.sendChunk(ctx, session.UploadID, index, chunk); err != nil {
			return err
		}

		sent += int64(len(chunk))
		item.UploadedBytes = sent

		if err := u.store.UpdateUploadProgress(ctx, item.ID, sent, UploadUploading); err != nil {
			return err
		}
	}

	return nil
}

// sendChunk uploads one chunk, resending on server-side integrity rejection.
func (u *Uploader) sendChunk(ctx context.Context, uploadID string, index int, chunk []byte) error {
	sum := sha256.Sum256(chunk)
	chunkHash := hex.EncodeToString(sum[:])

	var lastErr error

	for attempt := 0; attempt < chunkIntegrityRetries; attempt++ {
		_, err := u.client.UploadChunk(ctx, uploadID, index, chunkHash,
			bytes.NewReader(chunk), int64(len(chunk)))
		if err == nil {
			return nil
		}

		if !errors.Is(err, nasapi.ErrChunkIntegrity) {
			return err
		}

		lastErr = err

		u.logger.Warn("chunk integrity rejected, resending",
			slog.String("upload_id", uploadID),
			slog.Int("index", index),
			slog.Int("attempt", attempt+1),
		)
	}

	return fmt.Errorf("chunk %d rejected %d times: %w", index, chunkIntegrityRetries, lastErr)
}

// chunkLen returns the byte length of the chunk at index for a file of
// fileSize, zero for an index past the end.
func chunkLen(index, chunkSize, fileSize int64) int64 {
	remaining := fileSize - index*chunkSize
	if remaining <= 0 {
		return 0
	}

	if remaining > chunkSize {
		return chunkSize
	}

	return remaining
}

// readChunk reads the chunk starting at offset into buf, truncated at the
// file size.
func readChunk(f *os.File, buf []byte, offset, fileSize int64) ([]byte, error) {
	want := int64(len(buf))
	if remaining := fileSize - offset; remaining < want {
		want = remaining
	}

	if want <= 0 {
		return []byte{}, nil
	}

	n, err := f.ReadAt(buf[:want], offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return buf[:n], nil
}

// recordFailure persists an upload failure on the queue item. Connectivity
// failures leave the item pending so the next drain resumes it.
func (u *Uploader) recordFailure(ctx context.Context, item *UploadItem, cause error) {
	status := UploadFailed
	if passAborting(cause) {
		status = UploadPending
	}

	item.Status = status
	item.Error = cause.Error()

	if status == UploadFailed {
		item.RetryCount++
	}

	if err := u.store.SaveUploadItem(ctx, item); err != nil {
		u.logger.Error("recording upload failure",
			slog.String("path", item.RemotePath),
			slog.Any("error", err),
		)
	}
}
