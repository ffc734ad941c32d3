package nasapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// InitiateUpload opens a chunked upload session. The client proposes a chunk
// count derived from its preferred chunk size; the returned session carries
// the authoritative chunk size and count.
func (c *Client) InitiateUpload(
	ctx context.Context, folderID, remotePath string, size int64, hash string, totalChunks int,
) (*UploadSession, error) {
	c.logger.Info("initiating chunked upload",
		slog.String("folder_id", folderID),
		slog.String("path", remotePath),
		slog.Int64("size", size),
		slog.Int("total_chunks", totalChunks),
	)

	req := initiateUploadRequest{
		FolderID:    folderID,
		RemotePath:  remotePath,
		FileSize:    size,
		FileHash:    hash,
		TotalChunks: totalChunks,
	}

	var session UploadSession
	if err := c.postJSON(ctx, "/api/v1/uploads", req, &session); err != nil {
		return nil, err
	}

	c.logger.Debug("upload session created",
		slog.String("upload_id", session.UploadID),
		slog.Int64("chunk_size", session.ChunkSize),
		slog.Int("total_chunks", session.TotalChunks),
	)

	return &session, nil
}

// UploadChunk sends one chunk body with its declared hash. The server
// verifies the hash before acknowledging; a mismatch is answered with 422 and
// surfaces as ErrChunkIntegrity, in which case only this chunk needs resending.
func (c *Client) UploadChunk(
	ctx context.Context, uploadID string, index int, chunkHash string, data io.Reader, length int64,
) (*ChunkReceipt, error) {
	c.logger.Debug("uploading chunk",
		slog.String("upload_id", uploadID),
		slog.Int("index", index),
		slog.Int64("length", length),
	)

	path := "/api/v1/uploads/" + uploadID + "/chunks/" + strconv.Itoa(index)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, data)
	if err != nil {
		return nil, fmt.Errorf("nasapi: creating chunk request: %w", err)
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("nasapi: obtaining token for chunk: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Chunk-Hash", chunkHash)
	req.ContentLength = length

	// No refresh-and-replay here: a partially consumed chunk reader is not
	// safe to resend. The caller re-reads the chunk and retries instead.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nasapi: chunk %d upload: %w", index, errors.Join(err, ErrNetwork))
	}

	checked, err := c.checkStatus(resp)
	if err != nil {
		return nil, err
	}
	defer checked.Body.Close()

	var receipt ChunkReceipt
	if decErr := json.NewDecoder(checked.Body).Decode(&receipt); decErr != nil {
		return nil, fmt.Errorf("nasapi: decoding chunk receipt: %w", decErr)
	}

	return &receipt, nil
}

// UploadStatus reports which chunk indices the server has already accepted,
// so an interrupted upload can resume from the first unacknowledged chunk.
func (c *Client) UploadStatus(ctx context.Context, uploadID string) (*UploadSessionStatus, error) {
	c.logger.Debug("querying upload session", slog.String("upload_id", uploadID))

	var status UploadSessionStatus
	if err := c.getJSON(ctx, "/api/v1/uploads/"+uploadID, &status); err != nil {
		return nil, err
	}

	return &status, nil
}
