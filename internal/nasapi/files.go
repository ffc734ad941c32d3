package nasapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ListFiles returns the recursive remote index snapshot under remotePath.
// Entries carry size, content hash, and mtime for reconciliation.
func (c *Client) ListFiles(ctx context.Context, remotePath string) ([]FileInfo, error) {
	c.logger.Debug("listing remote files", slog.String("path", remotePath))

	var out listFilesResponse
	if err := c.getJSON(ctx, queryPath("/api/v1/files", remotePath), &out); err != nil {
		return nil, err
	}

	return out.Files, nil
}

// Download streams the content of remotePath into w and returns the byte
// count written.
func (c *Client) Download(ctx context.Context, remotePath string, w io.Writer) (int64, error) {
	c.logger.Debug("downloading file", slog.String("path", remotePath))

	resp, err := c.do(ctx, http.MethodGet, queryPath("/api/v1/files/content", remotePath), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("nasapi: streaming download of %s: %w", remotePath, err)
	}

	return n, nil
}

// DeleteFile removes remotePath on the server.
func (c *Client) DeleteFile(ctx context.Context, remotePath string) error {
	c.logger.Debug("deleting remote file", slog.String("path", remotePath))

	resp, err := c.do(ctx, http.MethodDelete, queryPath("/api/v1/files", remotePath), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	drainBody(resp)

	return nil
}

// Move relocates a file or folder to a new parent path.
func (c *Client) Move(ctx context.Context, from, to string) error {
	c.logger.Debug("moving remote file", slog.String("from", from), slog.String("to", to))

	return c.postJSON(ctx, "/api/v1/files/move", moveRequest{From: from, To: to}, nil)
}

// Rename changes a file or folder name within its parent.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	c.logger.Debug("renaming remote file", slog.String("from", from), slog.String("to", to))

	return c.postJSON(ctx, "/api/v1/files/rename", moveRequest{From: from, To: to}, nil)
}

// CreateFolder creates remotePath (parents must already exist; the engine
// orders folder creation shallowest-first).
func (c *Client) CreateFolder(ctx context.Context, remotePath string) error {
	c.logger.Debug("creating remote folder", slog.String("path", remotePath))

	return c.postJSON(ctx, "/api/v1/folders", createFolderRequest{Path: remotePath}, nil)
}
