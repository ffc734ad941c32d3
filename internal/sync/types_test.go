package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFolderProgress(t *testing.T) {
	t.Parallel()

	assert.Zero(t, (&Folder{}).Progress())
	assert.InDelta(t, 0.5, (&Folder{TotalFiles: 10, SyncedFiles: 5}).Progress(), 0.001)
	assert.InDelta(t, 1.0, (&Folder{TotalFiles: 10, SyncedFiles: 15}).Progress(), 0.001)
}

func TestUploadItemProgressAndRetry(t *testing.T) {
	t.Parallel()

	assert.Zero(t, (&UploadItem{}).Progress())
	assert.InDelta(t, 0.25, (&UploadItem{FileSize: 100, UploadedBytes: 25}).Progress(), 0.001)
	assert.InDelta(t, 1.0, (&UploadItem{FileSize: 100, UploadedBytes: 200}).Progress(), 0.001)

	assert.True(t, (&UploadItem{Status: UploadFailed, RetryCount: 1, MaxRetries: 3}).CanRetry())
	assert.False(t, (&UploadItem{Status: UploadFailed, RetryCount: 3, MaxRetries: 3}).CanRetry())
	assert.False(t, (&UploadItem{Status: UploadPending, RetryCount: 0, MaxRetries: 3}).CanRetry())
}

func TestSyncTypeDirections(t *testing.T) {
	t.Parallel()

	assert.True(t, SyncBidirectional.AllowsUpload())
	assert.True(t, SyncBidirectional.AllowsDownload())
	assert.True(t, SyncUploadOnly.AllowsUpload())
	assert.False(t, SyncUploadOnly.AllowsDownload())
	assert.False(t, SyncDownloadOnly.AllowsUpload())
	assert.True(t, SyncDownloadOnly.AllowsDownload())
}

func TestMtimeEqual(t *testing.T) {
	t.Parallel()

	tol := 2 * time.Second

	assert.True(t, mtimeEqual(1000, 1000, tol))
	assert.True(t, mtimeEqual(0, tol.Nanoseconds(), tol))
	assert.True(t, mtimeEqual(tol.Nanoseconds(), 0, tol))
	assert.False(t, mtimeEqual(0, tol.Nanoseconds()+1, tol))
}

func TestOperationTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, (&PendingOperation{Status: OpPending}).Terminal())
	assert.False(t, (&PendingOperation{Status: OpRetrying}).Terminal())
	assert.True(t, (&PendingOperation{Status: OpCompleted}).Terminal())
	assert.True(t, (&PendingOperation{Status: OpFailed}).Terminal())
}
