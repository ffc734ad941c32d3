package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xveyn/baluhost-sync/internal/nasapi"
)

func newTestUploader(t *testing.T, fake *fakeRemote) (*Uploader, *Store, string) {
	t.Helper()

	store := testStore(t)
	uploader := NewUploader(store, fake, 8, testLogger())

	return uploader, store, t.TempDir()
}

func TestUpload_SplitsIntoChunks(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	uploader, store, dir := newTestUploader(t, fake)
	ctx := context.Background()

	content := []byte("twenty bytes exactly")
	localPath := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	require.NoError(t, uploader.Upload(ctx, "f1", localPath, "/nas/file.bin"))

	assert.Equal(t, content, fake.content["/nas/file.bin"])

	item, err := store.GetUploadItemByPath(ctx, "f1", "/nas/file.bin")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, UploadCompleted, item.Status)
	assert.Equal(t, int64(len(content)), item.UploadedBytes)
	assert.InDelta(t, 1.0, item.Progress(), 0.001)

	// 20 bytes at a chunk size of 8 makes 3 chunks.
	chunkCalls := 0
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "chunk ") {
			chunkCalls++
		}
	}

	assert.Equal(t, 3, chunkCalls)
}

func TestUpload_ResumesFromFirstUnackedChunk(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	uploader, store, dir := newTestUploader(t, fake)
	ctx := context.Background()

	content := []byte("0123456789abcdefghijklmnopqrstuv") // 32 bytes, 4 chunks
	localPath := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	// Simulate an interrupted first attempt: upload chunks 0 and 1 by hand
	// through a session, then run the real upload and verify it skips them.
	hash, err := HashFile(localPath)
	require.NoError(t, err)

	session, err := fake.InitiateUpload(ctx, "f1", "/nas/big.bin", 32, hash, 4)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		chunk := content[i*8 : (i+1)*8]
		sum := chunkSum(chunk)
		_, err := fake.UploadChunk(ctx, session.UploadID, i, sum, strings.NewReader(string(chunk)), 8)
		require.NoError(t, err)
	}

	// Record the interrupted state the way a crashed uploader would have.
	require.NoError(t, store.SaveUploadItem(ctx, &UploadItem{
		FolderID:      "f1",
		Name:          "big.bin",
		LocalPath:     localPath,
		RemotePath:    "/nas/big.bin",
		FileSize:      32,
		UploadedBytes: 16,
		UploadID:      session.UploadID,
		FileHash:      hash,
		Status:        UploadUploading,
	}))

	fake.calls = nil

	require.NoError(t, uploader.Upload(ctx, "f1", localPath, "/nas/big.bin"))

	assert.Equal(t, content, fake.content["/nas/big.bin"])

	// No re-initiate and no resend of chunks 0 and 1.
	for _, call := range fake.calls {
		assert.NotContains(t, call, "initiate")
		assert.NotEqual(t, "chunk "+session.UploadID+" 0", call)
		assert.NotEqual(t, "chunk "+session.UploadID+" 1", call)
	}

	item, err := store.GetUploadItemByPath(ctx, "f1", "/nas/big.bin")
	require.NoError(t, err)
	assert.Equal(t, UploadCompleted, item.Status)
}

func TestUpload_ResumeCreditsShortFinalChunk(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	uploader, store, dir := newTestUploader(t, fake)
	ctx := context.Background()

	content := []byte("0123456789abcdefghijklmnopqrstuv89") // 34 bytes, 5 chunks
	localPath := filepath.Join(dir, "tail.bin")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	hash, err := HashFile(localPath)
	require.NoError(t, err)

	session, err := fake.InitiateUpload(ctx, "f1", "/nas/tail.bin", 34, hash, 5)
	require.NoError(t, err)

	// Chunks 0, 1 and the 2-byte final chunk 4 were acknowledged before the
	// interruption; 2 and 3 remain.
	for _, i := range []int{0, 1, 4} {
		end := (i + 1) * 8
		if end > len(content) {
			end = len(content)
		}

		chunk := content[i*8 : end]
		_, err := fake.UploadChunk(ctx, session.UploadID, i, chunkSum(chunk),
			strings.NewReader(string(chunk)), int64(len(chunk)))
		require.NoError(t, err)
	}

	require.NoError(t, store.SaveUploadItem(ctx, &UploadItem{
		FolderID:      "f1",
		Name:          "tail.bin",
		LocalPath:     localPath,
		RemotePath:    "/nas/tail.bin",
		FileSize:      34,
		UploadedBytes: 16,
		UploadID:      session.UploadID,
		FileHash:      hash,
		Status:        UploadUploading,
	}))

	// Chunk 2 goes through, chunk 3 hits an outage.
	fake.failChunkAt = map[int]error{3: nasapi.ErrNetwork}

	err = uploader.Upload(ctx, "f1", localPath, "/nas/tail.bin")
	require.ErrorIs(t, err, nasapi.ErrNetwork)

	// Acked chunks count at their true size: 8+8+2 resumed plus 8 sent, not
	// a full chunk for the short tail.
	item, err := store.GetUploadItemByPath(ctx, "f1", "/nas/tail.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(26), item.UploadedBytes)
	assert.Equal(t, UploadPending, item.Status)
}

func TestChunkLen(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(8), chunkLen(0, 8, 20))
	assert.Equal(t, int64(8), chunkLen(1, 8, 20))
	assert.Equal(t, int64(4), chunkLen(2, 8, 20))
	assert.Equal(t, int64(0), chunkLen(3, 8, 20))
	assert.Equal(t, int64(5), chunkLen(0, 8, 5))
	assert.Equal(t, int64(0), chunkLen(0, 8, 0))
}

func TestUpload_ExpiredSessionRestarts(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	uploader, store, dir := newTestUploader(t, fake)
	ctx := context.Background()

	content := []byte("some file content")
	localPath := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	hash, err := HashFile(localPath)
	require.NoError(t, err)

	// The recorded session ID is unknown to the server.
	require.NoError(t, store.SaveUploadItem(ctx, &UploadItem{
		FolderID:   "f1",
		Name:       "f.bin",
		LocalPath:  localPath,
		RemotePath: "/nas/f.bin",
		FileSize:   int64(len(content)),
		UploadID:   "upload-expired",
		FileHash:   hash,
		Status:     UploadUploading,
	}))

	require.NoError(t, uploader.Upload(ctx, "f1", localPath, "/nas/f.bin"))
	assert.Equal(t, content, fake.content["/nas/f.bin"])
}

func TestUpload_ChangedFileInvalidatesSession(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	uploader, store, dir := newTestUploader(t, fake)
	ctx := context.Background()

	localPath := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("version two content"), 0o644))

	// Item recorded against different content. The hash mismatch must force a
	// fresh session rather than resuming into mixed bytes.
	require.NoError(t, store.SaveUploadItem(ctx, &UploadItem{
		FolderID:      "f1",
		Name:          "f.bin",
		LocalPath:     localPath,
		RemotePath:    "/nas/f.bin",
		FileSize:      10,
		UploadedBytes: 8,
		UploadID:      "upload-stale",
		FileHash:      "hash-of-version-one",
		Status:        UploadUploading,
	}))

	require.NoError(t, uploader.Upload(ctx, "f1", localPath, "/nas/f.bin"))
	assert.Equal(t, []byte("version two content"), fake.content["/nas/f.bin"])

	item, err := store.GetUploadItemByPath(ctx, "f1", "/nas/f.bin")
	require.NoError(t, err)
	assert.NotEqual(t, "upload-stale", item.UploadID)
}

func TestUpload_IntegrityRejectionRetriesChunk(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	fake.failUploadChunks = 1
	fake.failChunkErr = nasapi.ErrChunkIntegrity

	uploader, _, dir := newTestUploader(t, fake)
	ctx := context.Background()

	content := []byte("short")
	localPath := filepath.Join(dir, "s.bin")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	require.NoError(t, uploader.Upload(ctx, "f1", localPath, "/nas/s.bin"))
	assert.Equal(t, content, fake.content["/nas/s.bin"])
}

func TestUpload_EmptyFile(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	uploader, store, dir := newTestUploader(t, fake)
	ctx := context.Background()

	localPath := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(localPath, nil, 0o644))

	require.NoError(t, uploader.Upload(ctx, "f1", localPath, "/nas/empty.txt"))

	item, err := store.GetUploadItemByPath(ctx, "f1", "/nas/empty.txt")
	require.NoError(t, err)
	assert.Equal(t, UploadCompleted, item.Status)
}
