package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Xveyn/baluhost-sync/internal/nasapi"
)

// fakeRemote is an in-memory RemoteClient. Files live in a flat map keyed by
// absolute remote path; the chunked upload protocol is simulated with real
// per-chunk hash verification so integrity failures can be provoked.
type fakeRemote struct {
	mu       stdsync.Mutex
	files    map[string]nasapi.FileInfo
	content  map[string][]byte
	sessions map[string]*fakeSession

	chunkSize int64
	nextID    int

	// failWith, when set, is returned by every mutating call.
	failWith error

	// failUploadChunks makes the first N UploadChunk calls fail with
	// failChunkErr before succeeding.
	failUploadChunks int
	failChunkErr     error

	// failChunkAt fails the upload of specific chunk indices, once each.
	failChunkAt map[int]error

	calls []string
}

type fakeSession struct {
	remotePath  string
	totalChunks int
	received    map[int]bool
	chunks      map[int][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:     make(map[string]nasapi.FileInfo),
		content:   make(map[string][]byte),
		sessions:  make(map[string]*fakeSession),
		chunkSize: 8,
	}
}

func (f *fakeRemote) addFile(path string, data []byte, mtime int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sum := sha256.Sum256(data)
	f.files[path] = nasapi.FileInfo{
		Path:  path,
		Name:  filepath.Base(path),
		Size:  int64(len(data)),
		Hash:  hex.EncodeToString(sum[:]),
		Mtime: mtime,
	}
	f.content[path] = data
}

func (f *fakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) ListFiles(_ context.Context, remotePath string) ([]nasapi.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	var out []nasapi.FileInfo
	for _, fi := range f.files {
		out = append(out, fi)
	}

	_ = remotePath

	return out, nil
}

func (f *fakeRemote) Download(_ context.Context, remotePath string, w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("download " + remotePath)

	if f.failWith != nil {
		return 0, f.failWith
	}

	data, ok := f.content[remotePath]
	if !ok {
		return 0, nasapi.ErrNotFound
	}

	n, err := w.Write(data)

	return int64(n), err
}

func (f *fakeRemote) DeleteFile(_ context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("delete " + remotePath)

	if f.failWith != nil {
		return f.failWith
	}

	delete(f.files, remotePath)
	delete(f.content, remotePath)

	return nil
}

func (f *fakeRemote) Move(_ context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("move " + from + " " + to)

	return f.failWith
}

func (f *fakeRemote) Rename(_ context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("rename " + from + " " + to)

	return f.failWith
}

func (f *fakeRemote) CreateFolder(_ context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("mkdir " + remotePath)

	return f.failWith
}

func (f *fakeRemote) InitiateUpload(
	_ context.Context, _, remotePath string, _ int64, _ string, totalChunks int,
) (*nasapi.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("initiate " + remotePath)

	if f.failWith != nil {
		return nil, f.failWith
	}

	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)

	f.sessions[id] = &fakeSession{
		remotePath:  remotePath,
		totalChunks: totalChunks,
		received:    make(map[int]bool),
		chunks:      make(map[int][]byte),
	}

	return &nasapi.UploadSession{UploadID: id, TotalChunks: totalChunks, ChunkSize: f.chunkSize}, nil
}

func (f *fakeRemote) UploadChunk(
	_ context.Context, uploadID string, index int, chunkHash string, data io.Reader, _ int64,
) (*nasapi.ChunkReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("chunk %s %d", uploadID, index))

	if f.failWith != nil {
		return nil, f.failWith
	}

	if f.failUploadChunks > 0 {
		f.failUploadChunks--
		return nil, f.failChunkErr
	}

	if errAt, ok := f.failChunkAt[index]; ok {
		delete(f.failChunkAt, index)
		return nil, errAt
	}

	sess, ok := f.sessions[uploadID]
	if !ok {
		return nil, nasapi.ErrNotFound
	}

	body, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != chunkHash {
		return nil, nasapi.ErrChunkIntegrity
	}

	sess.received[index] = true
	sess.chunks[index] = body

	if len(sess.received) == sess.totalChunks {
		var buf bytes.Buffer
		for i := 0; i < sess.totalChunks; i++ {
			buf.Write(sess.chunks[i])
		}

		fileSum := sha256.Sum256(buf.Bytes())
		f.files[sess.remotePath] = nasapi.FileInfo{
			Path: sess.remotePath,
			Name: filepath.Base(sess.remotePath),
			Size: int64(buf.Len()),
			Hash: hex.EncodeToString(fileSum[:]),
		}
		f.content[sess.remotePath] = buf.Bytes()

		return &nasapi.ChunkReceipt{Received: true, Completed: true}, nil
	}

	return &nasapi.ChunkReceipt{Received: true}, nil
}

func (f *fakeRemote) UploadStatus(_ context.Context, uploadID string) (*nasapi.UploadSessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[uploadID]
	if !ok {
		return nil, nasapi.ErrNotFound
	}

	indices := make([]int, 0, len(sess.received))
	for i := range sess.received {
		indices = append(indices, i)
	}

	return &nasapi.UploadSessionStatus{
		UploadID:       uploadID,
		ReceivedChunks: indices,
		ChunkSize:      f.chunkSize,
		TotalChunks:    sess.totalChunks,
	}, nil
}

func (f *fakeRemote) hasFile(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.files[path]

	return ok
}

func chunkSum(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// testStore opens a store on a temp database.
func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(context.Background(),
		filepath.Join(t.TempDir(), "state.db"), nil, testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
