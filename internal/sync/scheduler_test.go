package sync

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNet struct {
	online atomic.Bool
	ch     chan bool
}

func newFakeNet(online bool) *fakeNet {
	n := &fakeNet{ch: make(chan bool, 1)}
	n.online.Store(online)

	return n
}

func (n *fakeNet) Online() bool { return n.online.Load() }

func (n *fakeNet) Subscribe() (<-chan bool, func()) { return n.ch, func() {} }

func TestScheduler_ConnectivityReturnTriggersDrain(t *testing.T) {
	t.Parallel()

	service, store, folder := newTestService(t, newFakeRemote())
	ctx := context.Background()

	op, err := service.QueueDelete(ctx, folder.ID, "docs/stale.txt")
	require.NoError(t, err)

	net := newFakeNet(false)
	sched := NewScheduler(service, net, time.Hour, time.Hour, testLogger())

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	net.online.Store(true)
	net.ch <- true

	require.Eventually(t, func() bool {
		got, getErr := store.GetOperation(ctx, op.ID)
		return getErr == nil && got.Status == OpCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_DebouncedChangeTriggersFolderPass(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	service, store, folder := newTestService(t, fake)
	ctx := context.Background()

	folder.AutoSync = true
	require.NoError(t, store.SaveFolder(ctx, folder))

	net := newFakeNet(true)
	sched := NewScheduler(service, net, time.Hour, 30*time.Millisecond, testLogger())

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	writeLocal(t, &Folder{LocalRoot: folder.LocalRoot}, "fresh.txt", "content")

	// The watcher picks up the write, debounces, and runs a pass that uploads
	// the new file.
	require.Eventually(t, func() bool {
		return fake.hasFile("/nas/docs/fresh.txt")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_OfflineEventsAreDeferred(t *testing.T) {
	t.Parallel()

	fake := newFakeRemote()
	service, store, folder := newTestService(t, fake)
	ctx := context.Background()

	folder.AutoSync = true
	require.NoError(t, store.SaveFolder(ctx, folder))

	net := newFakeNet(false)
	sched := NewScheduler(service, net, time.Hour, 20*time.Millisecond, testLogger())

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	writeLocal(t, &Folder{LocalRoot: folder.LocalRoot}, "held.txt", "content")

	time.Sleep(200 * time.Millisecond)

	// Nothing reached the server while offline.
	assert.False(t, fake.hasFile("/nas/docs/held.txt"))
}

func TestFolderForPath(t *testing.T) {
	t.Parallel()

	watched := map[string]string{
		filepath.Clean("/home/u/docs"): "f1",
		filepath.Clean("/home/u/pics"): "f2",
	}

	assert.Equal(t, "f1", folderForPath(watched, "/home/u/docs/a/b.txt"))
	assert.Equal(t, "f1", folderForPath(watched, "/home/u/docs"))
	assert.Equal(t, "f2", folderForPath(watched, "/home/u/pics/x.jpg"))
	assert.Equal(t, "", folderForPath(watched, "/home/u/docsfile"))
	assert.Equal(t, "", folderForPath(watched, "/elsewhere"))
}
