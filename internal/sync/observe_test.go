package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_OpsSubscriberSeesLatestSnapshot(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	ch, cancel := hub.SubscribeOps()
	defer cancel()

	hub.PublishOps([]*PendingOperation{{ID: "1"}})
	hub.PublishOps([]*PendingOperation{{ID: "1"}, {ID: "2"}})

	// The older snapshot was replaced, not queued behind.
	snapshot := <-ch
	require.Len(t, snapshot, 2)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second delivery: %v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_FolderSubscriptionFiltersByID(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	chA, cancelA := hub.SubscribeFolder("folder-a")
	defer cancelA()

	chB, cancelB := hub.SubscribeFolder("folder-b")
	defer cancelB()

	hub.PublishFolder(&Folder{ID: "folder-a", Status: FolderSyncing})

	got := <-chA
	assert.Equal(t, FolderSyncing, got.Status)

	select {
	case f := <-chB:
		t.Fatalf("folder-b subscriber received %v", f)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	ch, cancel := hub.SubscribeOps()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent and publishing after cancel must not panic.
	cancel()
	hub.PublishOps([]*PendingOperation{{ID: "1"}})
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	_, cancel := hub.SubscribeUploads()
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)

		// Nobody reads; every publish must still return.
		for i := 0; i < 100; i++ {
			hub.PublishUploads([]*UploadItem{{ID: "u"}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
