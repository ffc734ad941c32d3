package sync

import (
	stdsync "sync"
)

// Hub fans out store mutations to UI observers as full-list snapshots.
// Delivery is last-write-wins per subscriber: each subscription holds a
// buffer of one, and a newer snapshot replaces an unconsumed older one, so a
// slow observer always sees the latest state at least once and never blocks
// a writer. A subscription ends only when its cancel func is called.
type Hub struct {
	mu          stdsync.Mutex
	nextID      int
	opsSubs     map[int]chan []*PendingOperation
	folderSubs  map[int]*folderSub
	uploadsSubs map[int]chan []*UploadItem
}

type folderSub struct {
	folderID string
	ch       chan *Folder
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		opsSubs:     make(map[int]chan []*PendingOperation),
		folderSubs:  make(map[int]*folderSub),
		uploadsSubs: make(map[int]chan []*UploadItem),
	}
}

// SubscribeOps starts observing the pending-operation list. The returned
// cancel func releases the subscription and closes the channel.
func (h *Hub) SubscribeOps() (<-chan []*PendingOperation, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan []*PendingOperation, 1)
	h.opsSubs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if c, ok := h.opsSubs[id]; ok {
			delete(h.opsSubs, id)
			close(c)
		}
	}

	return ch, cancel
}

// SubscribeFolder starts observing one folder's configuration and status.
func (h *Hub) SubscribeFolder(folderID string) (<-chan *Folder, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan *Folder, 1)
	h.folderSubs[id] = &folderSub{folderID: folderID, ch: ch}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if s, ok := h.folderSubs[id]; ok {
			delete(h.folderSubs, id)
			close(s.ch)
		}
	}

	return ch, cancel
}

// SubscribeUploads starts observing the upload queue with byte-level progress.
func (h *Hub) SubscribeUploads() (<-chan []*UploadItem, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan []*UploadItem, 1)
	h.uploadsSubs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if c, ok := h.uploadsSubs[id]; ok {
			delete(h.uploadsSubs, id)
			close(c)
		}
	}

	return ch, cancel
}

// PublishOps delivers a pending-operation snapshot to all ops observers.
func (h *Hub) PublishOps(snapshot []*PendingOperation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.opsSubs {
		conflate(ch, snapshot)
	}
}

// PublishFolder delivers a folder snapshot to observers of that folder.
func (h *Hub) PublishFolder(folder *Folder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.folderSubs {
		if s.folderID == folder.ID {
			conflate(s.ch, folder)
		}
	}
}

// PublishUploads delivers an upload queue snapshot to all upload observers.
func (h *Hub) PublishUploads(snapshot []*UploadItem) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.uploadsSubs {
		conflate(ch, snapshot)
	}
}

// conflate sends v on a buffer-of-one channel, replacing any unconsumed
// previous value.
func conflate[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}

	// Buffer full: drop the stale value and try once more. A concurrent
	// reader may have raced us; losing that race just means the reader got
	// the older snapshot and the newer one lands in the buffer.
	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
	default:
	}
}
