package netmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// switchableProbe flips between online and offline under test control.
type switchableProbe struct {
	offline atomic.Bool
}

func (p *switchableProbe) probe(context.Context) error {
	if p.offline.Load() {
		return errors.New("unreachable")
	}

	return nil
}

func TestCheckNow_ReportsState(t *testing.T) {
	t.Parallel()

	var probe switchableProbe

	m := New(probe.probe, time.Minute, testLogger())
	assert.False(t, m.Online())

	assert.True(t, m.CheckNow(context.Background()))
	assert.True(t, m.Online())

	probe.offline.Store(true)

	assert.False(t, m.CheckNow(context.Background()))
	assert.False(t, m.Online())
}

func TestSubscribe_EdgeTriggeredOnly(t *testing.T) {
	t.Parallel()

	var probe switchableProbe

	m := New(probe.probe, time.Minute, testLogger())

	ch, cancel := m.Subscribe()
	defer cancel()

	// offline -> online is a transition.
	m.CheckNow(context.Background())
	assert.True(t, <-ch)

	// A repeated online probe is not.
	m.CheckNow(context.Background())

	select {
	case v := <-ch:
		t.Fatalf("unexpected notification: %v", v)
	case <-time.After(20 * time.Millisecond):
	}

	// online -> offline is a transition again.
	probe.offline.Store(true)
	m.CheckNow(context.Background())
	assert.False(t, <-ch)
}

func TestSubscribe_UnreadTransitionCollapses(t *testing.T) {
	t.Parallel()

	var probe switchableProbe

	m := New(probe.probe, time.Minute, testLogger())

	ch, cancel := m.Subscribe()
	defer cancel()

	// Two transitions with nobody reading: only the newest survives.
	m.CheckNow(context.Background())
	probe.offline.Store(true)
	m.CheckNow(context.Background())

	assert.False(t, <-ch)

	select {
	case v := <-ch:
		t.Fatalf("stale notification delivered: %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	m := New(func(context.Context) error { return nil }, time.Minute, testLogger())

	ch, cancel := m.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Idempotent, and later transitions must not panic.
	cancel()
	m.CheckNow(context.Background())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	var probes atomic.Int32

	m := New(func(context.Context) error {
		probes.Add(1)
		return nil
	}, time.Minute, testLogger())

	m.Start(context.Background())

	// The first probe runs immediately on Start.
	require.Eventually(t, func() bool {
		return probes.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, m.Online())

	m.Stop()
}
