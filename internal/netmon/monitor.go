// Package netmon tracks NAS reachability by probing the server's health
// endpoint and notifies subscribers on connectivity transitions.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the probe period when none is configured.
const DefaultInterval = 15 * time.Second

// ProbeFunc checks reachability; a nil error means online.
type ProbeFunc func(ctx context.Context) error

// Monitor polls a probe and reports edge-triggered connectivity changes.
// Subscribers receive a bool per transition only, never per probe, so a
// stable connection generates no traffic.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *slog.Logger

	online atomic.Bool

	mu     sync.Mutex
	nextID int
	subs   map[int]chan bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. interval zero selects the default.
func New(probe ProbeFunc, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		subs:     make(map[int]chan bool),
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe returns a channel receiving one value per connectivity
// transition. The cancel func ends the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}

	return ch, cancel
}

// Start begins probing in the background until Stop is called or ctx is
// cancelled. The first probe runs immediately so callers see a real state
// without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.CheckNow(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}

	m.cancel()
	<-m.done
}

// CheckNow runs one probe synchronously and returns the resulting state,
// publishing a transition if one occurred.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.probe(probeCtx)
	now := err == nil

	was := m.online.Swap(now)
	if was == now {
		return now
	}

	if now {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Warn("connectivity lost", slog.Any("error", err))
	}

	m.notify(now)

	return now
}

func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		// Collapse an unread older transition into the newest one.
		select {
		case ch <- online:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}

		select {
		case ch <- online:
		default:
		}
	}
}
