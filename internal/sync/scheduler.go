package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sethvargo/go-retry"
)

// Scheduler timing defaults.
const (
	DefaultSyncInterval  = 15 * time.Minute
	DefaultDebounce      = 2 * time.Second
	drainBackoffBase     = 30 * time.Second
	drainBackoffCap      = 30 * time.Minute
	drainBackoffAttempts = 10
)

// Connectivity is the reachability signal the scheduler consumes.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Scheduler drives syncing in the background: periodic reconciliation while
// online, an immediate drain with exponential backoff when connectivity
// returns, and debounced passes on local filesystem changes for auto-sync
// folders.
type Scheduler struct {
	service  *Service
	net      Connectivity
	interval time.Duration
	debounce time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	mu     stdsync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a Scheduler. Zero durations select defaults.
func NewScheduler(service *Service, net Connectivity, interval, debounce time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		service:  service,
		net:      net,
		interval: interval,
		debounce: debounce,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Start launches the background loops until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		s.periodicLoop(ctx)
	}()

	go func() {
		defer s.wg.Done()
		s.connectivityLoop(ctx)
	}()

	watcher, watched, err := s.setupWatcher(ctx)
	if err != nil {
		s.logger.Warn("filesystem watching disabled", slog.Any("error", err))
		return nil
	}

	if watcher != nil {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			defer watcher.Close() //nolint:errcheck // shutdown path

			s.watchLoop(ctx, watcher, watched)
		}()
	}

	return nil
}

// Stop halts all loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}

	s.cancel()
	s.wg.Wait()
}

// periodicLoop runs full reconciliation on the configured interval, skipping
// ticks while offline so queued work is not churned pointlessly.
func (s *Scheduler) periodicLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.net.Online() {
				s.logger.Debug("skipping scheduled pass while offline")
				continue
			}

			if _, err := s.service.TriggerReconcileAll(ctx); err != nil {
				s.logger.Warn("scheduled pass ended early", slog.Any("error", err))
			}
		}
	}
}

// connectivityLoop reacts to reachability transitions. A return to online
// drains immediately and then retries with capped exponential backoff until
// the drain completes without aborting.
func (s *Scheduler) connectivityLoop(ctx context.Context) {
	changes, cancel := s.net.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-changes:
			if !ok {
				return
			}

			if !online {
				continue
			}

			s.logger.Info("connectivity returned, draining queues")
			s.drainWithBackoff(ctx)
		}
	}
}

// drainWithBackoff retries an aborting drain with jittered exponential
// backoff. Operation-level failures do not trigger backoff; only pass-level
// aborts (connectivity flapping, auth) do.
func (s *Scheduler) drainWithBackoff(ctx context.Context) {
	backoff := retry.NewExponential(drainBackoffBase)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(drainBackoffCap, backoff)
	backoff = retry.WithMaxRetries(drainBackoffAttempts, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		stats, drainErr := s.service.DrainQueues(ctx)
		if drainErr == nil {
			if stats != nil {
				s.logger.Info("drain complete",
					slog.Int("completed", stats.Completed),
					slog.Int("failed", stats.Failed),
				)
			}

			return nil
		}

		if passAborting(drainErr) {
			return retry.RetryableError(drainErr)
		}

		return drainErr
	})
	if err != nil {
		s.logger.Warn("drain abandoned", slog.Any("error", err))
	}
}

// setupWatcher registers the auto-sync folder roots with fsnotify. Missing
// roots are skipped; a folder with no watchable root still syncs on the
// periodic schedule.
func (s *Scheduler) setupWatcher(ctx context.Context) (*fsnotify.Watcher, map[string]string, error) {
	folders, err := s.service.ListFolders(ctx)
	if err != nil {
		return nil, nil, err
	}

	watched := make(map[string]string)

	for _, f := range folders {
		if f.AutoSync {
			watched[filepath.Clean(f.LocalRoot)] = f.ID
		}
	}

	if len(watched) == 0 {
		return nil, nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	for root := range watched {
		if err := addRecursive(watcher, root); err != nil {
			s.logger.Warn("cannot watch folder root",
				slog.String("root", root),
				slog.Any("error", err),
			)
		}
	}

	return watcher, watched, nil
}

// watchLoop debounces filesystem events into per-folder reconcile triggers.
func (s *Scheduler) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, watched map[string]string) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// New directories must be watched too; fsnotify is not recursive.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						s.logger.Debug("cannot watch new directory",
							slog.String("path", event.Name),
							slog.Any("error", err),
						)
					}
				}
			}

			folderID := folderForPath(watched, event.Name)
			if folderID == "" {
				continue
			}

			s.scheduleDebounced(ctx, folderID)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			s.logger.Warn("filesystem watcher error", slog.Any("error", err))
		}
	}
}

// scheduleDebounced (re)arms the folder's debounce timer. A burst of events
// collapses into one pass after the quiet period.
func (s *Scheduler) scheduleDebounced(ctx context.Context, folderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[folderID]; ok {
		t.Reset(s.debounce)
		return
	}

	s.timers[folderID] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, folderID)
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		if !s.net.Online() {
			s.logger.Debug("deferring change-triggered pass while offline",
				slog.String("folder_id", folderID))
			return
		}

		if _, err := s.service.TriggerReconcile(ctx, folderID); err != nil {
			s.logger.Warn("change-triggered pass failed",
				slog.String("folder_id", folderID),
				slog.Any("error", err),
			)
		}
	})
}

// addRecursive watches root and every directory beneath it.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}

		return watcher.Add(path)
	})
}

// folderForPath maps an event path to the folder whose root contains it.
func folderForPath(watched map[string]string, name string) string {
	name = filepath.Clean(name)

	for root, id := range watched {
		if name == root || strings.HasPrefix(name, root+string(filepath.Separator)) {
			return id
		}
	}

	return ""
}
