package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// stateDirs are the per-platform folders a draft can live in.
var stateDirs = []string{"drafts", "done", "declined"}

type WorkspaceWatcherConfig struct {
	// Debounce coalesces bursts such as an editor's write-rename sequence.
	Debounce time.Duration
	// MaxEventsPerFlush caps per-draft events; beyond it a single
	// platform-wide event is sent instead.
	MaxEventsPerFlush int
}

// WorkspaceWatcher notices draft files changed outside the desk (agents
// writing new drafts, manual edits) and drops the cached listing so the next
// read sees them.
type WorkspaceWatcher struct {
	base        string
	platforms   []drafts.Platform
	invalidator drafts.Invalidator
	publisher   drafts.Publisher
	logger      *zap.SugaredLogger
	config      WorkspaceWatcherConfig

	mu        sync.Mutex
	pending   map[string]drafts.Event
	cancelCtx context.CancelFunc
}

func NewWorkspaceWatcher(base string, platforms []drafts.Platform, inv drafts.Invalidator, pub drafts.Publisher, logger *zap.SugaredLogger, config WorkspaceWatcherConfig) *WorkspaceWatcher {
	if config.Debounce <= 0 {
		config.Debounce = 250 * time.Millisecond
	}
	if config.MaxEventsPerFlush <= 0 {
		config.MaxEventsPerFlush = 50
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WorkspaceWatcher{
		base:        filepath.Clean(base),
		platforms:   platforms,
		invalidator: inv,
		publisher:   pub,
		logger:      logger,
		config:      config,
		pending:     make(map[string]drafts.Event),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (w *WorkspaceWatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelCtx = cancel
	w.mu.Unlock()
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	w.addWatches(watcher)
	w.logger.Infow("Starting workspace watcher", "base", w.base, "platforms", w.platforms)

	timer := time.NewTimer(w.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Workspace watcher stopping due to context cancellation")
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("workspace watcher: event channel closed")
			}
			if w.handle(watcher, ev) && !armed {
				timer.Reset(w.config.Debounce)
				armed = true
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("workspace watcher: error channel closed")
			}
			w.logger.Warnw("Workspace watcher error", "error", err)

		case <-timer.C:
			armed = false
			w.flush(ctx)
		}
	}
}

func (w *WorkspaceWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelCtx != nil {
		w.cancelCtx()
	}
}

// addWatches watches the base, each platform folder and each state folder
// that exists. Missing folders are picked up when they are created.
func (w *WorkspaceWatcher) addWatches(watcher *fsnotify.Watcher) {
	w.tryAdd(watcher, w.base)
	for _, p := range w.platforms {
		pdir := filepath.Join(w.base, string(p))
		w.tryAdd(watcher, pdir)
		for _, d := range stateDirs {
			w.tryAdd(watcher, filepath.Join(pdir, d))
		}
	}
}

func (w *WorkspaceWatcher) tryAdd(watcher *fsnotify.Watcher, dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := watcher.Add(dir); err != nil {
		w.logger.Warnw("Failed to watch directory", "dir", dir, "error", err)
	}
}

// handle queues an event for a draft file and reports whether anything was
// queued.
func (w *WorkspaceWatcher) handle(watcher *fsnotify.Watcher, ev fsnotify.Event) bool {
	rel, err := filepath.Rel(w.base, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	// a platform or state folder appeared
	if ev.Has(fsnotify.Create) && len(parts) <= 2 {
		if w.known(parts) {
			w.addWatches(watcher)
		}
		return false
	}
	if len(parts) != 3 {
		return false
	}

	platform, err := drafts.ParsePlatform(parts[0])
	if err != nil || !w.enabled(platform) {
		return false
	}
	name := parts[2]
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
		return false
	}
	if ev.Op == fsnotify.Chmod {
		return false
	}

	id := drafts.ID{Platform: platform, FileID: strings.TrimSuffix(name, ".md")}.String()
	w.mu.Lock()
	w.pending[id] = drafts.Event{
		Type:     drafts.EventChanged,
		DraftID:  id,
		Platform: platform,
		Detail:   parts[1],
	}
	w.mu.Unlock()
	return true
}

func (w *WorkspaceWatcher) known(parts []string) bool {
	p, err := drafts.ParsePlatform(parts[0])
	if err != nil || !w.enabled(p) {
		return false
	}
	if len(parts) == 1 {
		return true
	}
	for _, d := range stateDirs {
		if parts[1] == d {
			return true
		}
	}
	return false
}

func (w *WorkspaceWatcher) enabled(p drafts.Platform) bool {
	for _, q := range w.platforms {
		if q == p {
			return true
		}
	}
	return false
}

func (w *WorkspaceWatcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]drafts.Event)
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if w.invalidator != nil {
		w.invalidator.Invalidate(ctx)
	}
	w.logger.Debugw("Workspace changed", "drafts", len(batch))
	if w.publisher == nil {
		return
	}

	now := time.Now().UTC()
	events := make([]drafts.Event, 0, len(batch))
	if len(batch) > w.config.MaxEventsPerFlush {
		platforms := map[drafts.Platform]bool{}
		for _, ev := range batch {
			platforms[ev.Platform] = true
		}
		for p := range platforms {
			events = append(events, drafts.Event{Type: drafts.EventChanged, Platform: p})
		}
	} else {
		for _, ev := range batch {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Platform != events[j].Platform {
			return events[i].Platform < events[j].Platform
		}
		return events[i].DraftID < events[j].DraftID
	})

	for _, ev := range events {
		ev.At = now
		if err := w.publisher.Publish(ctx, drafts.EventsChannel, ev); err != nil {
			w.logger.Warnw("Failed to publish workspace change", "draft", ev.DraftID, "error", err)
		}
	}
}
