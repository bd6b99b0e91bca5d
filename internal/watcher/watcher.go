package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/Hexidecibel/companion/internal/core/config"
	"github.com/Hexidecibel/companion/internal/core/convo"
	"github.com/Hexidecibel/companion/internal/core/eventbus"
	"github.com/Hexidecibel/companion/internal/core/logging"
)

// dueBufferSize bounds the queue of debounced paths awaiting processing.
const dueBufferSize = 128

// Options carries the Watcher's injected dependencies.
type Options struct {
	Config   *config.Config
	Parser   *convo.Parser
	Tracker  *Tracker
	Resolver *Resolver
	Bus      *eventbus.EventBus

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Watcher owns the filesystem watch, the per-path debounce timers, and the
// event-emission dedup. All tracker mutation happens from its single run
// loop; a new notification during processing re-arms the debounce for the
// next cycle rather than starting a parallel pass.
type Watcher struct {
	cfg      *config.Config
	parser   *convo.Parser
	tracker  *Tracker
	resolver *Resolver
	bus      *eventbus.EventBus
	now      func() time.Time
	log      zerolog.Logger

	fsw       *fsnotify.Watcher
	due       chan string
	startedAt time.Time

	mu       sync.Mutex
	debounce map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher from its injected dependencies.
func New(opts Options) *Watcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Watcher{
		cfg:      opts.Config,
		parser:   opts.Parser,
		tracker:  opts.Tracker,
		resolver: opts.Resolver,
		bus:      opts.Bus,
		now:      now,
		log:      logging.Component("watcher"),
		due:      make(chan string, dueBufferSize),
		debounce: make(map[string]*time.Timer),
	}
}

// projectsRoot is where the log store keeps per-project directories.
func (w *Watcher) projectsRoot() string {
	return filepath.Join(w.cfg.LogRoot, "projects")
}

// Start begins watching. It refreshes identities once, sweeps existing
// logs through the same filter as live notifications, and launches the run
// loop. A failure to establish the filesystem watch is returned directly;
// nothing can proceed without it.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.projectsRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create projects root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start filesystem watch: %w", err)
	}
	w.fsw = fsw

	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch projects root: %w", err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.startedAt = w.now()

	if err := w.resolver.Refresh(w.ctx); err != nil {
		w.log.Warn().Err(err).Msg("initial identity refresh failed")
	}

	// Watch existing project directories and pick up logs already being
	// written. The new-path recency filter keeps the historical archive out.
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, de := range entries {
			if !de.IsDir() {
				continue
			}
			dir := filepath.Join(root, de.Name())
			if err := fsw.Add(dir); err != nil {
				w.log.Warn().Err(err).Str("dir", dir).Msg("watch project dir failed")
				continue
			}
			w.sweepDir(dir)
		}
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop shuts the watcher down: all debounce timers are cleared and the run
// loop drained so the process can exit cleanly.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	for _, timer := range w.debounce {
		timer.Stop()
	}
	w.debounce = make(map[string]*time.Timer)
	w.mu.Unlock()

	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Watcher.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("filesystem watch error")
			w.bus.PublishWatcherError(eventbus.WatcherErrorPayload{Err: err})

		case path := <-w.due:
			w.process(path)

		case <-ticker.C:
			w.refresh()
		}
	}
}

// handleFSEvent routes one raw notification: new project directories are
// added to the watch (recursion by create), file writes go through the
// filter into the debounce map.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", event.Name).Msg("watch new project dir failed")
			}
			w.sweepDir(event.Name)
			return
		}
	}

	w.maybeEnqueue(event.Name)
}

// sweepDir enqueues every candidate log already present in a directory.
func (w *Watcher) sweepDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		if !de.IsDir() {
			w.maybeEnqueue(filepath.Join(dir, de.Name()))
		}
	}
}

// maybeEnqueue applies the filtering rules, then (re)arms the path's
// debounce timer. Repeated notifications reset the timer; only the latest
// state is ever processed, never a backlog.
func (w *Watcher) maybeEnqueue(path string) {
	if !isSessionLog(filepath.Base(path)) {
		return
	}

	// A newly observed path must have been touched recently, so startup
	// does not bulk-load the whole historical archive.
	if !w.tracker.Has(path) {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if w.now().Sub(info.ModTime()) > w.cfg.Watcher.NewFileWindow {
			return
		}
	}

	// Once anything is tagged, only logs owned by a tagged identity pass.
	if w.resolver.HasTagged() {
		if _, ok := w.resolver.IdentityForDir(encodedDirOf(path)); !ok {
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(w.cfg.Watcher.Debounce, func() {
		select {
		case w.due <- path:
		case <-w.ctx.Done():
		}
	})
}

// process runs the read-reconstruct-emit cycle for one debounced path.
func (w *Watcher) process(path string) {
	w.mu.Lock()
	delete(w.debounce, path)
	w.mu.Unlock()

	change, err := w.tracker.Process(path)
	if err != nil {
		// File vanished between notification and read; no data yet.
		w.log.Debug().Err(err).Str("path", path).Msg("log not readable")
		return
	}

	w.selectActive()

	identity, ok := w.resolver.IdentityForDir(change.Entry.EncodedDir)
	if !ok {
		return
	}
	w.emit(identity, change)
}

// selectActive applies the active-identity policy: during the startup
// grace window the most-recently-modified tagged identity is re-selected
// on every change; afterwards only when nothing is focused or the focused
// identity vanished.
func (w *Watcher) selectActive() {
	active := w.tracker.ActiveIdentity()
	inGrace := w.now().Sub(w.startedAt) < w.cfg.Watcher.StartupGrace

	if !inGrace && active != "" {
		if _, ok := w.resolver.DirForIdentity(active); ok {
			return
		}
	}

	if recent := w.tracker.MostRecentIdentity(); recent != "" {
		w.tracker.SetActiveIdentity(recent)
	} else if active != "" {
		if _, ok := w.resolver.DirForIdentity(active); !ok {
			w.tracker.SetActiveIdentity("")
		}
	}
}

// emit publishes the deduplicated events for one processed change.
func (w *Watcher) emit(identity string, change Change) {
	entry := change.Entry

	if change.PendingChanged && len(change.PendingTools) > 0 {
		w.bus.PublishPendingApproval(eventbus.PendingApprovalPayload{
			SessionID:   identity,
			ProjectPath: entry.ProjectPath,
			Tools:       change.PendingTools,
		})
	}

	if change.ErrorIncreased {
		w.bus.PublishErrorDetected(eventbus.ErrorDetectedPayload{
			SessionID:   identity,
			ProjectPath: entry.ProjectPath,
			DisplayName: identity,
			Preview:     change.ErrorPreview,
		})
	}

	if change.RunningEnded {
		w.bus.PublishSessionCompleted(eventbus.SessionCompletedPayload{
			SessionID:   identity,
			ProjectPath: entry.ProjectPath,
			DisplayName: identity,
			Preview:     entry.LastMessage,
		})
	}

	for _, c := range change.Compactions {
		w.bus.PublishCompaction(eventbus.CompactionPayload{
			SessionID:   identity,
			DisplayName: identity,
			ProjectPath: entry.ProjectPath,
			Summary:     c.Summary,
			Timestamp:   c.Timestamp,
		})
	}

	if identity == w.tracker.ActiveIdentity() {
		if change.MessageDelta != 0 {
			w.bus.PublishConversationUpdate(eventbus.ConversationUpdatePayload{
				SessionID:  identity,
				Path:       entry.Path,
				Messages:   entry.Messages,
				Highlights: entry.Highlights,
			})
		}
		if change.WaitingChanged {
			w.bus.PublishStatusChange(eventbus.StatusChangePayload{
				SessionID:   identity,
				Waiting:     entry.Waiting,
				Activity:    entry.Activity,
				LastMessage: entry.LastMessage,
			})
		}
		return
	}

	if change.MessageDelta > 0 || change.WaitingChanged {
		w.bus.PublishOtherSessionActivity(eventbus.OtherSessionActivityPayload{
			SessionID:   identity,
			ProjectPath: entry.ProjectPath,
			DisplayName: identity,
			Waiting:     entry.Waiting,
			LastMessage: entry.LastMessage,
			NewMessages: max(change.MessageDelta, 0),
		})
	}
}

// refresh runs the periodic identity sweep: re-resolve tagged sessions,
// prune orphaned entries, re-apply active selection, and re-sample
// activity strings through the fast path.
func (w *Watcher) refresh() {
	if err := w.resolver.Refresh(w.ctx); err != nil {
		w.log.Warn().Err(err).Msg("identity refresh failed")
		return
	}
	w.tracker.Prune()
	w.selectActive()
	w.tracker.SampleActivities()
}

// isSessionLog reports whether a file name is a top-level session log.
// Sub-agent logs are not sessions and are excluded entirely.
func isSessionLog(name string) bool {
	if ok, _ := doublestar.Match("*.jsonl", name); !ok {
		return false
	}
	agent, _ := doublestar.Match("agent-*.jsonl", name)
	return !agent
}
