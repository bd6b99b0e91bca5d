// Package watcher tracks assistant CLI sessions on disk: it maps log files
// to terminal-multiplexer identities, reconstructs conversations on change,
// and emits deduplicated typed events for downstream consumers.
package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hexidecibel/companion/internal/core/convo"
	"github.com/Hexidecibel/companion/internal/core/logging"
	"github.com/Hexidecibel/companion/internal/core/pathenc"
)

// messageCacheLimit bounds the cached reconstruction per tracked log.
const messageCacheLimit = 200

// previewLen caps preview strings carried on emitted events.
const previewLen = 160

// identityMapper is the resolver view the tracker needs.
type identityMapper interface {
	IdentityForDir(dir string) (string, bool)
	DirForIdentity(identity string) (string, bool)
	PathForIdentity(identity string) (string, bool)
}

// TrackedConversation is the cached state of one on-disk log. Entries are
// replaced wholesale on every processed change; consumers receive value
// snapshots and must treat slices as immutable.
type TrackedConversation struct {
	Path        string
	EncodedDir  string
	ProjectPath string
	ModTime     time.Time
	CreatedAt   time.Time

	MessageCount int
	Waiting      bool
	Running      bool
	Activity     string
	LastMessage  string

	Messages   []convo.Message
	Highlights []convo.Message
	Tasks      []convo.TaskItem

	// CompactionLine is the next line index to scan for compaction markers.
	CompactionLine int

	// Dedup state for event emission.
	PendingFingerprint string
	ErrorCount         int
}

// Change describes what one processed file change did to a tracked entry,
// with the deltas event emission needs.
type Change struct {
	Entry TrackedConversation

	New            bool
	MessageDelta   int
	WaitingChanged bool
	RunningEnded   bool

	PendingChanged bool
	PendingTools   []string

	ErrorIncreased bool
	ErrorPreview   string

	Compactions []convo.Compaction
}

// Status is the per-identity status snapshot exposed to collaborators.
type Status struct {
	Waiting     bool
	Activity    string
	LastMessage string
}

// IdentitySummary is one row of the known-identities listing.
type IdentitySummary struct {
	Name         string
	ProjectPath  string
	LastActivity time.Time
	Waiting      bool
	MessageCount int
}

// Tracker maintains one TrackedConversation per known log path. All
// mutation happens from the watcher's event loop; queries may come from any
// goroutine.
type Tracker struct {
	mu       sync.RWMutex
	parser   *convo.Parser
	resolver identityMapper
	entries  map[string]*TrackedConversation
	active   string

	historyLimit int
	log          zerolog.Logger
}

// NewTracker creates a Tracker backed by the given parser and identity
// resolver. historyLimit caps the historical log chain per identity.
func NewTracker(parser *convo.Parser, resolver identityMapper, historyLimit int) *Tracker {
	return &Tracker{
		parser:       parser,
		resolver:     resolver,
		entries:      make(map[string]*TrackedConversation),
		historyLimit: historyLimit,
		log:          logging.Component("tracker"),
	}
}

// Has reports whether the path is already tracked.
func (t *Tracker) Has(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[path]
	return ok
}

// Process performs the single read-reconstruct-replace cycle for a changed
// log: one file read, one reconstruction pass, one task extraction, one
// bounded compaction scan, then an atomic entry replacement. A file that
// disappeared or cannot be read is reported as an error the caller treats
// as "no data yet".
func (t *Tracker) Process(path string) (Change, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Change{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Change{}, err
	}

	messages := t.parser.Parse(data, messageCacheLimit)
	highlights := t.parser.Highlights(messages)
	tasks := t.parser.ExtractTasks(data)
	waiting := t.parser.DetectWaiting(messages)
	activity := t.parser.CurrentActivity(messages)
	running := len(messages) > 0 && !waiting

	pending := t.pendingApprovalTools(messages)
	fingerprint := strings.Join(pending, ",")
	errCount, errPreview := errorState(messages)

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.entries[path]

	fromLine := 0
	createdAt := info.ModTime()
	if prev != nil {
		fromLine = prev.CompactionLine
		createdAt = prev.CreatedAt
	}
	compactions, nextLine := t.parser.ScanCompactions(data, fromLine)

	encodedDir := encodedDirOf(path)
	entry := &TrackedConversation{
		Path:        path,
		EncodedDir:  encodedDir,
		ProjectPath: t.projectPath(encodedDir),
		ModTime:     info.ModTime(),
		CreatedAt:   createdAt,

		MessageCount: len(messages),
		Waiting:      waiting,
		Running:      running,
		Activity:     activity,
		LastMessage:  lastMessageText(messages),

		Messages:   messages,
		Highlights: highlights,
		Tasks:      tasks,

		CompactionLine:     nextLine,
		PendingFingerprint: fingerprint,
		ErrorCount:         errCount,
	}
	t.entries[path] = entry

	change := Change{
		Entry:        *entry,
		New:          prev == nil,
		PendingTools: pending,
		Compactions:  compactions,
		ErrorPreview: errPreview,
	}
	if prev == nil {
		change.MessageDelta = entry.MessageCount
		change.WaitingChanged = entry.Waiting
		change.PendingChanged = fingerprint != ""
		change.ErrorIncreased = errCount > 0
	} else {
		change.MessageDelta = entry.MessageCount - prev.MessageCount
		change.WaitingChanged = entry.Waiting != prev.Waiting
		change.RunningEnded = prev.Running && !entry.Running
		change.PendingChanged = fingerprint != prev.PendingFingerprint
		change.ErrorIncreased = errCount > prev.ErrorCount
	}
	return change, nil
}

// ByPath returns a snapshot of the entry for a log path.
func (t *Tracker) ByPath(path string) (TrackedConversation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[path]
	if !ok {
		return TrackedConversation{}, false
	}
	return *entry, true
}

// ByIdentity returns the authoritative entry for an external identity: the
// most-recently-modified log among all logs in that identity's encoded
// project directory.
func (t *Tracker) ByIdentity(identity string) (TrackedConversation, bool) {
	dir, ok := t.resolver.DirForIdentity(identity)
	if !ok {
		return TrackedConversation{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *TrackedConversation
	for _, entry := range t.entries {
		if entry.EncodedDir != dir {
			continue
		}
		if best == nil || entry.ModTime.After(best.ModTime) {
			best = entry
		}
	}
	if best == nil {
		return TrackedConversation{}, false
	}
	return *best, true
}

// MessagesFor returns the cached messages for an identity. With revalidate
// set, a file that changed on disk since the last processed change is
// re-read and the fresh reconstruction returned. The cached entry is left
// untouched: replacing it here would consume the dedup deltas the watch
// loop has not diffed yet, so the loop stays the sole mutator.
func (t *Tracker) MessagesFor(identity string, revalidate bool) ([]convo.Message, bool) {
	entry, ok := t.ByIdentity(identity)
	if !ok {
		return nil, false
	}
	if revalidate {
		if info, err := os.Stat(entry.Path); err == nil && info.ModTime().After(entry.ModTime) {
			if data, err := os.ReadFile(entry.Path); err == nil {
				return t.parser.Parse(data, messageCacheLimit), true
			}
		}
	}
	return entry.Messages, true
}

// StatusFor returns the current status snapshot for an identity.
func (t *Tracker) StatusFor(identity string) (Status, bool) {
	entry, ok := t.ByIdentity(identity)
	if !ok {
		return Status{}, false
	}
	return Status{
		Waiting:     entry.Waiting,
		Activity:    entry.Activity,
		LastMessage: entry.LastMessage,
	}, true
}

// Summaries lists every identity with a tracked log, sorted by name.
func (t *Tracker) Summaries() []IdentitySummary {
	t.mu.RLock()
	best := make(map[string]*TrackedConversation)
	for _, entry := range t.entries {
		identity, ok := t.resolver.IdentityForDir(entry.EncodedDir)
		if !ok {
			continue
		}
		if cur := best[identity]; cur == nil || entry.ModTime.After(cur.ModTime) {
			best[identity] = entry
		}
	}
	t.mu.RUnlock()

	out := make([]IdentitySummary, 0, len(best))
	for identity, entry := range best {
		out = append(out, IdentitySummary{
			Name:         identity,
			ProjectPath:  entry.ProjectPath,
			LastActivity: entry.ModTime,
			Waiting:      entry.Waiting,
			MessageCount: entry.MessageCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveIdentity returns the currently focused identity, or "".
func (t *Tracker) ActiveIdentity() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// SetActiveIdentity focuses an identity.
func (t *Tracker) SetActiveIdentity(identity string) {
	t.mu.Lock()
	t.active = identity
	t.mu.Unlock()
}

// MostRecentIdentity returns the tagged identity whose authoritative log
// was modified last, or "" when nothing is tracked.
func (t *Tracker) MostRecentIdentity() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	identity := ""
	var latest time.Time
	for _, entry := range t.entries {
		id, ok := t.resolver.IdentityForDir(entry.EncodedDir)
		if !ok {
			continue
		}
		if identity == "" || entry.ModTime.After(latest) {
			identity = id
			latest = entry.ModTime
		}
	}
	return identity
}

// HistoryChain returns a best-effort chain of historical log files for an
// identity, oldest-first, capped at the configured count. Only files
// created at or before the tracked file's creation time are included, so
// unrelated later sessions sharing the directory are not conflated.
func (t *Tracker) HistoryChain(identity string) []string {
	entry, ok := t.ByIdentity(identity)
	if !ok {
		return nil
	}

	dir := filepath.Dir(entry.Path)
	listing, err := os.ReadDir(dir)
	if err != nil {
		return []string{entry.Path}
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var chain []candidate
	for _, de := range listing {
		if de.IsDir() || !isSessionLog(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(entry.CreatedAt) && de.Name() != filepath.Base(entry.Path) {
			continue
		}
		chain = append(chain, candidate{path: filepath.Join(dir, de.Name()), mod: info.ModTime()})
	}

	sort.Slice(chain, func(i, j int) bool { return chain[i].mod.Before(chain[j].mod) })
	if t.historyLimit > 0 && len(chain) > t.historyLimit {
		chain = chain[len(chain)-t.historyLimit:]
	}

	out := make([]string, len(chain))
	for i, c := range chain {
		out[i] = c.path
	}
	return out
}

// Prune removes entries whose encoded directory no longer maps to a tagged
// identity, and clears the active identity if it disappeared.
func (t *Tracker) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for path, entry := range t.entries {
		if _, ok := t.resolver.IdentityForDir(entry.EncodedDir); !ok {
			t.log.Debug().Str("path", path).Msg("pruning untagged conversation")
			delete(t.entries, path)
		}
	}
	if t.active != "" {
		if _, ok := t.resolver.DirForIdentity(t.active); !ok {
			t.active = ""
		}
	}
}

// SampleActivities refreshes every entry's activity string via the
// fast-path tail sampler. File reads happen outside the lock.
func (t *Tracker) SampleActivities() {
	t.mu.RLock()
	paths := make([]string, 0, len(t.entries))
	for path := range t.entries {
		paths = append(paths, path)
	}
	t.mu.RUnlock()

	sampled := make(map[string]string, len(paths))
	for _, path := range paths {
		sampled[path] = t.parser.LatestActivity(path)
	}

	t.mu.Lock()
	for path, activity := range sampled {
		if entry, ok := t.entries[path]; ok && activity != "" {
			entry.Activity = activity
		}
	}
	t.mu.Unlock()
}

// pendingApprovalTools collects the names of still-pending approval-required
// tools, sorted for a stable fingerprint.
func (t *Tracker) pendingApprovalTools(messages []convo.Message) []string {
	vocab := t.parser.Vocabulary()
	var names []string
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.Status == convo.StatusPending && vocab.RequiresApproval(tc.Name) {
				names = append(names, tc.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// errorState counts errored tool calls and previews the most recent one.
func errorState(messages []convo.Message) (int, string) {
	count := 0
	preview := ""
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.Status == convo.StatusError {
				count++
				preview = previewOf(tc.Output)
			}
		}
	}
	return count, preview
}

func (t *Tracker) projectPath(encodedDir string) string {
	if identity, ok := t.resolver.IdentityForDir(encodedDir); ok {
		if path, ok := t.resolver.PathForIdentity(identity); ok {
			return path
		}
	}
	return pathenc.Decode(encodedDir)
}

func lastMessageText(messages []convo.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Text != "" {
			return previewOf(messages[i].Text)
		}
	}
	return ""
}

func previewOf(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "…"
}

// encodedDirOf derives the log-store project segment from a log path.
func encodedDirOf(path string) string {
	return filepath.Base(filepath.Dir(path))
}
