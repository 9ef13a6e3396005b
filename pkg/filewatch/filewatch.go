// Package filewatch turns filesystem activity under a set of roots into
// canonical change events and fans them out to subscribers.
package filewatch

import (
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/tandem/pkg/logging"
)

// ChangeType is the canonical kind of a change.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Origin says whether a change was observed on disk or reported by the API.
type Origin string

const (
	OriginFS  Origin = "fs"
	OriginAPI Origin = "api"
)

const defaultMaxHistory = 100

// FileChange is one canonical event. Path is slash separated and relative
// to Root.
type FileChange struct {
	Path   string     `json:"path"`
	Type   ChangeType `json:"type"`
	Root   string     `json:"root,omitempty"`
	Origin Origin     `json:"origin"`
	Time   time.Time  `json:"time"`
}

type FileChangeHandler func(change FileChange)

type Options struct {
	Roots      []string
	MaxHistory int
	Logger     *slog.Logger
}

type subscriber struct {
	id      string
	match   func(rel string) bool
	handler FileChangeHandler
}

// FileWatcher owns the fsnotify watch over its roots. Handlers run
// synchronously on the goroutine that produced the change, in subscription
// order.
type FileWatcher struct {
	mu      sync.RWMutex
	subs    []subscriber
	history changeLog

	roots  []string
	logger *slog.Logger

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New returns a watcher over the absolute, de-duplicated forms of
// opts.Roots. Nothing is watched until Start.
func New(opts Options) *FileWatcher {
	fw := NewFileWatcher(opts.MaxHistory)
	fw.logger = logging.For(opts.Logger, logging.CategoryWatcher)
	for _, root := range opts.Roots {
		if root = strings.TrimSpace(root); root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		root = filepath.Clean(root)
		if !slices.Contains(fw.roots, root) {
			fw.roots = append(fw.roots, root)
		}
	}
	return fw
}

// NewFileWatcher returns a rootless watcher fed only through Notify.
func NewFileWatcher(maxHistory int) *FileWatcher {
	return &FileWatcher{
		history: newChangeLog(maxHistory),
		logger:  logging.Discard(),
	}
}

func (fw *FileWatcher) Roots() []string {
	return slices.Clone(fw.roots)
}

// Subscribe registers handler for changes whose path matches pattern and
// returns the subscription id. "" and "*" match everything. A pattern
// without a slash is also tried against the base name, so "*.css" matches
// "styles/app.css".
func (fw *FileWatcher) Subscribe(pattern string, handler FileChangeHandler) string {
	if fw == nil || handler == nil {
		return ""
	}
	sub := subscriber{
		id:      ulid.Make().String(),
		match:   compileMatcher(pattern),
		handler: handler,
	}
	fw.mu.Lock()
	fw.subs = append(fw.subs, sub)
	fw.mu.Unlock()
	return sub.id
}

func (fw *FileWatcher) Unsubscribe(id string) {
	if fw == nil || id == "" {
		return
	}
	fw.mu.Lock()
	fw.subs = slices.DeleteFunc(fw.subs, func(s subscriber) bool { return s.id == id })
	fw.mu.Unlock()
}

// Notify records change and hands it to each matching subscriber exactly
// once. Zero Time and Origin default to now and OriginAPI.
func (fw *FileWatcher) Notify(change FileChange) {
	if fw == nil {
		return
	}
	if change.Time.IsZero() {
		change.Time = time.Now()
	}
	if change.Origin == "" {
		change.Origin = OriginAPI
	}

	fw.mu.Lock()
	fw.history.add(change)
	subs := slices.Clone(fw.subs)
	fw.mu.Unlock()

	for _, sub := range subs {
		if sub.match(change.Path) {
			sub.handler(change)
		}
	}
}

// RecentChanges returns up to limit changes, newest first. A limit of zero
// or less returns the whole history.
func (fw *FileWatcher) RecentChanges(limit int) []FileChange {
	if fw == nil {
		return nil
	}
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.history.newest(limit)
}

// IsHidden reports whether any segment of rel starts with a dot.
func IsHidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

func compileMatcher(pattern string) func(string) bool {
	pattern = filepath.ToSlash(strings.TrimSpace(pattern))
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }
	}
	baseToo := !strings.Contains(pattern, "/")
	return func(rel string) bool {
		rel = filepath.ToSlash(rel)
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if baseToo {
			ok, _ := path.Match(pattern, path.Base(rel))
			return ok
		}
		return false
	}
}

// changeLog is a fixed-size ring of recent changes.
type changeLog struct {
	buf   []FileChange
	next  int
	count int
}

func newChangeLog(size int) changeLog {
	if size <= 0 {
		size = defaultMaxHistory
	}
	return changeLog{buf: make([]FileChange, size)}
}

func (l *changeLog) add(c FileChange) {
	l.buf[l.next] = c
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

func (l *changeLog) newest(limit int) []FileChange {
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]FileChange, limit)
	for i := range out {
		out[i] = l.buf[(l.next-1-i+len(l.buf))%len(l.buf)]
	}
	return out
}
