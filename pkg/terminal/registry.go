// Package terminal owns per-connection shell sessions: spawning, streaming
// output to the owning client, respawning after exit and teardown.
package terminal

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/logging"
)

// DefaultBanner is written after terminal:created and before any shell
// output.
const DefaultBanner = "Welcome to the tandem terminal\r\n"

// DefaultRespawnDelay is the gap between a shell exiting and its replacement.
const DefaultRespawnDelay = time.Second

// Options configures a Registry.
type Options struct {
	Spawner      Spawner
	Shell        string
	Args         []string
	Env          []string
	Dir          string
	RespawnDelay time.Duration
	Banner       string
	Logger       *slog.Logger
}

// Registry maps session ids to sessions. It is owned by the server.
type Registry struct {
	spawner      Spawner
	shell        string
	args         []string
	env          []string
	dir          string
	respawnDelay time.Duration
	banner       string
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a registry; zero options select the platform shell, a
// one second respawn delay and the default banner.
func NewRegistry(opts Options) *Registry {
	spawner := opts.Spawner
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	shell, args := ShellCommand(opts.Shell, opts.Args, "")
	delay := opts.RespawnDelay
	if delay <= 0 {
		delay = DefaultRespawnDelay
	}
	banner := opts.Banner
	if banner == "" {
		banner = DefaultBanner
	} else if !strings.HasSuffix(banner, "\n") {
		banner += "\r\n"
	}
	return &Registry{
		spawner:      spawner,
		shell:        shell,
		args:         args,
		env:          opts.Env,
		dir:          opts.Dir,
		respawnDelay: delay,
		banner:       banner,
		logger:       logging.For(opts.Logger, logging.CategoryTerminal),
		sessions:     make(map[string]*Session),
	}
}

// Shell returns the resolved shell path.
func (r *Registry) Shell() string { return r.shell }

// Create starts a session for id, owned by sink. A repeated create for a
// live session only re-sends terminal:created; a session whose first spawn
// failed tries again.
func (r *Registry) Create(id string, sink Sink) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "session id is required")
	}

	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		sess = &Session{
			id:     id,
			dir:    r.dir,
			sink:   sink,
			reg:    r,
			logger: r.logger.With("session", id),
			state:  StateUncreated,
		}
		r.sessions[id] = sess
		activeSessions.Inc()
	}
	r.mu.Unlock()

	if ok && sess.State() != StateUncreated {
		sess.reack()
		return sess, nil
	}
	if err := sess.start(); err != nil {
		return sess, apperrors.Wrap(err, apperrors.ErrCodeSpawn, "spawning shell").
			WithContext("session", id).
			WithContext("shell", r.shell)
	}
	return sess, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the live session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Input writes data verbatim to the session's shell. Failures are reported
// to the client as terminal data.
func (r *Registry) Input(id, data string) error {
	sess, ok := r.Get(id)
	if !ok {
		return apperrors.New(apperrors.ErrCodeNoSession, "no terminal session").WithContext("session", id)
	}
	sess.input(data)
	return nil
}

// Resize applies a window size. Processes without a pty ignore it.
func (r *Registry) Resize(id string, cols, rows int) error {
	sess, ok := r.Get(id)
	if !ok {
		return apperrors.New(apperrors.ErrCodeNoSession, "no terminal session").WithContext("session", id)
	}
	if err := sess.resize(cols, rows); err != nil {
		if errors.Is(err, ErrResizeUnsupported) {
			sess.logger.Debug("resize ignored", "cols", cols, "rows", rows)
			return nil
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUnsupported, "resizing terminal").
			WithContext("session", id).
			WithContext("cols", cols).
			WithContext("rows", rows)
	}
	return nil
}

// Destroy tears the session down and forgets it. Unknown ids are ignored.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		activeSessions.Dec()
	}
	r.mu.Unlock()
	if ok {
		sess.destroy()
	}
}

// Close destroys every session.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Destroy(id)
	}
}
