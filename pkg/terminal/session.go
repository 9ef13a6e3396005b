package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Event types sent to a session's sink.
const (
	EventCreated = "terminal:created"
	EventData    = "terminal:data"
)

// CreatedPayload acknowledges a terminal:create request.
type CreatedPayload struct {
	ID string `json:"id"`
}

// Sink receives the events addressed to a session's owner.
type Sink interface {
	Send(eventType string, payload any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(eventType string, payload any) error

// Send implements Sink.
func (f SinkFunc) Send(eventType string, payload any) error { return f(eventType, payload) }

// State is the lifecycle stage of a session.
type State int

const (
	StateUncreated State = iota
	StateRunning
	StateExited
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

const (
	readBufferSize = 4096
	exitDrainGrace = 200 * time.Millisecond
)

// Session binds one shell process at a time to one client. All output of a
// process generation flows through emit under mu, so chunks reach the sink
// in read order and nothing from an old generation leaks after a respawn or
// destroy.
type Session struct {
	id     string
	dir    string
	sink   Sink
	reg    *Registry
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	proc    Process
	gen     uint64
	timer   *time.Timer
	output  strings.Builder
	started time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dir returns the working directory captured at creation.
func (s *Session) Dir() string { return s.dir }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Output returns everything sent to the client as terminal data so far.
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// Pid returns the running shell's pid, or 0 when no process is attached.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Generation counts successful spawns.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// start spawns the first process and acknowledges the client. On spawn
// failure the session stays Uncreated and the client gets a status line.
func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDestroyed:
		return nil
	case StateRunning, StateExited:
		s.sendLocked(EventCreated, CreatedPayload{ID: s.id})
		return nil
	}
	proc, err := s.spawnLocked()
	if err != nil {
		s.writeLocked(fmt.Sprintf("\r\n[failed to start shell: %v]\r\n", err))
		return err
	}
	s.sendLocked(EventCreated, CreatedPayload{ID: s.id})
	s.writeLocked(s.reg.banner)
	s.attachLocked(proc)
	return nil
}

// reack re-sends the created acknowledgment without spawning.
func (s *Session) reack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return
	}
	s.sendLocked(EventCreated, CreatedPayload{ID: s.id})
}

func (s *Session) spawnLocked() (Process, error) {
	proc, err := s.reg.spawner.Spawn(Command{
		Path: s.reg.shell,
		Args: s.reg.args,
		Dir:  s.dir,
		Env:  s.reg.env,
	})
	if err != nil {
		spawnFailures.Inc()
		return nil, err
	}
	s.gen++
	s.proc = proc
	s.state = StateRunning
	s.started = time.Now()
	spawnsTotal.Inc()
	s.logger.Info("shell started", "pid", proc.Pid(), "generation", s.gen, "dir", s.dir)
	return proc, nil
}

// attachLocked starts one reader per output stream and a supervisor that
// waits for the shell itself. A background child can keep the streams open
// after the shell exits, so the supervisor only gives the readers
// exitDrainGrace to flush before it closes the streams and reports the exit.
func (s *Session) attachLocked(proc Process) {
	gen := s.gen
	var wg sync.WaitGroup
	for _, stream := range proc.Streams() {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			s.pump(gen, r)
		}(stream)
	}
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	go func() {
		code, err := proc.Wait()
		if err != nil {
			s.logger.Debug("shell wait failed", "generation", gen, "error", err)
		}
		select {
		case <-drained:
		case <-time.After(exitDrainGrace):
			s.logger.Debug("output still open after exit", "generation", gen)
		}
		_ = proc.Close()
		s.exited(gen, code)
	}()
}

func (s *Session) pump(gen uint64, r io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if !s.emit(gen, string(buf[:n])) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Debug("output stream closed", "generation", gen, "error", err)
			}
			return
		}
	}
}

// emit forwards one chunk if gen is still the live generation. It reports
// false once the generation is stale so the reader can stop.
func (s *Session) emit(gen uint64, chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state == StateDestroyed {
		return false
	}
	outputBytes.Add(float64(len(chunk)))
	s.writeLocked(chunk)
	return true
}

func (s *Session) exited(gen uint64, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateRunning {
		return
	}
	s.state = StateExited
	s.proc = nil
	s.logger.Info("shell exited", "code", code, "generation", gen, "uptime", time.Since(s.started))
	s.writeLocked(fmt.Sprintf("\r\n[process exited with code %d]\r\n", code))
	s.armLocked(gen)
}

func (s *Session) armLocked(gen uint64) {
	s.timer = time.AfterFunc(s.reg.respawnDelay, func() {
		s.respawn(gen)
	})
}

// respawn runs on the timer. It is a no-op unless the session is still in
// the Exited state of the generation that armed it.
func (s *Session) respawn(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateExited || s.gen != gen {
		return
	}
	s.timer = nil
	proc, err := s.spawnLocked()
	if err != nil {
		s.logger.Warn("respawn failed", "error", err)
		s.writeLocked(fmt.Sprintf("\r\n[failed to restart shell: %v]\r\n", err))
		s.armLocked(gen)
		return
	}
	respawnsTotal.Inc()
	s.attachLocked(proc)
}

// input writes data to the shell's stdin without holding mu, since a full
// stdin only drains while the output readers can emit.
func (s *Session) input(data string) {
	s.mu.Lock()
	proc, gen := s.proc, s.gen
	if proc == nil {
		s.writeLocked("\r\n[terminal is not running]\r\n")
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := proc.Write([]byte(data)); err != nil {
		s.logger.Debug("stdin write failed", "error", err)
		s.mu.Lock()
		if s.gen == gen && s.state == StateRunning {
			s.writeLocked(fmt.Sprintf("\r\n[write to shell failed: %v]\r\n", err))
		}
		s.mu.Unlock()
	}
}

func (s *Session) resize(cols, rows int) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Resize(cols, rows)
}

// destroy stops the timer, detaches the readers and kills the process.
func (s *Session) destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDestroyed
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	proc := s.proc
	s.proc = nil
	s.output.Reset()
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			s.logger.Debug("kill failed", "pid", proc.Pid(), "error", err)
		}
	}
	s.logger.Info("session destroyed")
}

func (s *Session) writeLocked(text string) {
	if text == "" {
		return
	}
	s.output.WriteString(text)
	s.sendLocked(EventData, text)
}

func (s *Session) sendLocked(eventType string, payload any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Send(eventType, payload); err != nil {
		s.logger.Debug("sink send failed", "type", eventType, "error", err)
	}
}
