package terminal

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProcess struct {
	pid       int
	r         *io.PipeReader
	w         *io.PipeWriter
	exitCh    chan int
	exitOnce  sync.Once
	resizeErr error
	// beforeWrite runs at the start of Write, outside mu.
	beforeWrite func()

	mu     sync.Mutex
	input  []string
	killed bool
	cols   int
	rows   int
}

func newFakeProcess(pid int) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, r: r, w: w, exitCh: make(chan int, 1)}
}

func (p *fakeProcess) Pid() int             { return p.pid }
func (p *fakeProcess) Streams() []io.Reader { return []io.Reader{p.r} }

func (p *fakeProcess) Write(b []byte) (int, error) {
	if p.beforeWrite != nil {
		p.beforeWrite()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return 0, errors.New("write to exited process")
	}
	p.input = append(p.input, string(b))
	return len(b), nil
}

func (p *fakeProcess) Resize(cols, rows int) error {
	if p.resizeErr != nil {
		return p.resizeErr
	}
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) { return <-p.exitCh, nil }
func (p *fakeProcess) Close() error       { return p.r.Close() }

// say writes output as if the shell printed it.
func (p *fakeProcess) say(text string) {
	go func() { _, _ = p.w.Write([]byte(text)) }()
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCh <- code
		_ = p.w.Close()
	})
}

// exitKeepingOutput reports an exit while the output stream stays open, as
// when a background child still holds the shell's stdout.
func (p *fakeProcess) exitKeepingOutput(code int) {
	p.exitOnce.Do(func() { p.exitCh <- code })
}

func (p *fakeProcess) inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.input...)
}

type fakeSpawner struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	commands []Command
	failNext int
	greeting string
}

func (s *fakeSpawner) Spawn(c Command) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, c)
	if s.failNext > 0 {
		s.failNext--
		return nil, errors.New("bash: not found")
	}
	proc := newFakeProcess(1000 + len(s.procs))
	s.procs = append(s.procs, proc)
	if s.greeting != "" {
		proc.say(s.greeting)
	}
	return proc, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

type sentEvent struct {
	Type    string
	Payload any
}

type recordingSink struct {
	mu     sync.Mutex
	events []sentEvent
}

func (s *recordingSink) Send(eventType string, payload any) error {
	s.mu.Lock()
	s.events = append(s.events, sentEvent{Type: eventType, Payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEvent(nil), s.events...)
}

func (s *recordingSink) data() string {
	var b strings.Builder
	for _, ev := range s.snapshot() {
		if ev.Type == EventData {
			b.WriteString(ev.Payload.(string))
		}
	}
	return b.String()
}

func (s *recordingSink) count(eventType string) int {
	n := 0
	for _, ev := range s.snapshot() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
