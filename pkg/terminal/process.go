package terminal

import (
	"errors"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// ErrResizeUnsupported is returned by processes without a pseudo terminal.
var ErrResizeUnsupported = errors.New("resize not supported without a pty")

// Command describes the shell to start.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // added to the server environment; later entries win
}

// Process is a running shell owned by exactly one session.
type Process interface {
	Pid() int
	// Streams returns the output readers: one for a pty, stdout and stderr
	// for pipes.
	Streams() []io.Reader
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Kill() error
	// Wait blocks until the process exits and returns its exit code. It does
	// not wait for Streams to reach EOF.
	Wait() (int, error)
	// Close releases stdin and the output streams, unblocking any reader.
	Close() error
}

// Spawner starts shell processes.
type Spawner interface {
	Spawn(cmd Command) (Process, error)
}

// ExecSpawner starts processes on a pty when the platform supports it and
// falls back to plain pipes otherwise.
type ExecSpawner struct {
	DisablePTY bool
	Cols, Rows int
}

// Spawn implements Spawner.
func (s ExecSpawner) Spawn(c Command) (Process, error) {
	if !s.DisablePTY {
		proc, err := startPTYProcess(c, s.Cols, s.Rows)
		if err == nil {
			return proc, nil
		}
		if !errors.Is(err, pty.ErrUnsupported) {
			return nil, err
		}
	}
	return startPipeProcess(c)
}

// ShellCommand resolves the shell to run. An explicit override wins;
// otherwise powershell.exe on Windows and bash everywhere else.
func ShellCommand(override string, args []string, goos string) (string, []string) {
	if shell := strings.TrimSpace(override); shell != "" {
		return shell, append([]string(nil), args...)
	}
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" {
		return "powershell.exe", append([]string(nil), args...)
	}
	return "bash", append([]string(nil), args...)
}

func buildCmd(c Command) *exec.Cmd {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	if !hasEnv(cmd.Env, "TERM") {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}
	return cmd
}

func hasEnv(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}
	return false
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
	once sync.Once
}

func startPTYProcess(c Command, cols, rows int) (*ptyProcess, error) {
	cmd := buildCmd(c)
	var (
		ptmx *os.File
		err  error
	)
	rows16, okRows := intToUint16(rows)
	cols16, okCols := intToUint16(cols)
	if okRows && okCols {
		ptmx, err = pty.StartWithSize(cmd, &pty.Winsize{Rows: rows16, Cols: cols16})
	} else {
		ptmx, err = pty.Start(cmd)
	}
	if err != nil {
		return nil, err
	}
	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

func (p *ptyProcess) Pid() int                    { return p.cmd.Process.Pid }
func (p *ptyProcess) Streams() []io.Reader        { return []io.Reader{p.ptmx} }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.ptmx.Write(b) }
func (p *ptyProcess) Kill() error                 { return p.cmd.Process.Kill() }

func (p *ptyProcess) Resize(cols, rows int) error {
	rows16, okRows := intToUint16(rows)
	cols16, okCols := intToUint16(cols)
	if !okRows || !okCols {
		return errors.New("invalid terminal size")
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows16, Cols: cols16})
}

func (p *ptyProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	return exitCode(err), ignoreExit(err)
}

func (p *ptyProcess) Close() error {
	var err error
	p.once.Do(func() { err = p.ptmx.Close() })
	return err
}

type pipeProcess struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	once   sync.Once
}

// startPipeProcess wires the shell to os.Pipe descriptors rather than
// cmd.StdoutPipe so that Wait returns as soon as the shell exits and Close
// decides when the readers stop.
func startPipeProcess(c Command) (*pipeProcess, error) {
	cmd := buildCmd(c)
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	pipe := func() (r, w *os.File, err error) {
		r, w, err = os.Pipe()
		if err == nil {
			files = append(files, r, w)
		}
		return r, w, err
	}

	inR, inW, err := pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := pipe()
	if err != nil {
		closeAll()
		return nil, err
	}
	errR, errW, err := pipe()
	if err != nil {
		closeAll()
		return nil, err
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW
	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, err
	}
	// The child holds its own copies now.
	_ = inR.Close()
	_ = outW.Close()
	_ = errW.Close()
	return &pipeProcess{cmd: cmd, stdin: inW, stdout: outR, stderr: errR}, nil
}

func (p *pipeProcess) Pid() int                    { return p.cmd.Process.Pid }
func (p *pipeProcess) Streams() []io.Reader        { return []io.Reader{p.stdout, p.stderr} }
func (p *pipeProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeProcess) Resize(int, int) error       { return ErrResizeUnsupported }
func (p *pipeProcess) Kill() error                 { return p.cmd.Process.Kill() }

func (p *pipeProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	return exitCode(err), ignoreExit(err)
}

func (p *pipeProcess) Close() error {
	var err error
	p.once.Do(func() {
		err = errors.Join(p.stdin.Close(), p.stdout.Close(), p.stderr.Close())
	})
	return err
}

func intToUint16(value int) (uint16, bool) {
	if value <= 0 || value > math.MaxUint16 {
		return 0, false
	}
	return uint16(value), true
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
		return exitErr.ProcessState.ExitCode()
	}
	return -1
}

// ignoreExit drops the error carried by a non-zero exit status; that status
// is already reported through the exit code.
func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
