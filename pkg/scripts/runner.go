// Package scripts runs the external rebuild and sync commands.
package scripts

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/logging"
)

// Name identifies a configured script.
type Name string

const (
	Rebuild Name = "rebuild"
	Sync    Name = "sync"
)

// Result is the captured outcome of one run.
type Result struct {
	Output   string        `json:"output"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"-"`
}

// Options configures a Runner.
type Options struct {
	Commands map[Name]string // shell command lines; empty disables the script
	Dir      string
	Env      []string // appended to the server environment
	Logger   *slog.Logger
}

// Runner executes configured scripts. Runs have no timeout of their own;
// the caller's context is the only bound.
type Runner struct {
	commands map[Name]string
	dir      string
	env      []string
	logger   *slog.Logger
}

// NewRunner builds a Runner.
func NewRunner(opts Options) *Runner {
	commands := make(map[Name]string, len(opts.Commands))
	for name, cmd := range opts.Commands {
		commands[name] = strings.TrimSpace(cmd)
	}
	return &Runner{
		commands: commands,
		dir:      opts.Dir,
		env:      append([]string(nil), opts.Env...),
		logger:   logging.For(opts.Logger, logging.CategoryScripts),
	}
}

// Shell exit codes for a command that could not be run.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// shellCommand runs command through the platform shell, so quoting,
// arguments and redirections work as they would in a terminal.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// Configured reports whether name has a command.
func (r *Runner) Configured(name Name) bool {
	return r.commands[name] != ""
}

// Run executes the named script and captures stdout and stderr. A non-zero
// exit is an error; the Result still carries both streams.
func (r *Runner) Run(ctx context.Context, name Name) (Result, error) {
	command := r.commands[name]
	if command == "" {
		return Result{}, apperrors.New(apperrors.ErrCodeUnsupported, "script not configured").
			WithContext("script", string(name))
	}
	cmd := shellCommand(ctx, command)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	log := r.logger.With("script", string(name), "command", command, "duration", res.Duration)
	if err != nil {
		log.Warn("script failed", "exit_code", res.ExitCode, "error", err)
		wrapped := apperrors.Wrap(err, apperrors.ErrCodeScriptRun, string(name)+" script failed").
			WithContext("script", string(name)).
			WithContext("command", command)
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || res.ExitCode == exitNotExecutable || res.ExitCode == exitNotFound {
			wrapped = wrapped.WithRemediation(
				"Check that the command exists and is executable",
				"Quote paths that contain spaces",
			)
		}
		return res, wrapped
	}
	log.Info("script finished")
	return res, nil
}
