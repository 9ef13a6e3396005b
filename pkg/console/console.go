// Package console prints styled command line output. Colors follow the
// terminal's profile and disappear when output is not a tty or NO_COLOR is
// set.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// eventColumn is wide enough for the longest file event name.
const eventColumn = 11

// Options configures a Writer.
type Options struct {
	NoColor bool
}

// Writer provides styled output for the CLI.
type Writer struct {
	out io.Writer
	mu  sync.Mutex

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	boldStyle    lipgloss.Style
}

// New creates a Writer on stdout.
func New() *Writer {
	return NewWithOutput(os.Stdout, Options{})
}

// NewWithOutput creates a Writer with a custom destination.
func NewWithOutput(out io.Writer, opts Options) *Writer {
	var termOpts []termenv.OutputOption
	if opts.NoColor || noColorEnv() {
		termOpts = append(termOpts, termenv.WithProfile(termenv.Ascii))
	}
	r := lipgloss.NewRenderer(out, termOpts...)

	return &Writer{
		out: out,

		errorStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),
		warnStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		successStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),
		infoStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
		dimStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		boldStyle: r.NewStyle().Bold(true),
	}
}

func noColorEnv() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// Println writes text with a newline.
func (w *Writer) Println(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Error prints an error message in red.
func (w *Writer) Error(format string, args ...any) {
	w.line(w.errorStyle, "✗ ", format, args...)
}

// Warn prints a warning in yellow.
func (w *Writer) Warn(format string, args ...any) {
	w.line(w.warnStyle, "! ", format, args...)
}

// Info prints an informational line in blue.
func (w *Writer) Info(format string, args ...any) {
	w.line(w.infoStyle, "", format, args...)
}

// Dim prints secondary text.
func (w *Writer) Dim(format string, args ...any) {
	w.line(w.dimStyle, "", format, args...)
}

func (w *Writer) line(style lipgloss.Style, prefix, format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, style.Render(prefix+fmt.Sprintf(format, args...)))
}

// FileEvent prints one file change: time, event name and path. Added files
// are green, deleted files red and changes blue.
func (w *Writer) FileEvent(ts time.Time, eventType, path string) {
	style := w.infoStyle
	switch {
	case strings.HasSuffix(eventType, "Added"):
		style = w.successStyle
	case strings.HasSuffix(eventType, "Deleted"):
		style = w.errorStyle
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s %s %s\n",
		w.dimStyle.Render(ts.Local().Format("15:04:05.000")),
		style.Render(runewidth.FillRight(eventType, eventColumn)),
		w.boldStyle.Render(path),
	)
}
