package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"nhooyr.io/websocket"
)

const (
	defaultAttachURL  = "ws://127.0.0.1:3000/ws"
	maxDialErrorBytes = 4 << 10
)

// clientFrame is what attach sends: the editor's terminal messages.
type clientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// serverFrame is one event pushed by the server.
type serverFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type attachOptions struct {
	url        string
	showEvents bool
}

func parseAttachFlags(args []string) (attachOptions, error) {
	var opts attachOptions
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	fs.StringVar(&opts.url, "url", defaultAttachURL, "server WebSocket URL (http and https URLs are converted)")
	fs.BoolVar(&opts.showEvents, "events", false, "print file change events to stderr")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		opts.url = fs.Arg(0)
	}
	normalized, err := terminalURL(opts.url)
	if err != nil {
		return opts, err
	}
	opts.url = normalized
	return opts, nil
}

// terminalURL accepts ws, wss, http or https URLs, or a bare host:port, and
// returns the WebSocket endpoint.
func terminalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("server URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: missing host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func runAttachCommand(args []string) error {
	opts, err := parseAttachFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return withExitCode(err, exitUsage)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()
	return attachTerminal(ctx, opts)
}

// attachTerminal bridges the local tty to a server terminal session. In raw
// mode Ctrl-C reaches the remote shell; the session ends when stdin closes
// or the server hangs up.
func attachTerminal(ctx context.Context, opts attachOptions) error {
	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)
	rows, cols := 40, 120
	if interactive {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, oldState) }()
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, opts.url, nil)
	cancel()
	if err != nil {
		return formatDialError(resp, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "detached")

	send := func(frame clientFrame) error {
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, payload)
	}
	if err := send(clientFrame{Type: "terminal:create"}); err != nil {
		return err
	}
	if err := send(clientFrame{Type: "terminal:resize", Cols: cols, Rows: rows}); err != nil {
		return err
	}

	if interactive {
		sigCh := make(chan os.Signal, 1)
		registerTerminalResize(sigCh)
		defer unregisterTerminalResize(sigCh)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sigCh:
					w, h, err := term.GetSize(fd)
					if err != nil {
						continue
					}
					_ = send(clientFrame{Type: "terminal:resize", Cols: w, Rows: h})
				}
			}
		}()
	}

	inputErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if writeErr := send(clientFrame{Type: "terminal:input", Data: string(buf[:n])}); writeErr != nil {
					inputErr <- writeErr
					return
				}
			}
			if err != nil {
				inputErr <- err
				return
			}
		}
	}()

	frames := make(chan serverFrame)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			var frame serverFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case err := <-readErr:
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case frame := <-frames:
			if err := renderFrame(frame, os.Stdout, os.Stderr, opts.showEvents); err != nil {
				return err
			}
		}
	}
}

// renderFrame writes terminal output to stdout and, when asked, file events
// to stderr. Other event types are ignored.
func renderFrame(frame serverFrame, stdout, stderr io.Writer, showEvents bool) error {
	switch frame.Type {
	case "terminal:data":
		var text string
		if err := json.Unmarshal(frame.Payload, &text); err != nil {
			return nil
		}
		_, err := io.WriteString(stdout, text)
		return err
	case "fileAdded", "fileChanged", "fileDeleted":
		if !showEvents {
			return nil
		}
		var payload struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil
		}
		_, err := fmt.Fprintf(stderr, "[%s %s]\r\n", frame.Type, payload.Path)
		return err
	default:
		return nil
	}
}

func formatDialError(resp *http.Response, err error) error {
	if resp == nil {
		return err
	}
	if resp.Body == nil {
		return fmt.Errorf("websocket connection failed (%s): %v", resp.Status, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxDialErrorBytes))
	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
		return fmt.Errorf("websocket connection failed (%s): %s", resp.Status, envelope.Message)
	}
	return fmt.Errorf("websocket connection failed (%s): %v", resp.Status, err)
}
