package ipc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/odvcencio/tandem/pkg/filewatch"
	"github.com/odvcencio/tandem/pkg/logging"
	"github.com/odvcencio/tandem/pkg/mirror"
	"github.com/odvcencio/tandem/pkg/scripts"
	"github.com/odvcencio/tandem/pkg/terminal"
)

// echoProcess answers every input line with "echo:<line>".
type echoProcess struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	exit chan struct{}
	once sync.Once
}

func (p *echoProcess) Pid() int             { return 4242 }
func (p *echoProcess) Streams() []io.Reader { return []io.Reader{p.r} }
func (p *echoProcess) Resize(int, int) error {
	return nil
}

func (p *echoProcess) Write(b []byte) (int, error) {
	line := "echo:" + strings.TrimSpace(string(b)) + "\r\n"
	go func() { _, _ = p.w.Write([]byte(line)) }()
	return len(b), nil
}

func (p *echoProcess) Kill() error {
	p.once.Do(func() {
		close(p.exit)
		_ = p.w.Close()
	})
	return nil
}

func (p *echoProcess) Wait() (int, error) {
	<-p.exit
	return 0, nil
}

func (p *echoProcess) Close() error { return p.r.Close() }

type echoSpawner struct{}

func (echoSpawner) Spawn(terminal.Command) (terminal.Process, error) {
	r, w := io.Pipe()
	return &echoProcess{r: r, w: w, exit: make(chan struct{})}, nil
}

type testEnv struct {
	server  *Server
	http    *httptest.Server
	source  string
	preview string
	watcher *filewatch.FileWatcher
	terms   *terminal.Registry
}

func newTestEnv(t *testing.T, commands map[scripts.Name]string) *testEnv {
	t.Helper()
	source := t.TempDir()
	preview := t.TempDir()

	m, err := mirror.New(mirror.Options{SourceDir: source, PreviewDir: preview, Mode: mirror.ModeLocal})
	require.NoError(t, err)

	watcher := filewatch.New(filewatch.Options{Roots: []string{source, preview}})
	terms := terminal.NewRegistry(terminal.Options{
		Spawner: echoSpawner{},
		Banner:  "welcome\r\n",
		Logger:  logging.Discard(),
	})
	runner := scripts.NewRunner(scripts.Options{Commands: commands, Dir: source})

	s := NewServer(Config{Version: "test"}, Deps{
		Mirror:    m,
		Watcher:   watcher,
		Terminals: terms,
		Scripts:   runner,
		Logger:    logging.Discard(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return &testEnv{server: s, http: ts, source: source, preview: preview, watcher: watcher, terms: terms}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.http.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	require.Eventually(t, func() bool { return e.server.Hub().Len() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg inboundMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wireEvent {
	t.Helper()
	for i := 0; i < 50; i++ {
		if ev := readFrame(t, conn); ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("no %s frame received", eventType)
	return wireEvent{}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+target, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestTerminalCreateAcknowledgesThenBanners(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	sendFrame(t, conn, inboundMessage{Type: msgTerminalCreate})

	created := readFrame(t, conn)
	require.Equal(t, terminal.EventCreated, created.Type)
	var ack terminal.CreatedPayload
	require.NoError(t, json.Unmarshal(created.Payload, &ack))
	assert.NotEmpty(t, ack.ID)

	banner := readFrame(t, conn)
	require.Equal(t, terminal.EventData, banner.Type)
	assert.JSONEq(t, `"welcome\r\n"`, string(banner.Payload))

	sendFrame(t, conn, inboundMessage{Type: msgTerminalResize, Cols: 120, Rows: 40})
	sendFrame(t, conn, inboundMessage{Type: msgTerminalInput, Data: "ls\n"})
	out := readUntil(t, conn, terminal.EventData)
	assert.Contains(t, string(out.Payload), "echo:ls")

	_, ok := env.terms.Get(ack.ID)
	assert.True(t, ok)
}

func TestTerminalOutputOnlyReachesOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.dial(t)
	other := env.dial(t)
	require.Eventually(t, func() bool { return env.server.Hub().Len() == 2 }, time.Second, 5*time.Millisecond)

	sendFrame(t, owner, inboundMessage{Type: msgTerminalCreate})
	readUntil(t, owner, terminal.EventCreated)

	// The next frame "other" sees must be the broadcast, not terminal data.
	status, _ := env.do(t, http.MethodPost, "/api/file?path=note.txt", "x")
	require.Equal(t, http.StatusOK, status)
	ev := readFrame(t, other)
	assert.Equal(t, EventFileChanged, ev.Type)
}

func TestInputWithoutSessionIsReported(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	sendFrame(t, conn, inboundMessage{Type: "bogus"})
	sendFrame(t, conn, inboundMessage{Type: msgTerminalInput, Data: "ls\n"})

	ev := readFrame(t, conn)
	assert.Equal(t, terminal.EventData, ev.Type)
	assert.Contains(t, string(ev.Payload), "no terminal session")
}

func TestDisconnectDestroysSession(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	sendFrame(t, conn, inboundMessage{Type: msgTerminalCreate})
	readUntil(t, conn, terminal.EventCreated)
	require.Equal(t, 1, env.terms.Len())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return env.terms.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return env.server.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWriteAndDeleteBroadcastToAllClients(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.dial(t)
	b := env.dial(t)
	require.Eventually(t, func() bool { return env.server.Hub().Len() == 2 }, time.Second, 5*time.Millisecond)

	status, body := env.do(t, http.MethodPost, "/api/file?path=src/index.html", "<h1>hi</h1>")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readUntil(t, conn, EventFileChanged)
		assert.JSONEq(t, `{"path":"src/index.html"}`, string(ev.Payload))
	}
	for _, root := range []string{env.source, env.preview} {
		data, err := os.ReadFile(filepath.Join(root, "src", "index.html"))
		require.NoError(t, err)
		assert.Equal(t, "<h1>hi</h1>", string(data))
	}

	status, body = env.do(t, http.MethodGet, "/api/file?path=src/index.html", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<h1>hi</h1>", body["content"])

	status, _ = env.do(t, http.MethodDelete, "/api/file?path=src/index.html", "")
	require.Equal(t, http.StatusOK, status)
	for _, conn := range []*websocket.Conn{a, b} {
		ev := readUntil(t, conn, EventFileDeleted)
		assert.JSONEq(t, `{"path":"src/index.html"}`, string(ev.Payload))
	}
	for _, root := range []string{env.source, env.preview} {
		_, err := os.Stat(filepath.Join(root, "src", "index.html"))
		assert.True(t, os.IsNotExist(err))
	}

	changes := env.watcher.RecentChanges(10)
	require.Len(t, changes, 2)
	assert.Equal(t, filewatch.OriginAPI, changes[0].Origin)
}

func TestFileErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/api/file?path=missing.txt", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "FS_NOT_FOUND", body["code"])

	status, _ = env.do(t, http.MethodPost, "/api/file?path=../escape.txt", "nope")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodDelete, "/api/file?path=missing.txt", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListFilesAndRecentChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(env.source, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.source, "css", "site.css"), []byte("body{}"), 0o644))

	resp, err := env.http.Client().Get(env.http.URL + "/api/files")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []mirror.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "css", entries[0].Name)
	require.Len(t, entries[0].Children, 1)
	assert.Equal(t, "css/site.css", entries[0].Children[0].Path)

	status, _ := env.do(t, http.MethodPost, "/api/file?path=a.txt", "a")
	require.Equal(t, http.StatusOK, status)

	resp2, err := env.http.Client().Get(env.http.URL + "/api/changes?limit=5")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var changes []changeView
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&changes))
	require.Len(t, changes, 1)
	assert.Equal(t, EventFileChanged, changes[0].Event)
	assert.Equal(t, "a.txt", changes[0].Path)
}

func TestRunScripts(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "rebuild.sh")
	bad := filepath.Join(dir, "sync.sh")
	require.NoError(t, os.WriteFile(ok, []byte("echo built\n"), 0o755))
	require.NoError(t, os.WriteFile(bad, []byte("echo oops >&2\nexit 2\n"), 0o755))

	env := newTestEnv(t, map[scripts.Name]string{
		scripts.Rebuild: "sh " + ok,
		scripts.Sync:    "sh " + bad,
	})

	status, body := env.do(t, http.MethodPost, "/api/rebuild", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["output"], "built")

	status, body = env.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body["stderr"], "oops")
	assert.NotEmpty(t, body["error"])
}

func TestUnconfiguredScriptIsNotImplemented(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodPost, "/api/rebuild", "")
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "UNSUPPORTED", body["code"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "local", body["mode"])
	assert.Equal(t, env.source, body["root"])
}

func TestStaticFallbackServesIndex(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>editor</html>"), 0o644))

	s := NewServer(Config{StaticDir: static}, Deps{Logger: logging.Discard()})
	t.Cleanup(s.Close)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/some/client/route")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "editor")
}
