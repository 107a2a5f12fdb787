package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildmesh/internal/build"
	"git.home.luguber.info/inful/buildmesh/internal/config"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
	anyPort = "tcp:port=0:interface=127.0.0.1"
)

type runs struct {
	mu    sync.Mutex
	calls []string
}

func (r *runs) runner() build.Runner {
	return build.RunnerFunc(func(path, version string) (int, []byte) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, filepath.Base(path)+"@"+version)
		return 0, []byte("ok")
	})
}

func (r *runs) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testConfig(t *testing.T, name, extra string) *config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo"), []byte("#!/bin/sh\n"), 0o755))
	doc := fmt.Sprintf(`
hub:
  name: %s
  listen: [%q]
builder:
  enabled: true
  root: %q
%s`, name, anyPort, root, extra)
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config, r *runs) *Daemon {
	t.Helper()
	d, err := New(cfg, "", WithRunner(r.runner()))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func clientDesc(t *testing.T, d *Daemon) string {
	t.Helper()
	srv, ok := d.Hub().Server(anyPort)
	require.True(t, ok)
	return fmt.Sprintf("tcp:host=127.0.0.1:port=%d", srv.Addr().(*net.TCPAddr).Port)
}

func TestDaemonScheduledBuildAndMonitoring(t *testing.T) {
	r := &runs{}
	cfg := testConfig(t, "solo", `
schedules:
  - {project: foo, version: main, every: 1h}
monitoring:
  http: {addr: "127.0.0.1:0"}
`)
	d := startDaemon(t, cfg, r)

	require.NoError(t, d.scheduler.RunNow())
	require.Eventually(t, func() bool { return r.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"foo@main"}, r.calls)

	base := "http://" + d.http.Addr()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Running)
	assert.Equal(t, "solo", st.Name)
	assert.Equal(t, 1, st.Builders)
	assert.Equal(t, 1, st.Schedules)
	assert.Equal(t, []string{anyPort}, st.Listeners)

	mresp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "buildmesh_notes_total")
}

func TestDaemonStartTwice(t *testing.T) {
	d := startDaemon(t, testConfig(t, "twice", ""), &runs{})
	require.Error(t, d.Start(context.Background()))
}

func TestDaemonReloadJoinsAndLeavesPeers(t *testing.T) {
	ra, rb := &runs{}, &runs{}
	a := startDaemon(t, testConfig(t, "a", ""), ra)
	b := startDaemon(t, testConfig(t, "b", ""), rb)
	desc := clientDesc(t, a)

	next := *b.Config()
	next.Hub.Peers = []string{desc}
	require.NoError(t, b.Reload(context.Background(), &next))

	require.Eventually(t, func() bool {
		return len(b.Hub().Connections()) == 1 && len(a.Hub().Peers()) == 1
	}, waitFor, tick)

	b.Hub().Build(context.Background(), note.BuildRequest{Project: "foo", Version: "v1"})
	require.Eventually(t, func() bool { return ra.count() == 1 && rb.count() == 1 }, waitFor, tick)

	without := next
	without.Hub.Peers = nil
	require.NoError(t, b.Reload(context.Background(), &without))
	assert.Empty(t, b.Hub().Connections())
	require.Eventually(t, func() bool { return len(a.Hub().Peers()) == 0 }, waitFor, tick)
}

func TestDaemonReconnectsLostPeer(t *testing.T) {
	a := startDaemon(t, testConfig(t, "a", ""), &runs{})
	desc := clientDesc(t, a)

	cfg := testConfig(t, "c", "")
	cfg.Hub.Peers = []string{desc}
	c := startDaemon(t, cfg, &runs{})
	require.Eventually(t, func() bool { return len(c.Hub().Connections()) == 1 }, waitFor, tick)

	require.NoError(t, c.Hub().Disconnect(desc))
	assert.Empty(t, c.Hub().Connections())

	c.reconnectPeers()
	assert.Equal(t, []string{desc}, c.Hub().Connections())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDaemonReloadDropsLostPeer(t *testing.T) {
	a := startDaemon(t, testConfig(t, "a", ""), &runs{})
	desc := clientDesc(t, a)

	logs := &lockedBuffer{}
	cfg := testConfig(t, "c", "")
	cfg.Hub.Peers = []string{desc}
	r := &runs{}
	c, err := New(cfg, "", WithRunner(r.runner()),
		WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Stop(ctx)
	})
	require.Eventually(t, func() bool { return len(c.Hub().Connections()) == 1 }, waitFor, tick)

	require.NoError(t, c.Hub().Disconnect(desc))

	without := *c.Config()
	without.Hub.Peers = nil
	require.NoError(t, c.Reload(context.Background(), &without))
	assert.Empty(t, c.Hub().Connections())
	assert.Contains(t, logs.String(), "Peer already disconnected")
}

func TestHealthReportsStopped(t *testing.T) {
	srv := NewHTTPServer(config.HTTPConfig{MetricsPath: "/metrics", HealthPath: "/health"}, nil,
		func() Status { return Status{Version: "test"} }, nil)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hub: {name: first}\n"), 0o600))

	var (
		mu    sync.Mutex
		names []string
	)
	w, err := NewConfigWatcher(path, func(_ context.Context, cfg *config.Config) error {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, cfg.Hub.Name)
		return nil
	}, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("hub: {name: second}\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) > 0 && names[len(names)-1] == "second"
	}, waitFor, tick)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
