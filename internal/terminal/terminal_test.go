package terminal_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/terminal"
)

// syncBuffer is a bytes.Buffer safe for the PTY reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ─────────────────────────────────────────────────────────────
// Manager
// ─────────────────────────────────────────────────────────────

func TestManager_EditsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "row.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

	var exited bool
	m := terminal.New(terminal.Options{
		Command: "sh",
		Args:    []string{"-c", `printf '%s' '{"name":"Edited"}' > "$0"`},
		OnExit:  func(error) { exited = true },
	})
	require.NoError(t, m.OpenFile(path))
	require.NoError(t, m.Wait())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Edited"}`, string(data))
	assert.False(t, m.IsRunning())
	assert.True(t, exited)
}

func TestManager_ForwardsOutput(t *testing.T) {
	out := &syncBuffer{}
	m := terminal.New(terminal.Options{
		Command: "sh",
		Args:    []string{"-c", `echo "editing $0"`},
		Output:  out,
		Cols:    120,
		Rows:    40,
	})
	require.NoError(t, m.OpenFile("clients.json"))
	require.NoError(t, m.Wait())
	assert.Contains(t, out.String(), "editing clients.json")
}

func TestManager_CloseKillsEditor(t *testing.T) {
	m := terminal.New(terminal.Options{Command: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, m.OpenFile("unused"))
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Resize(100, 30))

	m.Close()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("editor did not exit after Close")
	}
	assert.Error(t, m.Wait())
	assert.False(t, m.IsRunning())
}

func TestManager_WithoutSession(t *testing.T) {
	m := terminal.New(terminal.Options{Command: "sh"})
	_, err := m.Write([]byte("x"))
	assert.ErrorIs(t, err, terminal.ErrNotRunning)
	assert.ErrorIs(t, m.Wait(), terminal.ErrNotRunning)
	assert.NoError(t, m.Resize(80, 24))
}

// ─────────────────────────────────────────────────────────────
// Watcher
// ─────────────────────────────────────────────────────────────

func TestWatcher_ReportsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "row.json")
	other := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

	var (
		mu   sync.Mutex
		seen = map[string]string{}
	)
	w, err := terminal.NewWatcher(func(key string, content []byte) {
		mu.Lock()
		seen[key] = string(content)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch("row-1", path))

	require.NoError(t, os.WriteFile(other, []byte(`ignored`), 0600))
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["row-1"] == `{"a":1}`
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()
}

func TestWatcher_Unwatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "row.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

	calls := make(chan string, 10)
	w, err := terminal.NewWatcher(func(key string, _ []byte) { calls <- key }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch("row-1", path))
	w.Unwatch("row-1")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":2}`), 0600))

	select {
	case key := <-calls:
		t.Fatalf("unexpected change for %s", key)
	case <-time.After(200 * time.Millisecond):
	}
}
