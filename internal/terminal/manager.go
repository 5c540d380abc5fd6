package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// ErrNotRunning is returned when input or resize targets a finished session.
var ErrNotRunning = errors.New("no active editor session")

// Options configure the editor a Manager launches.
type Options struct {
	Command string
	Args    []string
	// Output receives everything the editor draws. Defaults to io.Discard.
	Output io.Writer
	// OnExit runs once the editor process has exited.
	OnExit func(err error)
	Cols   uint16
	Rows   uint16
	Logger *zap.Logger
}

// Manager runs one editor at a time inside a PTY. Starting a new file
// closes the previous session.
type Manager struct {
	mu      sync.Mutex
	ptmx    *os.File
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
	running bool

	editor string
	args   []string
	output io.Writer
	onExit func(err error)
	logger *zap.Logger

	// applied when the next session starts
	pendingCols uint16
	pendingRows uint16
}

// resolveEditor finds the absolute path for the editor binary, probing
// common install locations when it is not on PATH.
func resolveEditor(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	candidates := []string{
		filepath.Join("/opt/homebrew/bin", name),
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/run/current-system/sw/bin", name),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".local/bin", name),
			filepath.Join(home, ".nix-profile/bin", name),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	// exec reports a clear error for an unknown name
	return name
}

// New creates a terminal manager for the configured editor.
func New(opts Options) *Manager {
	editor := opts.Command
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		editor:      resolveEditor(editor),
		args:        opts.Args,
		output:      out,
		onExit:      opts.OnExit,
		logger:      logger.Named("terminal"),
		pendingCols: 80,
		pendingRows: 24,
	}
	if opts.Cols > 0 && opts.Rows > 0 {
		m.pendingCols, m.pendingRows = opts.Cols, opts.Rows
	}
	return m
}

// OpenFile starts the editor on filePath. A running session is closed first.
func (m *Manager) OpenFile(filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.closeInternal()
	}

	args := append(append([]string{}, m.args...), filePath)
	cmd := exec.Command(m.editor, args...)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: m.pendingCols,
		Rows: m.pendingRows,
	})
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}

	done := make(chan struct{})
	m.ptmx = ptmx
	m.cmd = cmd
	m.done = done
	m.exitErr = nil
	m.running = true

	m.logger.Debug("editor started", zap.String("editor", m.editor), zap.String("file", filePath))

	// PTY output → caller
	go func() {
		buf := make([]byte, 32768)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				if _, werr := m.output.Write(buf[:n]); werr != nil {
					m.logger.Debug("forward editor output", zap.Error(werr))
				}
			}
			if err != nil {
				break
			}
		}

		waitErr := cmd.Wait()

		m.mu.Lock()
		if m.cmd == cmd {
			m.running = false
			m.exitErr = waitErr
			m.cmd = nil
			if m.ptmx != nil {
				_ = m.ptmx.Close()
				m.ptmx = nil
			}
		}
		m.mu.Unlock()

		m.logger.Debug("editor exited", zap.String("file", filePath), zap.Error(waitErr))
		if m.onExit != nil {
			m.onExit(waitErr)
		}
		close(done)
	}()

	return nil
}

// Write sends keystrokes to the editor.
func (m *Manager) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.ptmx == nil {
		return 0, ErrNotRunning
	}
	return m.ptmx.Write(p)
}

// Resize updates the PTY window size.
func (m *Manager) Resize(cols, rows uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pendingCols = cols
	m.pendingRows = rows

	if !m.running || m.ptmx == nil {
		return nil
	}
	return pty.Setsize(m.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Wait blocks until the current session's editor exits and returns its exit
// error. It returns ErrNotRunning when no session was ever started.
func (m *Manager) Wait() error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	<-done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}

// Done is closed when the current session's editor exits.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// IsRunning returns whether a session is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Close kills the current session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeInternal()
}

func (m *Manager) closeInternal() {
	if m.ptmx != nil {
		_ = m.ptmx.Close()
		m.ptmx = nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	m.running = false
}
