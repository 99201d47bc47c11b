// Package hls supervises on-demand HLS transmux sessions: one external
// encoder child per source, a spool directory of segments, and idle-based
// teardown.
package hls

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/ddevcap/streamgate/util"
)

// Status is the lifecycle state of a transmux session.
type Status int

const (
	StatusInProgress Status = iota
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Task tracks one running (or finished) transmux session.
type Task struct {
	// ManifestPath is the absolute master playlist path inside the spool.
	ManifestPath string

	mu      sync.Mutex
	status  Status
	process *os.Process
	done    bool
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.done = true
	t.mu.Unlock()
}

// kill terminates the encoder child if it is still running.
func (t *Task) kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.process == nil {
		return nil
	}
	return t.process.Kill()
}

// Config tunes the manager. The probe and segmenter binaries are looked up
// on PATH when given as bare names.
type Config struct {
	// Root is the directory spool directories are created beneath.
	Root string
	// SegmentSeconds is the target segment duration.
	SegmentSeconds uint
	// IdleEviction is how long a session may go unaccessed before its child
	// is killed and its spool removed.
	IdleEviction time.Duration
	// ProbeBin and SegmenterBin default to "ffprobe" and "ffmpeg".
	ProbeBin     string
	SegmenterBin string
}

func (c Config) withDefaults() Config {
	if c.ProbeBin == "" {
		c.ProbeBin = "ffprobe"
	}
	if c.SegmenterBin == "" {
		c.SegmenterBin = "ffmpeg"
	}
	if c.SegmentSeconds == 0 {
		c.SegmentSeconds = 6
	}
	if c.IdleEviction <= 0 {
		c.IdleEviction = 10 * time.Minute
	}
	return c
}

// Manager launches at most one encoder child per source path and serves the
// resulting spool. Tasks idle out of the cache; eviction kills the child and
// removes the spool directory asynchronously.
type Manager struct {
	cfg   Config
	tasks *ttlcache.Cache[string, *Task]
	group singleflight.Group
}

// NewManager builds a running manager.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	tasks := ttlcache.New[string, *Task](
		ttlcache.WithTTL[string, *Task](cfg.IdleEviction),
	)
	tasks.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *Task]) {
		// Teardown must not block the cache; both steps are best-effort.
		task := item.Value()
		key := item.Key()
		go func() {
			if err := task.kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				slog.Error("killing transmux child failed", "source", key, "error", err)
			}
			spool := filepath.Dir(task.ManifestPath)
			if err := os.RemoveAll(spool); err != nil {
				slog.Error("removing spool dir failed", "spool", spool, "error", err)
			} else {
				slog.Debug("removed spool dir", "spool", spool)
			}
		}()
	})
	go tasks.Start()
	return &Manager{cfg: cfg, tasks: tasks}
}

// SpoolDir returns the spool directory for a source path.
func (m *Manager) SpoolDir(sourcePath string) string {
	return filepath.Join(m.cfg.Root, util.MD5Hex(sourcePath))
}

// ManifestPath returns the master playlist path for a source path.
func (m *Manager) ManifestPath(sourcePath string) string {
	return filepath.Join(m.SpoolDir(sourcePath), masterPlaylistName)
}

// EnsureStream guarantees a transmux session exists for the source and
// returns the manifest path. The master playlist is written synchronously;
// segments appear as the child emits them. Concurrent callers for the same
// source share one launch.
func (m *Manager) EnsureStream(ctx context.Context, sourcePath string) (string, error) {
	manifest := m.ManifestPath(sourcePath)

	// Fast path: a finished session is served straight from the spool.
	if item := m.tasks.Get(sourcePath); item != nil && item.Value().Status() == StatusCompleted {
		return manifest, nil
	}

	result, err, _ := m.group.Do(sourcePath, func() (any, error) {
		// Re-check under the flight: another caller may have launched while
		// we waited for the group slot.
		if item := m.tasks.Get(sourcePath); item != nil {
			if task := item.Value(); task.Status() != StatusFailed && fileExists(task.ManifestPath) {
				return task.ManifestPath, nil
			}
		}
		return m.launch(ctx, sourcePath)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// launch probes the source, writes the master playlist, starts the
// segmenter child and registers its supervising task.
func (m *Manager) launch(ctx context.Context, sourcePath string) (string, error) {
	if sourcePath == "" {
		return "", errors.New("hls: empty source path")
	}
	spool := m.SpoolDir(sourcePath)

	probed, err := probe(ctx, m.cfg.ProbeBin, sourcePath)
	if err != nil {
		return "", err
	}
	manifest, err := writeMasterPlaylist(probed, spool)
	if err != nil {
		return "", err
	}

	cmd, stderr, err := startSegmenter(m.cfg.SegmenterBin, sourcePath, spool, m.cfg.SegmentSeconds)
	if err != nil {
		return "", err
	}

	task := &Task{
		ManifestPath: manifest,
		status:       StatusInProgress,
		process:      cmd.Process,
	}
	m.tasks.Set(sourcePath, task, ttlcache.DefaultTTL)
	slog.Info("transmux started", "source", sourcePath, "spool", spool, "pid", cmd.Process.Pid)

	go m.supervise(sourcePath, task, cmd, stderr)

	return manifest, nil
}

// supervise drains the child's stderr, waits for it to exit and records the
// outcome. It runs outside the single-flight group so followers are never
// blocked on encoder lifetime.
func (m *Manager) supervise(sourcePath string, task *Task, cmd *exec.Cmd, stderr io.ReadCloser) {
	output, _ := io.ReadAll(stderr)

	if err := cmd.Wait(); err != nil {
		task.setStatus(StatusFailed)
		slog.Error("transmux failed", "source", sourcePath, "error", err, "stderr", string(output))
		return
	}
	task.setStatus(StatusCompleted)
	slog.Info("transmux completed", "source", sourcePath)
}

// Touch marks a session as recently used so segment fetches keep it alive.
func (m *Manager) Touch(sourcePath string) {
	m.tasks.Get(sourcePath) // Get extends the idle timer.
}

// Stop shuts down the cache's expiration loop. Running children are left to
// their supervisors.
func (m *Manager) Stop() {
	m.tasks.Stop()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WaitForFile polls for a spool file to appear, used while the segmenter is
// still ahead of the client. Returns false when the file never shows up
// within retries×delay.
func WaitForFile(ctx context.Context, path string, retries int, delay time.Duration) bool {
	for i := 0; i < retries; i++ {
		if fileExists(path) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return false
}
