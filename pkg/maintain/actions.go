// Package maintain implements the named maintenance actions exposed
// through the admin API: cache invalidation, data backups, topic
// refresh, log cleanup and process restart.
package maintain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownAction is returned by Run for an unregistered name.
var ErrUnknownAction = fmt.Errorf("unknown maintenance action")

// Action performs one maintenance task and returns a human-readable
// result message.
type Action func(ctx context.Context) (string, error)

// Manager is a registry of named actions. Actions run one at a time;
// concurrent Run calls on different names still serialize.
type Manager struct {
	mu      sync.Mutex
	actions map[string]Action
	log     zerolog.Logger
}

// NewManager creates an empty registry.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		actions: make(map[string]Action),
		log:     logger,
	}
}

// Register binds a name to an action, replacing any previous binding.
func (m *Manager) Register(name string, fn Action) {
	m.mu.Lock()
	m.actions[name] = fn
	m.mu.Unlock()
}

// Names lists registered actions in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.actions))
	for name := range m.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a named action under the registry lock.
func (m *Manager) Run(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn, ok := m.actions[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}

	start := time.Now()
	msg, err := fn(ctx)
	if err != nil {
		m.log.Error().Err(err).Str("action", name).Msg("maintenance action failed")
		return "", err
	}
	m.log.Info().Str("action", name).Dur("took", time.Since(start)).Msg("maintenance action done")
	return msg, nil
}

// invalidator is the slice of the cache API the clear action needs.
type invalidator interface {
	InvalidateAll()
}

// ClearCache drops every cached entry.
func ClearCache(store invalidator) Action {
	return func(context.Context) (string, error) {
		store.InvalidateAll()
		return "cache cleared", nil
	}
}

// CreateBackup copies the named source files into a timestamped
// subdirectory of dir. Missing sources are skipped, not errors: a
// fresh deployment may not have written every file yet.
func CreateBackup(dir string, sources ...string) Action {
	return func(context.Context) (string, error) {
		dest := filepath.Join(dir, time.Now().UTC().Format("20060102-150405"))
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", fmt.Errorf("create backup dir: %w", err)
		}

		copied := 0
		for _, src := range sources {
			if src == "" {
				continue
			}
			if _, err := os.Stat(src); os.IsNotExist(err) {
				continue
			}
			if err := copyFile(src, filepath.Join(dest, filepath.Base(src))); err != nil {
				return "", fmt.Errorf("backup %s: %w", src, err)
			}
			copied++
		}
		return fmt.Sprintf("backed up %d files to %s", copied, dest), nil
	}
}

// topicSource produces a fresh topic list.
type topicSource func(ctx context.Context) ([]string, error)

// topicSink receives the refreshed list.
type topicSink interface {
	SetSeedTopics(topics []string)
}

// RefreshTopics regenerates the seed topic list and installs it on
// the controller without a restart.
func RefreshTopics(fetch topicSource, sink topicSink) Action {
	return func(ctx context.Context) (string, error) {
		topics, err := fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("refresh topics: %w", err)
		}
		if len(topics) == 0 {
			return "", fmt.Errorf("refresh topics: empty list")
		}
		sink.SetSeedTopics(topics)
		return fmt.Sprintf("installed %d topics", len(topics)), nil
	}
}

// CleanLogs removes regular files under dir older than retention
// days. Subdirectories are left alone.
func CleanLogs(dir string, retentionDays int) Action {
	return func(context.Context) (string, error) {
		if retentionDays <= 0 {
			retentionDays = 30
		}
		cutoff := time.Now().AddDate(0, 0, -retentionDays)

		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return "no log directory", nil
		}
		if err != nil {
			return "", fmt.Errorf("read log dir: %w", err)
		}

		removed := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
					removed++
				}
			}
		}
		return fmt.Sprintf("removed %d old log files", removed), nil
	}
}

// Restart asks the process supervisor to cycle us: the shutdown
// callback stops the service cleanly and the supervisor brings it
// back. The callback runs after the reply is sent.
func Restart(shutdown func()) Action {
	return func(context.Context) (string, error) {
		go func() {
			time.Sleep(500 * time.Millisecond)
			shutdown()
		}()
		return "restarting", nil
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
