package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// Change is a validated reload of the config file.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher polls a config file and reports reloads that change at least one
// setting. Edits that fail validation are logged and ignored; so are
// comment or formatting edits that leave every setting as it was.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
	mtime   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path, which must be valid, and polls it until Stop is
// called. onChange may be nil.
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum, w.mtime = snap.cfg, snap.sum, snap.mtime

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight callback to return. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ch, ok := w.reload(); ok && w.onChange != nil {
				w.onChange(ch)
			}
		}
	}
}

// reload returns the change to report, if any. The callback runs outside
// the lock so it may call Current.
func (w *Watcher) reload() (Change, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.mtime) {
		return Change{}, false
	}

	snap, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config watcher: rejected edit, keeping previous config", "path", w.path, "err", err)
		// Do not retry the same broken edit on every tick.
		w.mtime = info.ModTime()
		return Change{}, false
	}
	w.mtime = snap.mtime
	if snap.sum == w.sum {
		return Change{}, false
	}
	w.sum = snap.sum

	d := Diff(w.current, snap.cfg)
	if !d.Changed() {
		slog.Debug("config watcher: file edited without setting changes", "path", w.path)
		return Change{}, false
	}
	ch := Change{Old: w.current, New: snap.cfg, Diff: d}
	w.current = snap.cfg
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	return ch, true
}

type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
