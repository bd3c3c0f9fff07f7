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

// Watcher polls the config file, and the roster file it names, for content
// changes.
//
// A new config that validates replaces the current one and is handed to the
// change callback together with the previous one. An in-place edit of
// roster.file, with the config itself untouched, is reported through the
// callback set by [OnRosterChange].
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onRoster func(path string)

	mu      sync.Mutex
	current *Config
	cfgVer  fileVersion
	rosVer  fileVersion

	done     chan struct{}
	stopOnce sync.Once
}

// fileVersion identifies the content of a watched file at one point in time.
type fileVersion struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// OnRosterChange registers fn to be called with the roster file path when
// the content of the current config's roster.file changes.
func OnRosterChange(fn func(path string)) WatcherOption {
	return func(w *Watcher) { w.onRoster = fn }
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine until ctx is cancelled or Stop is called.
func NewWatcher(ctx context.Context, path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, ver, err := readChanged(path, fileVersion{})
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.cfgVer = ver
	w.rosVer = versionOf(cfg.Roster.File)

	go w.poll(ctx)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-t.C:
			if !w.checkConfig() {
				w.checkRoster()
			}
		}
	}
}

// checkConfig reloads the config file when its content changed. It reports
// whether a new config was applied.
func (w *Watcher) checkConfig() bool {
	w.mu.Lock()
	prev := w.cfgVer
	w.mu.Unlock()

	data, ver, err := readChanged(w.path, prev)
	if err != nil {
		slog.Warn("config watcher: cannot read config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	w.cfgVer = ver
	w.mu.Unlock()
	if data == nil {
		return false
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	if cfg.Roster.File != old.Roster.File {
		// The change callback loads the new roster file itself.
		w.rosVer = versionOf(cfg.Roster.File)
	}
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// checkRoster calls onRoster when the roster file content changed.
func (w *Watcher) checkRoster() {
	w.mu.Lock()
	path, prev := w.current.Roster.File, w.rosVer
	w.mu.Unlock()
	if path == "" || w.onRoster == nil {
		return
	}

	data, ver, err := readChanged(path, prev)
	if err != nil {
		slog.Warn("config watcher: cannot read roster file", "path", path, "err", err)
		return
	}

	w.mu.Lock()
	w.rosVer = ver
	w.mu.Unlock()
	if data == nil {
		return
	}

	slog.Info("config watcher: roster file changed", "path", path)
	w.onRoster(path)
}

// readChanged returns the content of path and its version when it differs
// from prev. data is nil when the content is unchanged; a touch without an
// edit only moves the recorded mtime.
func readChanged(path string, prev fileVersion) (data []byte, ver fileVersion, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, prev, err
	}
	if !prev.mtime.IsZero() && info.ModTime().Equal(prev.mtime) {
		return nil, prev, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, prev, err
	}
	ver = fileVersion{mtime: info.ModTime(), sum: sha256.Sum256(data)}
	if !prev.mtime.IsZero() && ver.sum == prev.sum {
		return nil, ver, nil
	}
	return data, ver, nil
}

// versionOf records the current version of path, or the zero version when
// path is empty or unreadable.
func versionOf(path string) fileVersion {
	if path == "" {
		return fileVersion{}
	}
	_, ver, err := readChanged(path, fileVersion{})
	if err != nil {
		return fileVersion{}
	}
	return ver
}
