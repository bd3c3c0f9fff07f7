package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RyderBlack/Ekho/internal/config"
)

const pollEvery = 20 * time.Millisecond

// changes records watcher callbacks.
type changes struct {
	mu      sync.Mutex
	configs [][2]*config.Config
	rosters []string
}

func (c *changes) onConfig(old, new *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, [2]*config.Config{old, new})
}

func (c *changes) onRoster(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rosters = append(c.rosters, path)
}

func (c *changes) counts() (configs, rosters int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.configs), len(c.rosters)
}

// rewrite replaces the file content and moves its mtime forward so the
// change is visible even on coarse-grained filesystems.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(pollEvery)
	}
}

// watch starts a watcher over a config naming roster.csv in a temp dir.
func watch(t *testing.T, ctx context.Context, rec *changes) (w *config.Watcher, cfgPath, rosterPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "ekho.yaml")
	rosterPath = filepath.Join(dir, "roster.csv")
	rewrite(t, rosterPath, "first,last\nJean,Dupont\n")
	rewrite(t, cfgPath, "server:\n  log_level: info\nroster:\n  file: "+rosterPath+"\n")

	w, err := config.NewWatcher(ctx, cfgPath, rec.onConfig,
		config.WithInterval(pollEvery), config.OnRosterChange(rec.onRoster))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, cfgPath, rosterPath
}

func TestWatcher_LoadsInitialConfig(t *testing.T) {
	t.Parallel()
	w, _, rosterPath := watch(t, context.Background(), &changes{})

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.Roster.File != rosterPath {
		t.Errorf("Current() = %+v / %+v", cfg.Server, cfg.Roster)
	}
	if cfg.Transcription.Provider.Name != config.DefaultProvider {
		t.Errorf("defaults not applied: provider %q", cfg.Transcription.Provider.Name)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestWatcher_ConfigEdit(t *testing.T) {
	t.Parallel()
	rec := &changes{}
	w, cfgPath, rosterPath := watch(t, context.Background(), rec)

	rewrite(t, cfgPath, "server:\n  log_level: debug\nroster:\n  file: "+rosterPath+"\n  suggestions:\n    enabled: true\n")
	waitUntil(t, "config callback", func() bool { n, _ := rec.counts(); return n == 1 })

	rec.mu.Lock()
	old, cur := rec.configs[0][0], rec.configs[0][1]
	rec.mu.Unlock()
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if !w.Current().Roster.Suggestions.Enabled {
		t.Error("Current() does not reflect the edit")
	}
}

func TestWatcher_InvalidEditKeepsCurrent(t *testing.T) {
	t.Parallel()
	rec := &changes{}
	w, cfgPath, _ := watch(t, context.Background(), rec)

	rewrite(t, cfgPath, "server:\n  log_level: loud\n")
	time.Sleep(10 * pollEvery)

	if n, _ := rec.counts(); n != 0 {
		t.Errorf("config callback fired %d times for an invalid file", n)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log level = %q, want info", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchIsNotAChange(t *testing.T) {
	t.Parallel()
	rec := &changes{}
	_, cfgPath, rosterPath := watch(t, context.Background(), rec)

	later := time.Now().Add(2 * time.Hour)
	for _, p := range []string{cfgPath, rosterPath} {
		if err := os.Chtimes(p, later, later); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(10 * pollEvery)

	if c, r := rec.counts(); c != 0 || r != 0 {
		t.Errorf("callbacks fired for touch only: config %d, roster %d", c, r)
	}
}

func TestWatcher_RosterEditInPlace(t *testing.T) {
	t.Parallel()
	rec := &changes{}
	_, _, rosterPath := watch(t, context.Background(), rec)

	rewrite(t, rosterPath, "first,last\nMarie,Curie\n")
	waitUntil(t, "roster callback", func() bool { _, n := rec.counts(); return n == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.rosters[0] != rosterPath {
		t.Errorf("roster callback path = %q, want %q", rec.rosters[0], rosterPath)
	}
	if len(rec.configs) != 0 {
		t.Errorf("config callback fired %d times for a roster edit", len(rec.configs))
	}
}

func TestWatcher_RosterPathSwitch(t *testing.T) {
	t.Parallel()
	rec := &changes{}
	w, cfgPath, rosterPath := watch(t, context.Background(), rec)

	next := filepath.Join(filepath.Dir(rosterPath), "next.csv")
	rewrite(t, next, "first,last\nAda,Lovelace\n")
	rewrite(t, cfgPath, "roster:\n  file: "+next+"\n")
	waitUntil(t, "config callback", func() bool { n, _ := rec.counts(); return n == 1 })
	time.Sleep(5 * pollEvery)

	// The config callback owns loading the new path; the old file is no
	// longer watched.
	rewrite(t, rosterPath, "first,last\nNobody,Here\n")
	time.Sleep(5 * pollEvery)
	if _, n := rec.counts(); n != 0 {
		t.Errorf("roster callback fired %d times", n)
	}
	if w.Current().Roster.File != next {
		t.Errorf("roster file = %q", w.Current().Roster.File)
	}

	rewrite(t, next, "first,last\nGrace,Hopper\n")
	waitUntil(t, "roster callback", func() bool { _, n := rec.counts(); return n == 1 })
}

func TestWatcher_StopAndCancel(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		halt func(w *config.Watcher, cancel context.CancelFunc)
	}{
		{"stop", func(w *config.Watcher, _ context.CancelFunc) { w.Stop(); w.Stop() }},
		{"cancel", func(_ *config.Watcher, cancel context.CancelFunc) { cancel() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			rec := &changes{}
			w, cfgPath, rosterPath := watch(t, ctx, rec)

			tc.halt(w, cancel)
			time.Sleep(5 * pollEvery)
			rewrite(t, cfgPath, "server:\n  log_level: warn\n")
			rewrite(t, rosterPath, "first,last\nMarie,Curie\n")
			time.Sleep(10 * pollEvery)

			if c, r := rec.counts(); c != 0 || r != 0 {
				t.Errorf("callbacks after halt: config %d, roster %d", c, r)
			}
		})
	}
}
