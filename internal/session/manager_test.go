package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/roster"
	"github.com/RyderBlack/Ekho/internal/session"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestManager_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := session.NewManager()

	s := m.Create(ctx)
	if s.ID == "" {
		t.Fatal("Create returned an empty id")
	}
	got, ok := m.Get(ctx, s.ID)
	if !ok || got != s {
		t.Fatalf("Get(%q) = %p, %v", s.ID, got, ok)
	}
	if _, ok := m.Get(ctx, "unknown"); ok {
		t.Error("Get(unknown) reported a session")
	}
	if _, ok := m.Get(ctx, ""); ok {
		t.Error("Get(\"\") reported a session")
	}
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := session.NewManager()

	a, b := m.Create(ctx), m.Create(ctx)
	if a.ID == b.ID {
		t.Fatal("two sessions share an id")
	}
	a.ReplaceRoster(roster.New(roster.Entry{FirstName: "Jean", LastName: "Dupont"}))
	if b.Roster() != nil {
		t.Error("roster leaked into another session")
	}
}

func TestManager_Transient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	def := roster.New(roster.Entry{FirstName: "Jean", LastName: "Dupont"})
	m := session.NewManager(session.WithDefaultRoster(def))

	s := m.Transient()
	if s.ID != "" {
		t.Errorf("transient session has id %q", s.ID)
	}
	if s.Roster() != def {
		t.Error("transient session does not see the default roster")
	}
	s.ReplaceRoster(roster.New(roster.Entry{FirstName: "Marie", LastName: "Curie"}))
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Transient, want 0", m.Len())
	}
	if _, ok := m.Get(ctx, s.ID); ok {
		t.Error("transient session is retrievable")
	}
}

func TestManager_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	m := session.NewManager(session.WithTTL(time.Hour), session.WithClock(clock.Now))

	idle := m.Create(ctx)
	active := m.Create(ctx)

	clock.Advance(40 * time.Minute)
	if _, ok := m.Get(ctx, active.ID); !ok {
		t.Fatal("active session expired early")
	}
	clock.Advance(30 * time.Minute)

	if n := m.Sweep(ctx); n != 1 {
		t.Errorf("Sweep removed %d sessions, want 1", n)
	}
	if _, ok := m.Get(ctx, idle.ID); ok {
		t.Error("idle session survived its TTL")
	}
	if _, ok := m.Get(ctx, active.ID); !ok {
		t.Error("recently used session was swept")
	}
}

func TestManager_GetRemovesExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	m := session.NewManager(session.WithTTL(time.Minute), session.WithClock(clock.Now))

	s := m.Create(ctx)
	clock.Advance(2 * time.Minute)
	if _, ok := m.Get(ctx, s.ID); ok {
		t.Fatal("Get returned an expired session")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := session.NewManager()
	s := m.Create(ctx)
	m.Delete(ctx, s.ID)
	m.Delete(ctx, "unknown")
	if _, ok := m.Get(ctx, s.ID); ok {
		t.Error("deleted session still reachable")
	}
}

func TestManager_DefaultRoster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	first := roster.New(roster.Entry{FirstName: "Jean", LastName: "Dupont"})
	m := session.NewManager(session.WithDefaultRoster(first))

	old := m.Create(ctx)
	if old.Roster() != first {
		t.Fatal("new session did not receive the default roster")
	}

	second := roster.New(roster.Entry{FirstName: "Marie", LastName: "Curie"})
	m.SetDefaultRoster(second)
	if got := m.Create(ctx).Roster(); got != second {
		t.Error("session created after SetDefaultRoster got the old roster")
	}
	if old.Roster() != first {
		t.Error("SetDefaultRoster changed an existing session")
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	m := session.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_ActiveSessionsMetric(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	m := session.NewManager(session.WithMetrics(met))
	a := m.Create(ctx)
	m.Create(ctx)
	m.Delete(ctx, a.ID)
	m.Delete(ctx, a.ID)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			if mt.Name != "ekho.active_sessions" {
				continue
			}
			sum := mt.Data.(metricdata.Sum[int64])
			if got := sum.DataPoints[0].Value; got != 1 {
				t.Errorf("active sessions = %d, want 1", got)
			}
			return
		}
	}
	t.Fatal("ekho.active_sessions not reported")
}
