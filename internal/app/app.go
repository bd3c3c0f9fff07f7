// Package app wires all Ekho subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run serves HTTP until the context ends, and Shutdown releases
// external connections in order.
//
// For testing, inject doubles via functional options (WithTranscriber,
// WithEvents, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/RyderBlack/Ekho/internal/config"
	"github.com/RyderBlack/Ekho/internal/events"
	"github.com/RyderBlack/Ekho/internal/google"
	"github.com/RyderBlack/Ekho/internal/health"
	"github.com/RyderBlack/Ekho/internal/identify"
	"github.com/RyderBlack/Ekho/internal/identify/phonetic"
	"github.com/RyderBlack/Ekho/internal/observe"
	"github.com/RyderBlack/Ekho/internal/resilience"
	"github.com/RyderBlack/Ekho/internal/roster"
	"github.com/RyderBlack/Ekho/internal/server"
	"github.com/RyderBlack/Ekho/internal/session"
	"github.com/RyderBlack/Ekho/pkg/provider/stt"
)

const (
	readHeaderTimeout = 10 * time.Second
	httpDrainTimeout  = 10 * time.Second
)

// App owns all subsystem lifetimes of the Ekho server.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Subsystems, initialised in New.
	transcriber    stt.Transcriber
	suggester      *suggester
	identifier     *identify.Identifier
	sessions       *session.Manager
	oauth          *google.OAuth
	events         events.Publisher
	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
	server         *server.Server
	httpSrv        *http.Server
	listener       net.Listener

	// Hot reload.
	configPath    string
	watchInterval time.Duration
	logLevel      *slog.LevelVar
	reloadMu      sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects a transcriber instead of building the configured
// backend chain from the registry.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithEvents injects an identification event publisher instead of connecting
// to NATS.
func WithEvents(p events.Publisher) Option {
	return func(a *App) { a.events = p }
}

// WithMetrics replaces observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener makes Run serve on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLogLevel lets config reloads change the level of the running logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigWatch makes Run poll path and apply hot-reloadable changes.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg resolves the
// transcription providers named in cfg; it may be nil when WithTranscriber is
// given.
//
// Optional integrations (Google, NATS) degrade instead of failing: a broken
// Google client disables the Google routes and an unreachable NATS server
// disables event publishing. Both are reported by /readyz.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		reg: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcription chain ───────────────────────────────────────────
	if err := a.initTranscription(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	// ── 2. Default roster ────────────────────────────────────────────────
	defaultRoster, err := a.loadRosterFile(ctx, cfg.Roster.File)
	if err != nil {
		return nil, fmt.Errorf("app: load roster: %w", err)
	}

	// ── 3. Identification ────────────────────────────────────────────────
	a.suggester = &suggester{}
	a.suggester.apply(cfg.Roster.Suggestions)
	a.identifier = identify.New(identify.WithSuggester(a.suggester))

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = session.NewManager(
		session.WithTTL(cfg.Session.TTL),
		session.WithMetrics(a.metrics),
		session.WithDefaultRoster(defaultRoster),
	)

	// ── 5. Google ────────────────────────────────────────────────────────
	a.initGoogle()

	// ── 6. Events ────────────────────────────────────────────────────────
	a.initEvents()

	// ── 7. Health ────────────────────────────────────────────────────────
	a.initHealth()

	// ── 8. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTranscription builds the primary backend and its fallbacks, each behind
// a circuit breaker whose transitions are logged and counted.
func (a *App) initTranscription(ctx context.Context) error {
	if a.transcriber != nil {
		return nil
	}
	if a.reg == nil {
		return errors.New("no provider registry and no injected transcriber")
	}

	tc := a.cfg.Transcription
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  tc.CircuitBreaker.MaxFailures,
			ResetTimeout: tc.CircuitBreaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("transcription circuit breaker changed state",
					"provider", name, "from", from.String(), "to", to.String())
				a.metrics.RecordBreakerTransition(context.WithoutCancel(ctx), name, to.String())
			},
		},
	}

	primary, err := a.reg.CreateTranscriber(tc.Provider)
	if err != nil {
		return fmt.Errorf("create provider %q: %w", tc.Provider.Name, err)
	}
	chain := resilience.NewTranscriber(primary, fbCfg)
	slog.Info("provider created", "kind", "stt", "name", tc.Provider.Name, "role", "primary")

	for _, entry := range tc.Fallbacks {
		fb, err := a.reg.CreateTranscriber(entry)
		if err != nil {
			return fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
		}
		chain.AddFallback(fb)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
	}

	a.transcriber = chain
	return nil
}

// loadRosterFile reads the shared roster. An empty path means no default
// roster.
func (a *App) loadRosterFile(ctx context.Context, path string) (*roster.Roster, error) {
	if path == "" {
		return nil, nil
	}
	r, err := roster.LoadFile(path)
	a.metrics.RecordRosterLoad(ctx, "file", err)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	slog.Info("default roster loaded", "path", path, "entries", r.Len())
	return r, nil
}

func (a *App) initGoogle() {
	oa, err := google.NewOAuth(a.cfg.Google)
	switch {
	case errors.Is(err, google.ErrNotConfigured):
		slog.Info("google sign-in disabled", "reason", "no oauth client configured")
	case err != nil:
		slog.Error("google sign-in disabled", "err", err)
	default:
		a.oauth = oa
		slog.Info("google sign-in enabled", "scopes", len(oa.Scopes()))
	}
}

func (a *App) initEvents() {
	if a.events != nil {
		a.closers = append(a.closers, closeFunc(a.events.Close))
		return
	}
	pub, err := events.New(a.cfg.Events)
	if err != nil {
		slog.Warn("identification events disabled", "err", err)
		pub = events.Nop{}
	}
	a.events = pub
	a.closers = append(a.closers, closeFunc(pub.Close))
}

func (a *App) initHealth() {
	var checkers []health.Checker
	if av, ok := a.transcriber.(health.Availability); ok {
		checkers = append(checkers, health.AvailabilityChecker("transcription", av))
	}
	if a.cfg.Google.Enabled() {
		checkers = append(checkers, health.ConfiguredChecker("google", a.oauth != nil, "oauth client failed to load"))
	}
	if a.cfg.Events.NATSURL != "" {
		if av, ok := a.events.(health.Availability); ok {
			checkers = append(checkers, health.AvailabilityChecker("events", av))
		} else {
			checkers = append(checkers, health.ConfiguredChecker("events", false, "not connected"))
		}
	}
	a.health = health.New(checkers...)
}

func (a *App) initServer() error {
	task, err := stt.ParseTask(a.cfg.Transcription.Task, stt.TaskTranscribe)
	if err != nil {
		return err
	}

	scfg := server.Config{
		Transcriber:    a.transcriber,
		Sessions:       a.sessions,
		Identifier:     a.identifier,
		Events:         a.events,
		Metrics:        a.metrics,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		DefaultTask:    task,
		Language:       a.cfg.Transcription.Language,
		Prompt:         a.cfg.Transcription.Prompt,
		TempDir:        a.cfg.Server.TempDir,
		MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
		CookieName:     a.cfg.Session.CookieName,
		SecureCookie:   a.cfg.Session.SecureCookie,
		SessionTTL:     a.cfg.Session.TTL,
		StaticDir:      a.cfg.Server.StaticDir,
	}
	if a.oauth != nil {
		oa := a.oauth
		scfg.Auth = oa
		scfg.Workspace = func(ctx context.Context, tok *oauth2.Token) (google.Workspace, error) {
			return oa.Workspace(ctx, tok)
		}
	}

	srv, err := server.New(scfg)
	if err != nil {
		return err
	}
	a.server = srv
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, sweeps expired sessions and, when configured, watches the
// config and roster files. It blocks until ctx is cancelled, Shutdown is
// called or the listener fails, then drains in-flight requests. It returns
// nil after Shutdown and ctx.Err() after cancellation.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.httpSrv.Addr, err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String())

	if a.configPath != "" {
		w, err := config.NewWatcher(ctx, a.configPath, a.applyConfig,
			config.WithInterval(a.watchInterval), config.OnRosterChange(a.reloadRoster))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// Serve also returns when Shutdown is called directly; serving stops
	// then ends the sweeper and drain loops too.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stopRun()
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.sessions.Run(gctx, a.cfg.Session.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpDrainTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain incomplete", "err", err)
		}
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// applyConfig is the config watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.RosterFileChanged {
		a.reloadRoster(d.NewRosterFile)
	}

	if d.SuggestionsChanged {
		a.suggester.apply(d.NewSuggestions)
		slog.Info("name suggestions reconfigured",
			"enabled", d.NewSuggestions.Enabled, "threshold", d.NewSuggestions.Threshold)
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// reloadRoster swaps the roster given to new sessions, after roster.file
// points elsewhere or its content was edited. Existing sessions keep theirs.
// A roster that fails to load leaves the previous one in place.
func (a *App) reloadRoster(path string) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	ctx := context.Background()
	if path == "" {
		a.sessions.SetDefaultRoster(nil)
		slog.Info("default roster cleared")
		return
	}
	r, err := a.loadRosterFile(ctx, path)
	if err != nil {
		slog.Error("default roster reload failed, keeping previous", "path", path, "err", err)
		return
	}
	a.sessions.SetDefaultRoster(r)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and runs the closers in order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Transcriber returns the transcription chain.
func (a *App) Transcriber() stt.Transcriber { return a.transcriber }

// GoogleEnabled reports whether the Google routes are live.
func (a *App) GoogleEnabled() bool { return a.oauth != nil }

// ─── Helpers ─────────────────────────────────────────────────────────────────

// suggester hands out "did you mean" suggestions while enabled. The matcher
// is swapped atomically on config reload.
type suggester struct {
	m atomic.Pointer[phonetic.Matcher]
}

var _ identify.Suggester = (*suggester)(nil)

func (s *suggester) apply(cfg config.SuggestionsConfig) {
	if !cfg.Enabled {
		s.m.Store(nil)
		return
	}
	var opts []phonetic.Option
	if cfg.Threshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(cfg.Threshold))
	}
	s.m.Store(phonetic.New(opts...))
}

func (s *suggester) Suggest(spokenName string, r *roster.Roster) (roster.Entry, float64, bool) {
	m := s.m.Load()
	if m == nil {
		return roster.Entry{}, 0, false
	}
	return m.Suggest(spokenName, r)
}

// SlogLevel converts a config.LogLevel to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func closeFunc(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}
