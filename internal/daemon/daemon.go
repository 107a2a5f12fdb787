// Package daemon wires a long-running buildmesh node: the hub, its local
// builder, note sinks, mesh listeners and peers, scheduled builds, config
// reloads and the monitoring endpoint.
package daemon

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildmesh/internal/build"
	"git.home.luguber.info/inful/buildmesh/internal/config"
	"git.home.luguber.info/inful/buildmesh/internal/emitter"
	"git.home.luguber.info/inful/buildmesh/internal/filebuilder"
	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/hub"
	"git.home.luguber.info/inful/buildmesh/internal/ident"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/metrics"
	"git.home.luguber.info/inful/buildmesh/internal/notify"
	"git.home.luguber.info/inful/buildmesh/internal/results"
)

const (
	// PeerRetryInterval is how often configured peers that are not
	// connected are dialed again.
	PeerRetryInterval = 30 * time.Second
	peerDialTimeout   = 10 * time.Second
)

// Daemon owns every long-running component of a node.
type Daemon struct {
	configPath string
	logger     *slog.Logger
	registry   *prom.Registry
	recorder   metrics.Recorder
	runner     build.Runner
	clock      clockwork.Clock

	mu        sync.Mutex
	cfg       *config.Config
	running   bool
	started   time.Time
	gen       *ident.Generator
	ledger    emitter.Ledger
	hub       *hub.Hub
	local     *filebuilder.Builder
	nats      *notify.NATSObserver
	results   *results.Server
	scheduler *Scheduler
	watcher   *ConfigWatcher
	http      *HTTPServer
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Daemon) { d.logger = l } }

// WithRegistry sets the Prometheus registry metrics are registered on.
func WithRegistry(reg *prom.Registry) Option { return func(d *Daemon) { d.registry = reg } }

// WithRunner replaces the build script runner of the local builder.
func WithRunner(r build.Runner) Option { return func(d *Daemon) { d.runner = r } }

// WithClock sets the clock used by the note ledger.
func WithClock(c clockwork.Clock) Option { return func(d *Daemon) { d.clock = c } }

// New returns a stopped daemon for cfg. configPath is watched for changes
// once started; pass "" to disable reloading.
func New(cfg *config.Config, configPath string, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     slog.Default(),
		runner:     build.ExecRunner{},
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = metrics.NewRegistry()
	}
	d.recorder = metrics.NewPrometheusRecorder(d.registry)
	return d, nil
}

// Start brings every configured component up. Listener failures are fatal;
// peers that cannot be reached are retried in the background.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ferrors.RuntimeError("daemon already running").Build()
	}
	cfg := d.cfg

	d.gen = ident.NewGenerator()
	d.ledger = d.newLedger(cfg.Hub.NoteTTL.Std())
	d.hub = hub.New(
		hub.WithName(cfg.Hub.Name),
		hub.WithGenerator(d.gen),
		hub.WithEmitter(emitter.New(emitter.WithLedger(d.ledger), emitter.WithRecorder(d.recorder))),
		hub.WithRecorder(d.recorder),
		hub.WithLogger(d.logger),
	)

	if cfg.Builder.Enabled {
		d.local = filebuilder.New(cfg.Builder.Root,
			filebuilder.WithName(cfg.Builder.Name),
			filebuilder.WithGenerator(d.gen),
			filebuilder.WithRunner(d.runner),
			filebuilder.WithRecorder(d.recorder),
			filebuilder.WithLogger(d.logger),
		)
		d.hub.AddBuilder(d.local)
		d.local.AddObserver(d.hub)
	}
	d.hub.AddObserver(notify.NewLogObserver(d.logger))

	if err := d.startComponents(ctx, cfg); err != nil {
		d.teardown(context.WithoutCancel(ctx))
		return err
	}

	d.running = true
	d.started = time.Now()
	d.logger.Info("Daemon started",
		slog.String("hub", d.hub.Name()),
		slog.String("uid", d.hub.UID()),
		slog.Int("listeners", len(cfg.Hub.Listen)),
		slog.Int("peers", len(cfg.Hub.Peers)))

	go d.connectPeers(context.WithoutCancel(ctx), cfg.Hub.Peers)
	return nil
}

func (d *Daemon) startComponents(ctx context.Context, cfg *config.Config) error {
	if n := cfg.Notify.NATS; n.Enabled {
		obs, err := notify.DialNATS(ctx, notify.NATSConfig{
			URL:          n.URL,
			Subject:      n.Subject,
			Stream:       n.Stream,
			StatusBucket: n.StatusBucket,
		}, d.logger)
		if err != nil {
			return err
		}
		d.nats = obs
		d.hub.AddObserver(obs)
	}

	for _, desc := range cfg.Hub.Listen {
		if err := d.hub.StartServer(desc); err != nil {
			return err
		}
		d.logger.Info("Listening for peers", logfields.Endpoint(desc))
	}

	if cfg.Results.Listen != "" {
		d.results = results.NewServer(results.WithServerLogger(d.logger), results.WithForward(d.hub))
		if err := d.results.Listen(cfg.Results.Listen); err != nil {
			d.results = nil
			return err
		}
	}

	sched, err := NewScheduler(d.hub, d.logger)
	if err != nil {
		return err
	}
	d.scheduler = sched
	if err := sched.Apply(cfg.Schedules); err != nil {
		return err
	}
	if err := sched.Every("peer-reconnect", PeerRetryInterval, d.reconnectPeers); err != nil {
		return err
	}
	sched.Start()

	if d.configPath != "" {
		w, err := NewConfigWatcher(d.configPath, d.Reload, d.logger)
		if err != nil {
			return err
		}
		if err := w.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		d.watcher = w
	}

	if cfg.Monitoring.HTTP.Addr != "" {
		srv := NewHTTPServer(cfg.Monitoring.HTTP, d.registry, d.Status, d.logger)
		if err := srv.Start(); err != nil {
			return err
		}
		d.http = srv
	}
	return nil
}

func (d *Daemon) newLedger(ttl time.Duration) emitter.Ledger {
	if ttl <= 0 {
		return emitter.NewSetLedger()
	}
	return emitter.NewNoteTaker(ttl, d.clock)
}

// Stop shuts every component down and waits for local builds in flight,
// or until ctx is done.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("Stopping daemon")
	err := d.teardown(ctx)
	if err == nil {
		d.logger.Info("Daemon stopped")
	}
	return err
}

func (d *Daemon) teardown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.watcher != nil {
		keep(d.watcher.Stop())
	}
	if d.scheduler != nil {
		keep(d.scheduler.Stop())
	}
	if d.http != nil {
		keep(d.http.Stop(ctx))
	}
	if d.results != nil {
		keep(d.results.Close(ctx))
	}
	if d.hub != nil {
		keep(d.hub.Close(ctx))
	}
	if d.local != nil {
		done := make(chan struct{})
		go func() {
			d.local.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			keep(ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "local builds still running").Build())
		}
	}
	if d.nats != nil {
		keep(d.nats.Close())
	}
	if nt, ok := d.ledger.(*emitter.NoteTaker); ok {
		nt.Stop()
	}
	return firstErr
}

// Hub returns the node's hub, or nil before Start.
func (d *Daemon) Hub() *hub.Hub {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hub
}

// Config returns the configuration currently applied.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Reload applies cfg to a running daemon: listeners and peers are added or
// removed to match, and schedules are replaced. Other settings take effect
// on restart.
func (d *Daemon) Reload(ctx context.Context, cfg *config.Config) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ferrors.RuntimeError("daemon not running").Build()
	}
	old := d.cfg
	d.cfg = cfg
	h, sched := d.hub, d.scheduler
	d.mu.Unlock()

	if old.Hub.Name != cfg.Hub.Name || old.Builder != cfg.Builder || old.Hub.NoteTTL != cfg.Hub.NoteTTL {
		d.logger.Warn("Hub identity, builder or note_ttl changes require a restart")
	}

	var firstErr error
	for _, desc := range removed(old.Hub.Listen, cfg.Hub.Listen) {
		if err := h.StopServer(desc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, desc := range removed(cfg.Hub.Listen, old.Hub.Listen) {
		if err := h.StartServer(desc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, desc := range removed(old.Hub.Peers, cfg.Hub.Peers) {
		// A peer lost earlier has no connection left to close.
		if err := h.Disconnect(desc); err != nil {
			d.logger.Debug("Peer already disconnected", logfields.Endpoint(desc), logfields.Error(err))
		}
	}
	if err := sched.Apply(cfg.Schedules); err != nil && firstErr == nil {
		firstErr = err
	}

	go d.connectPeers(context.WithoutCancel(ctx), removed(cfg.Hub.Peers, old.Hub.Peers))

	d.logger.Info("Configuration applied",
		slog.Int("listeners", len(cfg.Hub.Listen)),
		slog.Int("peers", len(cfg.Hub.Peers)),
		slog.Int("schedules", len(cfg.Schedules)))
	return firstErr
}

// reconnectPeers dials every configured peer without an open connection.
func (d *Daemon) reconnectPeers() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	peers, h := d.cfg.Hub.Peers, d.hub
	d.mu.Unlock()

	connected := h.Connections()
	var missing []string
	for _, desc := range peers {
		if !slices.Contains(connected, desc) {
			missing = append(missing, desc)
		}
	}
	d.connectPeers(context.Background(), missing)
}

func (d *Daemon) connectPeers(ctx context.Context, peers []string) {
	d.mu.Lock()
	h := d.hub
	d.mu.Unlock()
	if h == nil {
		return
	}

	for _, desc := range peers {
		dialCtx, cancel := context.WithTimeout(ctx, peerDialTimeout)
		remote, err := h.Connect(dialCtx, desc)
		cancel()
		if err != nil {
			d.logger.Warn("Failed to join peer", logfields.Endpoint(desc), logfields.Error(err))
			continue
		}
		d.logger.Debug("Peer connected", logfields.Endpoint(desc), logfields.Peer(remote.String()))
	}
}

// removed returns the entries of from that are missing in to.
func removed(from, to []string) []string {
	var out []string
	for _, s := range from {
		if !slices.Contains(to, s) {
			out = append(out, s)
		}
	}
	return out
}
