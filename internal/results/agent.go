package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildmesh/internal/build"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/retry"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
	"git.home.luguber.info/inful/buildmesh/internal/wire"
)

// MissingScript is the return code reported when no script exists for a
// suggested project.
const MissingScript = -1

// Agent keeps a connection to a results server and builds what it suggests.
type Agent struct {
	server  string
	scripts string
	name    string
	specs   string
	runner  build.Runner
	policy  retry.Policy
	clock   clockwork.Clock
	logger  *slog.Logger
	mux     *rpc.Mux

	wg        sync.WaitGroup
	connected chan struct{}
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithAgentName sets the name the agent identifies with; the host name by default.
func WithAgentName(name string) AgentOption { return func(a *Agent) { a.name = name } }

// WithAgentRunner replaces the script runner.
func WithAgentRunner(r build.Runner) AgentOption { return func(a *Agent) { a.runner = r } }

// WithReconnectPolicy replaces retry.ReconnectPolicy.
func WithReconnectPolicy(p retry.Policy) AgentOption { return func(a *Agent) { a.policy = p } }

// WithClock sets the clock reconnect delays are measured on.
func WithClock(c clockwork.Clock) AgentOption { return func(a *Agent) { a.clock = c } }

// WithAgentLogger sets the logger.
func WithAgentLogger(l *slog.Logger) AgentOption { return func(a *Agent) { a.logger = l } }

// NewAgent returns an agent that will connect to the client endpoint
// server and run scripts from the scripts directory.
func NewAgent(server, scripts string, opts ...AgentOption) *Agent {
	a := &Agent{
		server:    server,
		scripts:   scripts,
		runner:    build.ExecRunner{},
		policy:    retry.ReconnectPolicy(),
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		specs:     Specs(),
		connected: make(chan struct{}, 1),
	}
	if host, err := os.Hostname(); err == nil {
		a.name = host
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logfields.Builder(a.name), logfields.Endpoint(server))
	a.mux = rpc.NewMux()
	a.mux.Handle(wire.MethodSuggestBuild, rpc.Typed(a.acceptSuggestion))
	a.mux.Handle(wire.MethodSendStatus, rpc.Typed(a.receiveStatus))
	return a
}

// Name returns the name the agent identifies with.
func (a *Agent) Name() string { return a.name }

// Connected receives a value each time the agent has identified itself.
func (a *Agent) Connected() <-chan struct{} { return a.connected }

// Run connects and reconnects until ctx ends. It returns ctx's error.
func (a *Agent) Run(ctx context.Context) error {
	backoff := retry.NewBackoff(a.policy)
	for {
		conn, err := a.connect(ctx)
		if err == nil {
			backoff.Reset()
			select {
			case <-conn.Closed():
				err = rpc.ErrConnectionLost
				a.logger.Warn("Connection to results server lost")
			case <-ctx.Done():
				_ = conn.Close()
				a.wg.Wait()
				return ctx.Err()
			}
		} else if ctx.Err() == nil {
			a.logger.Warn("Connecting to results server failed", logfields.Error(err))
		}

		delay, ok := backoff.Next()
		if !ok {
			return fmt.Errorf("giving up after %d attempts: %w", backoff.Attempt(), err)
		}
		a.logger.Info("Reconnecting", logfields.Duration(delay))
		select {
		case <-a.clock.After(delay):
		case <-ctx.Done():
			a.wg.Wait()
			return ctx.Err()
		}
	}
}

// Wait blocks until every suggested build has reported its result.
func (a *Agent) Wait() { a.wg.Wait() }

func (a *Agent) connect(ctx context.Context) (*rpc.Conn, error) {
	conn, err := rpc.Dial(ctx, a.server, a.mux, a.logger)
	if err != nil {
		return nil, err
	}
	if err := conn.Call(ctx, wire.MethodIdentify, wire.IdentifyArgs{Kind: wire.KindBuilder, Name: a.name}, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.logger.Info("Connected to results server")

	select {
	case a.connected <- struct{}{}:
	default:
	}
	return conn, nil
}

func (a *Agent) acceptSuggestion(_ context.Context, conn *rpc.Conn, args wire.SuggestBuildArgs) (any, error) {
	a.logger.Info("Build suggested", logfields.Project(args.ProjectName), logfields.Version(args.Revision))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		code := a.BuildProject(args.ProjectName, args.Revision)
		result := wire.SendResultArgs{
			ProjectName: args.ProjectName,
			Revision:    args.Revision,
			Specs:       a.specs,
			ReturnCode:  code,
		}
		if err := conn.Call(context.Background(), wire.MethodSendResult, result, nil); err != nil {
			a.logger.Warn("Reporting result failed", logfields.Project(args.ProjectName), logfields.Error(err))
		}
	}()
	return nil, nil
}

func (a *Agent) receiveStatus(_ context.Context, _ *rpc.Conn, args wire.SendStatusArgs) (any, error) {
	a.logger.Info("Peer build status",
		slog.String("peer_builder", args.BuilderName), logfields.Project(args.ProjectName),
		logfields.Version(args.Revision), logfields.Status(args.ReturnCode))
	return nil, nil
}

// BuildProject runs the script for project with revision and returns its
// exit code, or MissingScript if there is no such script.
func (a *Agent) BuildProject(project, revision string) int {
	log := a.logger.With(logfields.Project(project), logfields.Version(revision))
	script, ok := a.scriptPath(project)
	if !ok {
		log.Warn("Build script does not exist")
		return MissingScript
	}
	if _, err := os.Stat(script); errors.Is(err, os.ErrNotExist) {
		log.Warn("Build script does not exist", slog.String("path", script))
		return MissingScript
	}

	code, out := a.runner.Run(script, revision)
	if code != 0 {
		log.Error("Build failed", logfields.Status(code), slog.String("output", string(out)))
	} else {
		log.Info("Build succeeded")
	}
	return code
}

func (a *Agent) scriptPath(project string) (string, bool) {
	if project == "" || project != filepath.Base(project) || strings.HasPrefix(project, ".") {
		return "", false
	}
	return filepath.Join(a.scripts, project), true
}

// Specs describes the machine and runtime the agent builds on.
func Specs() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s %s %s %d\n%s", host, runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
}
