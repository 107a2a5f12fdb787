package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"git.home.luguber.info/inful/buildmesh/internal/config"
	"git.home.luguber.info/inful/buildmesh/internal/daemon"
)

// HubCmd implements the 'hub' command.
type HubCmd struct {
	NoWatch bool          `help:"Do not reload the configuration file when it changes"`
	Grace   time.Duration `help:"How long to wait for running builds on shutdown" default:"30s"`
}

func (h *HubCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if !root.Verbose {
		g.Logger = newLogger(os.Stderr, cfg.Monitoring.Logging.Level.Slog(), cfg.Monitoring.Logging.Format)
		slog.SetDefault(g.Logger)
	}

	watchPath := root.Config
	if h.NoWatch {
		watchPath = ""
	}
	return RunHub(cfg, watchPath, h.Grace, g.Logger)
}

// RunHub runs a daemon for cfg until SIGINT or SIGTERM.
func RunHub(cfg *config.Config, configPath string, grace time.Duration, logger *slog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := daemon.New(cfg, configPath, daemon.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping hub")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
	defer stopCancel()
	return d.Stop(stopCtx)
}
