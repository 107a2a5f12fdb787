// Package commands implements the buildmesh command line.
package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"git.home.luguber.info/inful/buildmesh/internal/config"
)

// Global carries state shared by every subcommand.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"buildmesh.yaml" type:"path"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Hub           HubCmd           `cmd:"" help:"Run a mesh node from the configuration file"`
	Init          InitCmd          `cmd:"" help:"Write an example configuration file"`
	Build         BuildCmd         `cmd:"" help:"Run the local build scripts for a project once"`
	ResultsServer ResultsServerCmd `cmd:"" name:"results-server" help:"Run a standalone results server"`
	Agent         AgentCmd         `cmd:"" help:"Run a build agent attached to a results server"`
	Suggest       SuggestCmd       `cmd:"" help:"Suggest builds to a results server"`
	Version       VersionCmd       `cmd:"" help:"Print version information"`
}

// AfterApply runs after flag parsing; it installs the default logger.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	g.Logger = newLogger(os.Stderr, level, config.LogFormatText)
	slog.SetDefault(g.Logger)
	return nil
}

func newLogger(w io.Writer, level slog.Level, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// statusError ends the process with a specific exit status and no message.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return "exit status " + strconv.Itoa(e.code) }

// ExitStatus reports the exit status carried by err, if any.
func ExitStatus(err error) (int, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.code, true
	}
	return 0, false
}
