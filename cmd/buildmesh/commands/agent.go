package commands

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/buildmesh/internal/results"
)

// AgentCmd implements the 'agent' command.
type AgentCmd struct {
	Server  string `help:"Results server client endpoint description" default:"tcp:host=localhost:port=8123"`
	Scripts string `help:"Directory holding one build script per project" default:"./scripts" type:"path"`
	Name    string `help:"Name reported to the server (default: hostname)"`
}

func (a *AgentCmd) Run(g *Global) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts := []results.AgentOption{results.WithAgentLogger(g.Logger)}
	if a.Name != "" {
		opts = append(opts, results.WithAgentName(a.Name))
	}
	agent := results.NewAgent(a.Server, a.Scripts, opts...)

	err := agent.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
