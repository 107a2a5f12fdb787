package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildmesh/cmd/buildmesh/commands"
	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{}
	parser := kong.Parse(cli,
		kong.Name("buildmesh"),
		kong.Description("Peer-to-peer build orchestration mesh"),
		kong.UsageOnError(),
		kong.Bind(global),
	)

	err := parser.Run(global, cli)
	if code, ok := commands.ExitStatus(err); ok {
		os.Exit(code)
	}
	ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
}
