package commands

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/results"
)

// ResultsServerCmd implements the 'results-server' command.
type ResultsServerCmd struct {
	Listen string `help:"Server endpoint description" default:"tcp:8123"`
}

func (r *ResultsServerCmd) Run(g *Global) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv := results.NewServer(
		results.WithServerLogger(g.Logger),
		results.WithResultHandler(func(res results.Result) {
			g.Logger.Info("Build result",
				logfields.Builder(res.Builder),
				logfields.Project(res.ProjectName),
				logfields.Version(res.Revision),
				logfields.Status(res.ReturnCode),
				slog.String("specs", res.Specs))
		}),
	)
	if err := srv.Listen(r.Listen); err != nil {
		return err
	}
	g.Logger.Info("Results server listening", logfields.Endpoint(r.Listen))

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return srv.Close(stopCtx)
}
