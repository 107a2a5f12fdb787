// Package notify provides note observers that report build events outside
// the mesh: to the process log and to a NATS JetStream stream.
package notify

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

// LogObserver writes one log record per note.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns an observer logging to logger, or slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) ReceiveNote(ctx context.Context, n note.Note) error {
	attrs := []slog.Attr{
		logfields.NoteID(n.ID),
		logfields.RequestID(n.RequestID),
		logfields.BuildID(n.Body.BuildID),
		logfields.Builder(n.Builder),
		logfields.Project(n.Project),
		logfields.Version(n.Version),
	}
	if n.Body.TestPath != "" {
		attrs = append(attrs, logfields.TestPath(n.Body.TestPath))
	}

	status, final := n.Final()
	if !final {
		o.logger.LogAttrs(ctx, slog.LevelInfo, "Build started", attrs...)
		return nil
	}

	attrs = append(attrs, logfields.Status(status), logfields.Duration(n.Body.Runtime))
	level := slog.LevelInfo
	if status != 0 {
		level = slog.LevelWarn
	}
	o.logger.LogAttrs(ctx, level, "Build finished", attrs...)
	return nil
}
