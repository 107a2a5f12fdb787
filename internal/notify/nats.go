package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

const publishTimeout = 5 * time.Second

// Publisher is the part of jetstream.JetStream the observer uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StatusStore keeps the latest result per project; jetstream.KeyValue
// satisfies it.
type StatusStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// NATSConfig describes where notes are published.
type NATSConfig struct {
	URL          string
	Subject      string
	Stream       string
	StatusBucket string
}

// NATSObserver publishes every note as JSON to <subject>.<project>.
type NATSObserver struct {
	conn    *nats.Conn
	pub     Publisher
	status  StatusStore
	subject string
	logger  *slog.Logger
}

// NewNATSObserver wraps an existing publisher. status may be nil.
func NewNATSObserver(pub Publisher, subject string, status StatusStore, logger *slog.Logger) *NATSObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSObserver{pub: pub, status: status, subject: subject, logger: logger}
}

// DialNATS connects to cfg.URL, creates or updates the stream capturing
// cfg.Subject and, when cfg.StatusBucket is set, the status bucket.
func DialNATS(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSObserver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("buildmesh"))
	if err != nil {
		return nil, ferrors.NetworkError("failed to connect to NATS").
			WithCause(err).WithContext("url", cfg.URL).Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Build notes published by buildmesh hubs",
		Subjects:    []string{cfg.Subject + ".>"},
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
	}

	var status StatusStore
	if cfg.StatusBucket != "" {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.StatusBucket,
			Description: "Latest build status per project",
			History:     1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create KV bucket %s: %w", cfg.StatusBucket, err)
		}
		status = kv
	}

	logger.Info("NATS note publisher initialized",
		slog.String("url", cfg.URL), slog.String("subject", cfg.Subject), slog.String("stream", cfg.Stream))

	o := NewNATSObserver(js, cfg.Subject, status, logger)
	o.conn = conn
	return o, nil
}

func (o *NATSObserver) ReceiveNote(ctx context.Context, n note.Note) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal note: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	subject := o.subject + "." + Token(n.Project)
	if _, err := o.pub.Publish(ctx, subject, data, jetstream.WithMsgID(n.ID)); err != nil {
		// The note stream must keep flowing to other observers.
		o.logger.Warn("Publishing note failed", logfields.NoteID(n.ID), logfields.Error(err))
		return nil
	}

	if _, final := n.Final(); final && o.status != nil {
		if _, err := o.status.Put(ctx, Token(n.Project), data); err != nil {
			o.logger.Warn("Storing build status failed", logfields.Project(n.Project), logfields.Error(err))
		}
	}
	return nil
}

// Close drains and closes the NATS connection if the observer owns one.
func (o *NATSObserver) Close() error {
	if o.conn == nil {
		return nil
	}
	return o.conn.Drain()
}

// Token makes s usable as a single NATS subject token and KV key.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
