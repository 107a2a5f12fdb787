package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildmesh/internal/note"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return &jetstream.PubAck{Stream: "BUILDS"}, nil
}

type fakeStore map[string][]byte

func (f fakeStore) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f[key] = value
	return uint64(len(f)), nil
}

func endNote(status int) note.Note {
	return note.NewNotary(func() string { return "n-end" }).End(note.Subject{
		RequestID: "r1", Builder: "box", Project: "my.proj", Version: "5", BuildID: "b1",
	}, status, 2*time.Second)
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	o := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, nil)))

	start := note.NewNotary(func() string { return "n-start" }).Start(note.Subject{Project: "p", Version: "1", TestPath: "a/b"})
	require.NoError(t, o.ReceiveNote(context.Background(), start))
	require.NoError(t, o.ReceiveNote(context.Background(), endNote(3)))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "Build started", first["msg"])
	assert.Equal(t, "a/b", first["test_path"])
	assert.Equal(t, "Build finished", second["msg"])
	assert.Equal(t, "WARN", second["level"])
	assert.EqualValues(t, 3, second["status"])
}

func TestNATSObserverPublishes(t *testing.T) {
	pub := &fakePublisher{}
	store := fakeStore{}
	o := NewNATSObserver(pub, "buildmesh.notes", store, nil)

	n := endNote(0)
	require.NoError(t, o.ReceiveNote(context.Background(), n))

	require.Equal(t, []string{"buildmesh.notes.my_proj"}, pub.subjects)
	var got note.Note
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, n.ID, got.ID)
	status, ok := got.Final()
	require.True(t, ok)
	assert.Equal(t, 0, status)
	assert.Contains(t, store, "my_proj")
}

func TestNATSObserverSwallowsPublishErrors(t *testing.T) {
	store := fakeStore{}
	o := NewNATSObserver(&fakePublisher{err: errors.New("no responders")}, "s", store, nil)
	require.NoError(t, o.ReceiveNote(context.Background(), endNote(1)))
	assert.Empty(t, store)
	assert.NoError(t, o.Close())
}

func TestToken(t *testing.T) {
	assert.Equal(t, "a_b_c", Token("a.b c"))
	assert.Equal(t, "_", Token(""))
	assert.Equal(t, "ok-1_x", Token("ok-1_x"))
	assert.Equal(t, "__", Token("*>"))
}
