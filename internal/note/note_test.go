package note

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
}

func TestBuildRequest_FillAssignsMissing(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := BuildRequest{Project: "foo", Version: "5"}.Fill(counter(), now)

	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, now, r.CreatedAt)
}

func TestBuildRequest_FillFirstWriterWins(t *testing.T) {
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := BuildRequest{ID: "keep", Project: "foo", CreatedAt: created}

	r := orig.Fill(counter(), time.Now())
	assert.Equal(t, "keep", r.ID)
	assert.Equal(t, created, r.CreatedAt)
}

func TestNotary_StartAndEnd(t *testing.T) {
	n := NewNotary(counter())
	s := Subject{RequestID: "req", Builder: "b", Project: "foo", Version: "5", BuildID: "build", TestPath: "bar/baz"}

	start := n.Start(s)
	end := n.End(s, 7, 2*time.Second)

	assert.NotEqual(t, start.ID, end.ID)
	assert.Equal(t, EventStart, start.Body.Event)
	assert.Nil(t, start.Body.Status)
	_, final := start.Final()
	assert.False(t, final)

	status, ok := end.Final()
	require.True(t, ok)
	assert.Equal(t, 7, status)
	assert.Equal(t, "req", end.RequestID)
	assert.Equal(t, "bar/baz", end.Body.TestPath)
	assert.Equal(t, "build", end.Body.BuildID)
	assert.Equal(t, 2*time.Second, end.Body.Runtime)
}
