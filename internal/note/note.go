// Package note defines the immutable values exchanged between hubs: build
// requests and the notes that describe build lifecycle events.
package note

import (
	"time"
)

// BuildRequest asks every reachable builder to build Project at Version.
// An empty ID or zero CreatedAt means the field has not been assigned yet.
type BuildRequest struct {
	ID        string    `cbor:"id" json:"id"`
	Project   string    `cbor:"project" json:"project"`
	Version   string    `cbor:"version" json:"version"`
	TestPath  string    `cbor:"test_path,omitempty" json:"test_path,omitempty"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
}

// Fill returns a copy with ID and CreatedAt assigned where absent. Existing
// values are never overwritten.
func (r BuildRequest) Fill(id func() string, now time.Time) BuildRequest {
	if r.ID == "" {
		r.ID = id()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r
}

// Event names the point in a build's lifecycle a Note describes.
type Event string

const (
	EventStart Event = "start"
	EventEnd   Event = "end"
)

// Body is the payload of a Note. Status is only set on EventEnd.
type Body struct {
	Event    Event         `cbor:"event" json:"event"`
	Status   *int          `cbor:"status,omitempty" json:"status,omitempty"`
	BuildID  string        `cbor:"build_id" json:"build_id"`
	TestPath string        `cbor:"test_path,omitempty" json:"test_path,omitempty"`
	Runtime  time.Duration `cbor:"runtime,omitempty" json:"runtime,omitempty"`
}

// Note is an immutable record of a build event. RequestID correlates it with
// the BuildRequest that caused the build.
type Note struct {
	ID        string    `cbor:"id" json:"id"`
	RequestID string    `cbor:"request_id" json:"request_id"`
	Builder   string    `cbor:"builder" json:"builder"`
	Project   string    `cbor:"project" json:"project"`
	Version   string    `cbor:"version" json:"version"`
	Time      time.Time `cbor:"time" json:"time"`
	Body      Body      `cbor:"body" json:"body"`
}

// Final reports the terminal status carried by an end note.
func (n Note) Final() (status int, ok bool) {
	if n.Body.Event != EventEnd || n.Body.Status == nil {
		return 0, false
	}
	return *n.Body.Status, true
}
