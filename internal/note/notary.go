package note

import (
	"time"
)

// Subject identifies the build a note is about.
type Subject struct {
	RequestID string
	Builder   string
	Project   string
	Version   string
	BuildID   string
	TestPath  string
}

// Notary stamps notes with fresh ids and times.
type Notary struct {
	nextID func() string
	now    func() time.Time
}

// NewNotary returns a Notary drawing ids from nextID.
func NewNotary(nextID func() string) *Notary {
	return &Notary{nextID: nextID, now: time.Now}
}

// Start returns the note announcing that a build began.
func (n *Notary) Start(s Subject) Note {
	return n.create(s, Body{Event: EventStart})
}

// End returns the terminal note for a build.
func (n *Notary) End(s Subject, status int, runtime time.Duration) Note {
	return n.create(s, Body{Event: EventEnd, Status: &status, Runtime: runtime})
}

func (n *Notary) create(s Subject, body Body) Note {
	body.BuildID = s.BuildID
	body.TestPath = s.TestPath
	return Note{
		ID:        n.nextID(),
		RequestID: s.RequestID,
		Builder:   s.Builder,
		Project:   s.Project,
		Version:   s.Version,
		Time:      n.now().UTC(),
		Body:      body,
	}
}
