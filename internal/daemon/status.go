package daemon

import (
	"time"

	"git.home.luguber.info/inful/buildmesh/internal/build"
	"git.home.luguber.info/inful/buildmesh/internal/version"
)

// PeerStatus describes one remote hub known to this node.
type PeerStatus struct {
	UID     string `json:"uid"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Status is a point-in-time snapshot of the node served on the health
// endpoint.
type Status struct {
	Running      bool         `json:"running"`
	UID          string       `json:"uid,omitempty"`
	Name         string       `json:"name,omitempty"`
	Version      string       `json:"version"`
	Uptime       string       `json:"uptime,omitempty"`
	Builders     int          `json:"builders"`
	Observers    int          `json:"observers"`
	Listeners    []string     `json:"listeners"`
	Connections  []string     `json:"connections"`
	Peers        []PeerStatus `json:"peers"`
	Schedules    int          `json:"schedules"`
	ActiveBuilds []build.Info `json:"active_builds"`
}

// Status returns the current snapshot.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	running, started := d.running, d.started
	h, local, sched := d.hub, d.local, d.scheduler
	d.mu.Unlock()

	st := Status{Running: running, Version: version.Version}
	if !running || h == nil {
		return st
	}
	st.UID = h.UID()
	st.Name = h.Name()
	st.Uptime = time.Since(started).Round(time.Second).String()
	st.Builders = len(h.Builders())
	st.Observers = len(h.Observers())
	st.Listeners = h.Servers()
	st.Connections = h.Connections()
	for _, p := range h.Peers() {
		st.Peers = append(st.Peers, PeerStatus{UID: p.UID(), Name: p.Name(), Address: p.Original().RemoteAddr()})
	}
	if sched != nil {
		st.Schedules = sched.Builds()
	}
	if local != nil {
		st.ActiveBuilds = local.Active()
	}
	return st
}
