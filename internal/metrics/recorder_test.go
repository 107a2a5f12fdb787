package metrics

import (
	"testing"
	"time"
)

// NoopRecorder must satisfy Recorder and accept every call.
func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveBuildDuration("foo", time.Second)
	r.IncBuildResult("foo", ResultSuccess)
	r.IncRequestReceived(true)
	r.IncNoteEmitted()
	r.IncNoteSuppressed()
	r.SetMeshMembers(1, 1)
	r.IncPeerDetached()
	r.IncTransportFailure("build")
}
