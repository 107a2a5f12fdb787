package metrics

import "time"

// ResultLabel classifies a finished build for counters.
type ResultLabel string

const (
	ResultSuccess        ResultLabel = "success"
	ResultFailure        ResultLabel = "failure"
	ResultMissingVersion ResultLabel = "missing_version"
	ResultFileNotFound   ResultLabel = "file_not_found"
	ResultExecFailed     ResultLabel = "exec_failed"
)

// Recorder defines observability hooks for builds, notes and mesh links.
// NoopRecorder is the default; implementations must tolerate concurrent use.
type Recorder interface {
	ObserveBuildDuration(project string, d time.Duration)
	IncBuildResult(project string, result ResultLabel)
	IncRequestReceived(duplicate bool)
	IncNoteEmitted()
	IncNoteSuppressed()
	SetMeshMembers(builders, observers int)
	IncPeerDetached()
	IncTransportFailure(method string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildResult(string, ResultLabel)         {}
func (NoopRecorder) IncRequestReceived(bool)                    {}
func (NoopRecorder) IncNoteEmitted()                            {}
func (NoopRecorder) IncNoteSuppressed()                         {}
func (NoopRecorder) SetMeshMembers(int, int)                    {}
func (NoopRecorder) IncPeerDetached()                           {}
func (NoopRecorder) IncTransportFailure(string)                 {}
