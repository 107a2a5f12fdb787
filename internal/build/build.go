package build

import (
	"sync"
	"time"
)

// Reserved terminal statuses. Script exit codes are reported as-is, so these
// only collide with scripts that deliberately exit with the same value.
const (
	StatusSuccess        = 0
	StatusMissingVersion = 400
	StatusFileNotFound   = 404
	StatusExecFailed     = 500
)

// MaxOutput caps the combined stdout/stderr kept per build.
const MaxOutput = 64 << 10

// Info is an immutable snapshot of a Build.
type Info struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Builder   string        `json:"builder"`
	Project   string        `json:"project"`
	Version   string        `json:"version"`
	TestPath  string        `json:"test_path,omitempty"`
	Status    *int          `json:"status,omitempty"`
	Started   time.Time     `json:"started"`
	Runtime   time.Duration `json:"runtime"`
	Output    []byte        `json:"-"`
}

// Pending reports whether the build has not finished yet.
func (i Info) Pending() bool { return i.Status == nil }

// Build is one concrete execution target resolved from a build request.
type Build struct {
	ID        string
	RequestID string
	Builder   string
	Project   string
	Version   string
	TestPath  string

	mu      sync.Mutex
	status  *int
	started time.Time
	runtime time.Duration
	output  []byte
	done    chan struct{}
	now     func() time.Time
}

// New returns a pending build. The runtime clock starts now.
func New(id, requestID, builder, project, version, testPath string) *Build {
	return &Build{
		ID:        id,
		RequestID: requestID,
		Builder:   builder,
		Project:   project,
		Version:   version,
		TestPath:  testPath,
		started:   time.Now(),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// SetOutput stores the script output, truncated to MaxOutput.
func (b *Build) SetOutput(out []byte) {
	if len(out) > MaxOutput {
		out = out[:MaxOutput]
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = append([]byte(nil), out...)
}

// Finish records the terminal status. It reports false if the build had
// already finished, in which case nothing changes.
func (b *Build) Finish(status int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != nil {
		return false
	}
	b.status = &status
	b.runtime = b.now().Sub(b.started)
	close(b.done)
	return true
}

// Done is closed once the build has finished.
func (b *Build) Done() <-chan struct{} { return b.done }

// Status returns the terminal status, if any.
func (b *Build) Status() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == nil {
		return 0, false
	}
	return *b.status, true
}

// Runtime returns the time between creation and Finish, or zero while pending.
func (b *Build) Runtime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runtime
}

// Info returns a snapshot of the build.
func (b *Build) Info() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := Info{
		ID:        b.ID,
		RequestID: b.RequestID,
		Builder:   b.Builder,
		Project:   b.Project,
		Version:   b.Version,
		TestPath:  b.TestPath,
		Started:   b.started,
		Runtime:   b.runtime,
		Output:    b.output,
	}
	if b.status != nil {
		s := *b.status
		info.Status = &s
	}
	return info
}
