package build

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"os/exec"
)

// Runner executes a build script with the version as its only argument and
// returns the exit status plus combined output.
type Runner interface {
	Run(path, version string) (status int, output []byte)
}

// ExecRunner runs scripts as subprocesses. Once started a subprocess runs to
// completion; there is no cancellation.
type ExecRunner struct {
	// Dir is the subprocess working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

func (r ExecRunner) Run(path, version string) (int, []byte) {
	cmd := exec.Command(path, version) //nolint:gosec // running build scripts is the job
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return StatusSuccess, out.Bytes()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, out.Bytes()
		}
		// Killed by a signal.
		return StatusExecFailed, out.Bytes()
	}
	if errors.Is(err, fs.ErrNotExist) {
		return StatusFileNotFound, []byte(err.Error())
	}
	return StatusExecFailed, []byte(err.Error())
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(path, version string) (int, []byte)

func (f RunnerFunc) Run(path, version string) (int, []byte) { return f(path, version) }

// FileBuild executes the script at path for b and finishes b. A missing
// version or a missing script finishes the build with a reserved status
// without invoking the runner. It returns the terminal status.
func FileBuild(b *Build, path string, runner Runner) int {
	if b.Version == "" {
		b.Finish(StatusMissingVersion)
		return StatusMissingVersion
	}
	if _, err := os.Stat(path); err != nil {
		b.Finish(StatusFileNotFound)
		return StatusFileNotFound
	}

	status, out := runner.Run(path, b.Version)
	b.SetOutput(out)
	b.Finish(status)
	return status
}
