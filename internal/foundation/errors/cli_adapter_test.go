package errors

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: 0},
		{name: "validation", err: ValidationError("invalid input").Build(), expected: 2},
		{name: "config", err: ConfigError("bad config").Build(), expected: 2},
		{name: "network", err: NetworkError("connection refused").Build(), expected: 3},
		{name: "mesh", err: MeshError("unknown connection").Build(), expected: 3},
		{name: "build", err: BuildError("no such project").Build(), expected: 4},
		{name: "internal", err: InternalError("broken invariant").Build(), expected: 10},
		{name: "wrapped classified", err: fmt.Errorf("outer: %w", NetworkError("lost").Build()), expected: 3},
		{name: "unclassified", err: &customError{msg: "unknown error"}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, slog.Default())
	verbose := NewCLIErrorAdapter(true, slog.Default())

	assert.Empty(t, quiet.FormatError(nil))
	assert.Equal(t, "Error: unknown error", quiet.FormatError(&customError{msg: "unknown error"}))
	assert.Equal(t, "Internal error occurred (use -v for details)", quiet.FormatError(InternalError("internal issue").Build()))
	assert.Equal(t, "Error: bad config", quiet.FormatError(ConfigError("bad config").Build()))
	assert.Contains(t, verbose.FormatError(InternalError("internal issue").Build()), "internal issue")
}

// customError is a test helper for unclassified errors
type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}
