package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRequestID  = "request_id"
	KeyNoteID     = "note_id"
	KeyBuildID    = "build_id"
	KeyProject    = "project"
	KeyVersion    = "version"
	KeyTestPath   = "test_path"
	KeyBuilder    = "builder"
	KeyPeer       = "peer"
	KeyEndpoint   = "endpoint"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RequestID(id string) slog.Attr  { return slog.String(KeyRequestID, id) }
func NoteID(id string) slog.Attr     { return slog.String(KeyNoteID, id) }
func BuildID(id string) slog.Attr    { return slog.String(KeyBuildID, id) }
func Project(p string) slog.Attr     { return slog.String(KeyProject, p) }
func Version(v string) slog.Attr     { return slog.String(KeyVersion, v) }
func TestPath(p string) slog.Attr    { return slog.String(KeyTestPath, p) }
func Builder(name string) slog.Attr  { return slog.String(KeyBuilder, name) }
func Peer(p string) slog.Attr        { return slog.String(KeyPeer, p) }
func Endpoint(desc string) slog.Attr { return slog.String(KeyEndpoint, desc) }
func Method(m string) slog.Attr      { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr      { return slog.Int(KeyStatus, code) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
