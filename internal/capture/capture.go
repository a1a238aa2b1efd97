// Package capture routes filesystem operations either to the backing
// directory or to the capture session that owns a path.
//
// A game recording a movie writes thousands of numbered TGA frames plus one
// WAV stream. [Router] recognises those paths with [Classify], hands them to a
// per-capture [Session] created on first reference, and passes every other
// operation through to the backing [Passthrough] filesystem untouched.
package capture

import (
	"errors"
	"io/fs"
)

// ErrNotExist is returned by sessions for capture paths they have not seen.
var ErrNotExist = fs.ErrNotExist

// Intent is the creation disposition a caller opens a path with.
type Intent int

const (
	OpenExisting Intent = iota
	TruncateExisting
	CreateNew
	CreateAlways
	OpenAlways
)

// ShouldCreate reports whether the intent may bring a new file into existence.
func (i Intent) ShouldCreate() bool {
	switch i {
	case CreateNew, CreateAlways, OpenAlways:
		return true
	}
	return false
}

func (i Intent) String() string {
	switch i {
	case OpenExisting:
		return "open-existing"
	case TruncateExisting:
		return "truncate-existing"
	case CreateNew:
		return "create-new"
	case CreateAlways:
		return "create-always"
	case OpenAlways:
		return "open-always"
	}
	return "unknown"
}

// Passthrough is the loopback filesystem that mirrors the backing directory.
// Every path that is not intercepted is served by it.
type Passthrough interface {
	Create(path string, intent Intent) error
	Close(path string) error
	Read(path string, p []byte, offset int64) (int, error)
	Write(path string, p []byte, offset int64) (int, error)
	Truncate(path string, length int64) error
	FileInfo(path string) (fs.FileInfo, error)
	// FindFiles lists the names in dir in a stable order.
	FindFiles(dir string) ([]string, error)
	Mkdir(path string) error
	Remove(path string) error
}

// Session owns the synthetic files of one capture. Implementations must be
// pointer types: the registry compares sessions by identity.
type Session interface {
	CreateFile(path string) error
	CloseFile(path string) error
	TruncateFile(path string, length int64) error
	WriteFile(path string, p []byte, offset int64) (int, error)
	// FileInfo fabricates metadata for a path the session owns.
	FileInfo(path string) (fs.FileInfo, error)
	// ModifyFindResults adjusts a listing of dir, typically adding entries
	// for captures that do not exist on the backing store.
	ModifyFindResults(dir string, names []string) []string
	FlushAudioBuffer()
}

// Host is the surface a session uses to talk back to the router.
type Host interface {
	// Destroy unregisters the session. It is how a capture ends.
	Destroy(s Session)
	NotifyBufferLevel(occupied, total int)
	NotifyBufferFlushed()
	NotifyFrameProcessed(name string)
	NotifyFrameSaved(path string)
}

// VideoHandler consumes completed frames of one capture. It must not retain
// data after Frame returns.
type VideoHandler interface {
	Frame(name string, data []byte) error
	Close() error
}

// AudioHandler consumes the raw audio stream of one capture.
type AudioHandler interface {
	Write(p []byte, offset int64) (int, error)
	Flush() error
	Close() error
}

// VideoHandlerFactory builds the frame consumer for the capture named key.
type VideoHandlerFactory func(host Host, key string) VideoHandler

// AudioHandlerFactory builds the audio consumer for the capture named key.
type AudioHandlerFactory func(host Host, key string) AudioHandler

// SessionFactory builds a session for the capture named key.
type SessionFactory func(host Host, key string, video VideoHandlerFactory, audio AudioHandlerFactory) Session

// Op names a routed filesystem operation.
type Op string

const (
	OpCreate   Op = "create"
	OpClose    Op = "close"
	OpRead     Op = "read"
	OpWrite    Op = "write"
	OpTruncate Op = "truncate"
	OpStat     Op = "stat"
	OpFind     Op = "find"
	OpMkdir    Op = "mkdir"
	OpRemove   Op = "remove"
)

// Recorder observes routing decisions and session lifecycle.
type Recorder interface {
	RecordRoute(op Op, intercepted bool)
	RecordSessions(delta int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRoute(Op, bool) {}
func (nopRecorder) RecordSessions(int)   {}

// IsNotExist reports whether err means a path is missing, whether it came from
// the backing store or from a session.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
