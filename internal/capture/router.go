package capture

import (
	"io/fs"
	"log/slog"
	"sync/atomic"
)

// Router dispatches filesystem operations. Paths that [Classify] rejects go
// straight to the passthrough filesystem; capture paths go to the session
// that owns them, which is created on first reference.
//
// Sessions are called without the registry lock held, so a session may be
// destroyed by one goroutine while another is still inside one of its
// methods. Sessions keep working after removal; they are simply no longer
// reachable through the router.
//
// All methods are safe for concurrent use.
type Router struct {
	fs         Passthrough
	registry   *Registry
	newSession SessionFactory
	video      VideoHandlerFactory
	audio      AudioHandlerFactory
	recorder   Recorder

	hideFiles atomic.Bool
	listeners listenerSet
}

// Option configures a [Router].
type Option func(*Router)

// WithRecorder reports routing decisions and session counts to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRouter creates a router over the passthrough filesystem fs. Sessions are
// built by newSession and receive the two handler factories.
func NewRouter(fs Passthrough, newSession SessionFactory, video VideoHandlerFactory, audio AudioHandlerFactory, opts ...Option) *Router {
	r := &Router{
		fs:         fs,
		registry:   NewRegistry(),
		newSession: newSession,
		video:      video,
		audio:      audio,
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sessions returns the number of live capture sessions.
func (r *Router) Sessions() int {
	return r.registry.Len()
}

// session resolves the session that owns path, creating it if needed. It
// returns nil when path is not a capture path.
func (r *Router) session(path string) Session {
	m, ok := Classify(path)
	if !ok {
		return nil
	}
	s, created := r.registry.LookupOrCreate(m.LookupKey, m.Key, func(key string) Session {
		return r.newSession(r, key, r.video, r.audio)
	})
	if created {
		r.recorder.RecordSessions(1)
		slog.Info("capture session started", "key", m.Key)
	}
	return s
}

// Create opens or creates path. Only intents that may create a file are
// intercepted; opening an existing capture file goes to the backing store.
func (r *Router) Create(path string, intent Intent) error {
	if !intent.ShouldCreate() {
		r.recorder.RecordRoute(OpCreate, false)
		return r.fs.Create(path, intent)
	}
	s := r.session(path)
	if s == nil {
		r.recorder.RecordRoute(OpCreate, false)
		return r.fs.Create(path, intent)
	}
	r.recorder.RecordRoute(OpCreate, true)
	return s.CreateFile(path)
}

// Write stores p at offset in path.
func (r *Router) Write(path string, p []byte, offset int64) (int, error) {
	s := r.session(path)
	if s == nil {
		r.recorder.RecordRoute(OpWrite, false)
		return r.fs.Write(path, p, offset)
	}
	r.recorder.RecordRoute(OpWrite, true)
	return s.WriteFile(path, p, offset)
}

// Truncate sets the length of path.
func (r *Router) Truncate(path string, length int64) error {
	s := r.session(path)
	if s == nil {
		r.recorder.RecordRoute(OpTruncate, false)
		return r.fs.Truncate(path, length)
	}
	r.recorder.RecordRoute(OpTruncate, true)
	return s.TruncateFile(path, length)
}

// Close releases path after the caller's last handle to it is gone.
func (r *Router) Close(path string) error {
	s := r.session(path)
	if s == nil {
		r.recorder.RecordRoute(OpClose, false)
		return r.fs.Close(path)
	}
	r.recorder.RecordRoute(OpClose, true)
	return s.CloseFile(path)
}

// FileInfo returns metadata for path. Capture paths are answered by their
// session, which fabricates metadata for files that never reach the disk.
func (r *Router) FileInfo(path string) (fs.FileInfo, error) {
	s := r.session(path)
	if s == nil {
		r.recorder.RecordRoute(OpStat, false)
		return r.fs.FileInfo(path)
	}
	r.recorder.RecordRoute(OpStat, true)
	return s.FileInfo(path)
}

// FindFiles lists dir. With hidden files enabled the listing is always
// empty. Otherwise every live session may amend the backing store's listing.
func (r *Router) FindFiles(dir string) ([]string, error) {
	r.recorder.RecordRoute(OpFind, false)
	if r.hideFiles.Load() {
		return nil, nil
	}
	names, err := r.fs.FindFiles(dir)
	if err != nil {
		return nil, err
	}
	r.registry.ForEach(func(s Session) {
		names = s.ModifyFindResults(dir, names)
	})
	return names, nil
}

// Read is never intercepted.
func (r *Router) Read(path string, p []byte, offset int64) (int, error) {
	r.recorder.RecordRoute(OpRead, false)
	return r.fs.Read(path, p, offset)
}

// Mkdir is never intercepted.
func (r *Router) Mkdir(path string) error {
	r.recorder.RecordRoute(OpMkdir, false)
	return r.fs.Mkdir(path)
}

// Remove is never intercepted.
func (r *Router) Remove(path string) error {
	r.recorder.RecordRoute(OpRemove, false)
	return r.fs.Remove(path)
}

// HideFiles reports whether directory listings are suppressed.
func (r *Router) HideFiles() bool {
	return r.hideFiles.Load()
}

// SetHideFiles suppresses (or restores) directory listings.
func (r *Router) SetHideFiles(hide bool) {
	r.hideFiles.Store(hide)
}

// FlushAudioBuffer asks every live session to write out buffered audio.
func (r *Router) FlushAudioBuffer() {
	r.registry.ForEach(func(s Session) {
		s.FlushAudioBuffer()
	})
}

// AddListener registers l. Adding the same listener twice has no effect.
func (r *Router) AddListener(l Listener) {
	r.listeners.add(l)
}

// RemoveListener unregisters l.
func (r *Router) RemoveListener(l Listener) {
	r.listeners.remove(l)
}

// Destroy unregisters s. It is a no-op when s is nil or not registered.
func (r *Router) Destroy(s Session) {
	if key, ok := r.registry.Destroy(s); ok {
		r.recorder.RecordSessions(-1)
		slog.Info("capture session ended", "key", key)
	}
}

func (r *Router) NotifyBufferLevel(occupied, total int) {
	r.listeners.each(func(l Listener) { l.OnAudioBuffer(occupied, total) })
}

func (r *Router) NotifyBufferFlushed() {
	r.listeners.each(func(l Listener) { l.OnAudioBufferWriteout() })
}

func (r *Router) NotifyFrameProcessed(name string) {
	r.listeners.each(func(l Listener) { l.OnFrameProcessed(name) })
}

func (r *Router) NotifyFrameSaved(path string) {
	r.listeners.each(func(l Listener) { l.OnFrameSaved(path) })
}

var _ Host = (*Router)(nil)
