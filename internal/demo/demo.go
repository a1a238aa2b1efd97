// Package demo implements the capture session for game movie recordings: a
// stream of numbered TGA frames plus one WAV file, none of which ever reach
// the backing store.
package demo

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/pool"
)

// NewFactory returns a capture.SessionFactory whose sessions keep frame bytes
// in buffers borrowed from frames.
func NewFactory(frames *pool.Pool[byte]) capture.SessionFactory {
	if frames == nil {
		frames = pool.New[byte]()
	}
	return func(host capture.Host, key string, video capture.VideoHandlerFactory, audio capture.AudioHandlerFactory) capture.Session {
		return NewSession(host, key, frames, video, audio)
	}
}

// MaxFrameSize bounds the bytes buffered for a single frame. An 8K frame at
// 32 bits per pixel is about 133 MB.
const MaxFrameSize = 256 << 20

// file is one synthetic file of the capture.
type file struct {
	path     string // case preserved
	buf      []byte // frame bytes while open; nil for audio and finished frames
	size     int64
	modTime  time.Time
	audio    bool
	finished bool
}

// Session collects the files of one capture. Frames are buffered until they
// are closed and then handed to the video handler; the audio stream is
// forwarded to the audio handler as it arrives. Closing the audio stream ends
// the capture.
type Session struct {
	host     capture.Host
	key      string
	frames   *pool.Pool[byte]
	newVideo capture.VideoHandlerFactory
	newAudio capture.AudioHandlerFactory

	mu           sync.Mutex
	files        map[string]*file // by lowercased path
	lastFinished string
	video        capture.VideoHandler
	audio        capture.AudioHandler
	ended        bool
}

func NewSession(host capture.Host, key string, frames *pool.Pool[byte], video capture.VideoHandlerFactory, audio capture.AudioHandlerFactory) *Session {
	return &Session{
		host:     host,
		key:      key,
		frames:   frames,
		newVideo: video,
		newAudio: audio,
		files:    make(map[string]*file),
	}
}

// Key returns the capture key with its original case.
func (s *Session) Key() string {
	return s.key
}

func normalize(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

func isAudio(p string) bool {
	m, ok := capture.Classify(p)
	return ok && m.Audio
}

// audioHandler returns the audio handler, creating it on first use.
// s.mu must be held.
func (s *Session) audioHandler() capture.AudioHandler {
	if s.audio == nil {
		s.audio = s.newAudio(s.host, s.key)
	}
	return s.audio
}

// track returns the entry for p, starting a new one if p is unknown or is a
// frame that already finished. s.mu must be held.
func (s *Session) track(p string) *file {
	k := normalize(p)
	f := s.files[k]
	if f == nil || f.finished {
		if k == s.lastFinished {
			s.lastFinished = ""
		}
		f = &file{path: p, audio: isAudio(p)}
		s.files[k] = f
	}
	f.modTime = time.Now()
	return f
}

// CreateFile starts (or restarts) a file of the capture.
func (s *Session) CreateFile(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.track(p)
	if f.audio {
		s.audioHandler()
		return nil
	}
	// Creating an open frame again truncates it.
	f.buf = f.buf[:0]
	f.size = 0
	return nil
}

// grow makes f.buf at least n bytes long, zeroing new bytes.
func (s *Session) grow(f *file, n int) {
	if n <= len(f.buf) {
		return
	}
	if n > cap(f.buf) {
		nb := s.frames.Acquire(max(n, 2*cap(f.buf)))
		copy(nb, f.buf)
		if f.buf != nil {
			s.frames.Release(f.buf)
		}
		f.buf = nb[:len(f.buf)]
	}
	old := len(f.buf)
	f.buf = f.buf[:n]
	clear(f.buf[old:])
}

// WriteFile stores p at offset. Frames are buffered in memory; audio goes
// straight to the audio handler.
func (s *Session) WriteFile(p string, data []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fs.ErrInvalid
	}
	if !isAudio(p) && offset > MaxFrameSize-int64(len(data)) {
		return 0, fs.ErrInvalid
	}

	s.mu.Lock()
	f := s.track(p)
	if f.audio {
		h := s.audioHandler()
		s.mu.Unlock()

		n, err := h.Write(data, offset)

		s.mu.Lock()
		f.size = max(f.size, offset+int64(n))
		s.mu.Unlock()
		return n, err
	}
	defer s.mu.Unlock()

	end := int(offset) + len(data)
	s.grow(f, end)
	copy(f.buf[offset:], data)
	f.size = int64(len(f.buf))
	return len(data), nil
}

// TruncateFile resizes a frame. The audio stream cannot be truncated; the
// request is accepted and ignored.
func (s *Session) TruncateFile(p string, length int64) error {
	if length < 0 || (!isAudio(p) && length > MaxFrameSize) {
		return fs.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.track(p)
	if f.audio {
		return nil
	}
	if int(length) <= len(f.buf) {
		f.buf = f.buf[:length]
	} else {
		s.grow(f, int(length))
	}
	f.size = length
	return nil
}

// CloseFile finishes a file. A closed frame is handed to the video handler.
// Closing the audio stream ends the capture and unregisters the session.
func (s *Session) CloseFile(p string) error {
	s.mu.Lock()
	f := s.files[normalize(p)]
	if f == nil || f.finished {
		s.mu.Unlock()
		return nil
	}
	if f.audio {
		return s.end()
	}

	data := f.buf
	f.buf = nil
	f.finished = true
	f.modTime = time.Now()
	if s.lastFinished != "" {
		delete(s.files, s.lastFinished)
	}
	s.lastFinished = normalize(p)
	if s.video == nil {
		s.video = s.newVideo(s.host, s.key)
	}
	video := s.video
	s.mu.Unlock()

	if data != nil {
		if err := video.Frame(f.path, data); err != nil {
			slog.Warn("capture frame dropped", "path", f.path, "error", err)
		}
		s.frames.Release(data)
	}
	s.host.NotifyFrameProcessed(path.Base(strings.ReplaceAll(f.path, "\\", "/")))
	return nil
}

// end closes both handlers and unregisters the session. It is called with
// s.mu held and releases it.
func (s *Session) end() error {
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	audio, video := s.audio, s.video
	s.mu.Unlock()

	var errs []error
	if audio != nil {
		errs = append(errs, audio.Close())
	}
	if video != nil {
		errs = append(errs, video.Close())
	}
	s.host.Destroy(s)
	return errors.Join(errs...)
}

// FileInfo describes a file this session has seen. Paths it has never seen
// do not exist.
func (s *Session) FileInfo(p string) (fs.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.files[normalize(p)]
	if f == nil {
		return nil, capture.ErrNotExist
	}
	return fileInfo{
		name:    path.Base(strings.ReplaceAll(f.path, "\\", "/")),
		size:    f.size,
		modTime: f.modTime,
	}, nil
}

// ModifyFindResults adds the files this session tracks in dir that the
// listing does not already contain.
func (s *Session) ModifyFindResults(dir string, names []string) []string {
	dir = path.Clean("/" + normalize(dir))

	s.mu.Lock()
	defer s.mu.Unlock()

	var seen map[string]bool
	for k, f := range s.files {
		if path.Clean("/"+path.Dir(k)) != dir {
			continue
		}
		if seen == nil {
			seen = make(map[string]bool, len(names))
			for _, n := range names {
				seen[strings.ToLower(n)] = true
			}
		}
		base := path.Base(strings.ReplaceAll(f.path, "\\", "/"))
		if !seen[strings.ToLower(base)] {
			seen[strings.ToLower(base)] = true
			names = append(names, base)
		}
	}
	return names
}

// FlushAudioBuffer writes out buffered audio. It runs under the registry
// lock, so failures are only logged.
func (s *Session) FlushAudioBuffer() {
	s.mu.Lock()
	audio := s.audio
	s.mu.Unlock()
	if audio == nil {
		return
	}
	if err := audio.Flush(); err != nil {
		slog.Warn("capture audio flush failed", "key", s.key, "error", err)
	}
}

var _ capture.Session = (*Session)(nil)

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o644 }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }
