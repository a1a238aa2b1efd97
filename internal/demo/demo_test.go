package demo

import (
	"bytes"
	"errors"
	"io/fs"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/pool"
)

type fakeHost struct {
	mu        sync.Mutex
	destroyed []capture.Session
	processed []string
}

func (h *fakeHost) Destroy(s capture.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = append(h.destroyed, s)
}
func (h *fakeHost) NotifyBufferLevel(int, int) {}
func (h *fakeHost) NotifyBufferFlushed()       {}
func (h *fakeHost) NotifyFrameProcessed(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processed = append(h.processed, name)
}
func (h *fakeHost) NotifyFrameSaved(string) {}

type fakeVideo struct {
	frames map[string][]byte
	err    error
	closed bool
}

func (v *fakeVideo) Frame(name string, data []byte) error {
	if v.err != nil {
		return v.err
	}
	v.frames[name] = bytes.Clone(data)
	return nil
}

func (v *fakeVideo) Close() error {
	v.closed = true
	return nil
}

type fakeAudio struct {
	data    []byte
	flushes int
	closed  bool
}

func (a *fakeAudio) Write(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(a.data) {
		a.data = append(a.data, make([]byte, end-len(a.data))...)
	}
	copy(a.data[off:], p)
	return len(p), nil
}

func (a *fakeAudio) Flush() error {
	a.flushes++
	return nil
}

func (a *fakeAudio) Close() error {
	a.closed = true
	return nil
}

type harness struct {
	host   *fakeHost
	video  *fakeVideo
	audio  *fakeAudio
	frames *pool.Pool[byte]
	s      *Session

	videoMade, audioMade int
}

func newHarness() *harness {
	h := &harness{
		host:   &fakeHost{},
		video:  &fakeVideo{frames: make(map[string][]byte)},
		audio:  &fakeAudio{},
		frames: pool.New[byte](),
	}
	video := func(capture.Host, string) capture.VideoHandler {
		h.videoMade++
		return h.video
	}
	audio := func(capture.Host, string) capture.AudioHandler {
		h.audioMade++
		return h.audio
	}
	h.s = NewFactory(h.frames)(h.host, "/movies/demo_", video, audio).(*Session)
	return h
}

func TestFrameLifecycle(t *testing.T) {
	h := newHarness()
	const p = "/movies/demo_0001.tga"

	if err := h.s.CreateFile(p); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	h.s.WriteFile(p, []byte("hello"), 0)
	h.s.WriteFile(p, []byte("world"), 7)

	fi, err := h.s.FileInfo(p)
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if fi.Size() != 12 || fi.Name() != "demo_0001.tga" || fi.IsDir() {
		t.Errorf("FileInfo = %s size %d", fi.Name(), fi.Size())
	}

	if err := h.s.CloseFile(p); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	want := []byte("hello\x00\x00world")
	if got := h.video.frames[p]; !bytes.Equal(got, want) {
		t.Errorf("frame = %q, want %q", got, want)
	}
	if !slices.Equal(h.host.processed, []string{"demo_0001.tga"}) {
		t.Errorf("processed = %v", h.host.processed)
	}
	// Both the outgrown buffer and the final one went back to the pool.
	if st := h.frames.Stats(); st.Releases != 2 {
		t.Errorf("releases = %d, want 2", st.Releases)
	}

	// The finished frame keeps its size.
	if fi, err := h.s.FileInfo(p); err != nil || fi.Size() != 12 {
		t.Errorf("FileInfo after close = %v, %v", fi, err)
	}
	// A second close is a no-op.
	h.s.CloseFile(p)
	if len(h.host.processed) != 1 {
		t.Errorf("frame processed twice")
	}
}

func TestFrameTruncate(t *testing.T) {
	h := newHarness()
	const p = "/movies/demo_0002.tga"

	h.s.WriteFile(p, []byte("abcdef"), 0)
	h.s.TruncateFile(p, 3)
	h.s.TruncateFile(p, 5)
	h.s.CloseFile(p)

	if got := h.video.frames[p]; !bytes.Equal(got, []byte("abc\x00\x00")) {
		t.Errorf("frame = %q", got)
	}
}

func TestOnlyLastFinishedFrameKept(t *testing.T) {
	h := newHarness()
	for _, p := range []string{"/m/demo_0001.tga", "/m/demo_0002.tga"} {
		h.s.CreateFile(p)
		h.s.WriteFile(p, []byte{1}, 0)
		h.s.CloseFile(p)
	}
	if _, err := h.s.FileInfo("/m/demo_0001.tga"); !errors.Is(err, capture.ErrNotExist) {
		t.Errorf("first frame still tracked: %v", err)
	}
	if _, err := h.s.FileInfo("/m/demo_0002.tga"); err != nil {
		t.Errorf("last frame forgotten: %v", err)
	}
}

func TestFrameRejectsOutOfRangeIO(t *testing.T) {
	const p = "/movies/demo_0001.tga"
	// A 9P offset of 2^63+5 arrives here as a negative int64.
	wrapped := uint64(1)<<63 + 5

	tests := []struct {
		name string
		op   func(s *Session) error
	}{
		{"write wrapped offset", func(s *Session) error {
			_, err := s.WriteFile(p, []byte("abc"), int64(wrapped))
			return err
		}},
		{"write past frame cap", func(s *Session) error {
			_, err := s.WriteFile(p, []byte("abc"), MaxFrameSize-2)
			return err
		}},
		{"write at max offset", func(s *Session) error {
			_, err := s.WriteFile(p, []byte("abc"), math.MaxInt64)
			return err
		}},
		{"truncate negative", func(s *Session) error {
			return s.TruncateFile(p, -1)
		}},
		{"truncate huge", func(s *Session) error {
			return s.TruncateFile(p, 1<<62)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if err := tt.op(h.s); !errors.Is(err, fs.ErrInvalid) {
				t.Fatalf("err = %v, want fs.ErrInvalid", err)
			}
			if _, err := h.s.FileInfo(p); !capture.IsNotExist(err) {
				t.Errorf("rejected request left the frame tracked: %v", err)
			}
		})
	}

	h := newHarness()
	if err := h.s.TruncateFile(p, 16); err != nil {
		t.Fatalf("TruncateFile in range: %v", err)
	}
	if n, err := h.s.WriteFile(p, []byte("abc"), 13); err != nil || n != 3 {
		t.Fatalf("WriteFile in range = %d, %v", n, err)
	}
}

func TestAudioRejectsNegativeOffset(t *testing.T) {
	h := newHarness()
	if _, err := h.s.WriteFile("/movies/demo_.wav", []byte{1}, -1); !errors.Is(err, fs.ErrInvalid) {
		t.Errorf("WriteFile = %v, want fs.ErrInvalid", err)
	}
	if h.audioMade != 0 {
		t.Errorf("audio handler created for a rejected write")
	}
}

func TestFileInfoUnknownPath(t *testing.T) {
	h := newHarness()
	if _, err := h.s.FileInfo("/movies/demo_0009.tga"); !capture.IsNotExist(err) {
		t.Errorf("FileInfo = %v, want not-exist", err)
	}
}

func TestFileInfoIgnoresCase(t *testing.T) {
	h := newHarness()
	h.s.CreateFile("/Movies/Demo_0001.TGA")
	fi, err := h.s.FileInfo("/movies/demo_0001.tga")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if fi.Name() != "Demo_0001.TGA" {
		t.Errorf("Name = %q, want original case", fi.Name())
	}
}

func TestAudioEndsCapture(t *testing.T) {
	h := newHarness()
	const wav = "/movies/demo_.wav"

	h.s.CreateFile(wav)
	h.s.CreateFile(wav)
	if h.audioMade != 1 {
		t.Fatalf("audio handler created %d times", h.audioMade)
	}
	if n, err := h.s.WriteFile(wav, []byte("RIFF"), 0); n != 4 || err != nil {
		t.Fatalf("WriteFile = %d, %v", n, err)
	}
	h.s.TruncateFile(wav, 0)
	if fi, _ := h.s.FileInfo(wav); fi.Size() != 4 {
		t.Errorf("audio size = %d, want 4", fi.Size())
	}

	h.s.WriteFile("/movies/demo_0001.tga", []byte{1}, 0)
	h.s.CloseFile("/movies/demo_0001.tga")

	if err := h.s.CloseFile(wav); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if !h.audio.closed || !h.video.closed {
		t.Errorf("handlers not closed: audio %v video %v", h.audio.closed, h.video.closed)
	}
	if len(h.host.destroyed) != 1 || h.host.destroyed[0] != capture.Session(h.s) {
		t.Errorf("destroyed = %v", h.host.destroyed)
	}

	h.s.CloseFile(wav)
	if len(h.host.destroyed) != 1 {
		t.Error("capture ended twice")
	}
}

func TestFlushAudioBuffer(t *testing.T) {
	h := newHarness()
	h.s.FlushAudioBuffer()
	if h.audioMade != 0 {
		t.Fatal("flush created an audio handler")
	}
	h.s.CreateFile("/demo_.wav")
	h.s.FlushAudioBuffer()
	if h.audio.flushes != 1 {
		t.Errorf("flushes = %d, want 1", h.audio.flushes)
	}
}

func TestModifyFindResults(t *testing.T) {
	h := newHarness()
	h.s.CreateFile("/movies/demo_0001.tga")
	h.s.CreateFile("/movies/demo_.wav")
	h.s.CreateFile("/other/demo_0001.tga")

	got := h.s.ModifyFindResults("/Movies", []string{"readme.txt", "DEMO_.WAV"})
	slices.Sort(got)
	want := []string{"DEMO_.WAV", "demo_0001.tga", "readme.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("ModifyFindResults = %v, want %v", got, want)
	}

	if got := h.s.ModifyFindResults("/", nil); len(got) != 0 {
		t.Errorf("root listing = %v, want empty", got)
	}
}

func TestBadFrameIsDropped(t *testing.T) {
	h := newHarness()
	h.video.err = errors.New("bad frame")
	const p = "/demo_0001.tga"
	h.s.WriteFile(p, []byte{1, 2}, 0)
	if err := h.s.CloseFile(p); err != nil {
		t.Fatalf("CloseFile = %v, want nil", err)
	}
	if len(h.host.processed) != 1 {
		t.Errorf("processed = %v", h.host.processed)
	}
}

func TestGrowReusesPool(t *testing.T) {
	h := newHarness()
	h.frames.Release(make([]byte, 0, 64))
	const p = "/demo_0001.tga"
	h.s.WriteFile(p, []byte("x"), 0)
	h.s.WriteFile(p, bytes.Repeat([]byte("y"), 100), 1)
	h.s.CloseFile(p)

	if got := h.video.frames[p]; len(got) != 101 || got[0] != 'x' || got[100] != 'y' {
		t.Errorf("frame len %d", len(got))
	}
	if st := h.frames.Stats(); st.Reuses != 1 {
		t.Errorf("reuses = %d, want 1", st.Reuses)
	}
}
