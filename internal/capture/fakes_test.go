package capture

import (
	"io/fs"
	"path"
	"slices"
	"sync"
	"time"
)

// fakeFS is an in-memory Passthrough that records every call.
type fakeFS struct {
	mu      sync.Mutex
	calls   []string
	files   map[string][]byte
	findErr error
	failErr error
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: make(map[string][]byte)}
}

func (f *fakeFS) record(op, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+p)
}

func (f *fakeFS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeFS) Create(p string, intent Intent) error {
	f.record("create", p)
	if f.failErr != nil {
		return f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[p]; !ok {
		if !intent.ShouldCreate() {
			return fs.ErrNotExist
		}
		f.files[p] = nil
	}
	return nil
}

func (f *fakeFS) Close(p string) error {
	f.record("close", p)
	return f.failErr
}

func (f *fakeFS) Read(p string, b []byte, off int64) (int, error) {
	f.record("read", p)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return 0, fs.ErrNotExist
	}
	if off >= int64(len(data)) {
		return 0, nil
	}
	return copy(b, data[off:]), nil
}

func (f *fakeFS) Write(p string, b []byte, off int64) (int, error) {
	f.record("write", p)
	if f.failErr != nil {
		return 0, f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.files[p]
	if need := int(off) + len(b); need > len(data) {
		data = append(data, make([]byte, need-len(data))...)
	}
	copy(data[off:], b)
	f.files[p] = data
	return len(b), nil
}

func (f *fakeFS) Truncate(p string, n int64) error {
	f.record("truncate", p)
	return f.failErr
}

func (f *fakeFS) FileInfo(p string) (fs.FileInfo, error) {
	f.record("stat", p)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fakeInfo{name: path.Base(p), size: int64(len(data))}, nil
}

func (f *fakeFS) FindFiles(dir string) ([]string, error) {
	f.record("find", dir)
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for p := range f.files {
		if path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	slices.Sort(names)
	return names, nil
}

func (f *fakeFS) Mkdir(p string) error {
	f.record("mkdir", p)
	return f.failErr
}

func (f *fakeFS) Remove(p string) error {
	f.record("remove", p)
	return f.failErr
}

type fakeInfo struct {
	name string
	size int64
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return false }
func (i fakeInfo) Sys() any           { return nil }

// fakeSession records the calls routed to it.
type fakeSession struct {
	host Host
	key  string

	mu      sync.Mutex
	calls   []string
	flushes int
	err     error
}

func (s *fakeSession) record(op, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op+" "+p)
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *fakeSession) CreateFile(p string) error {
	s.record("create", p)
	return s.err
}

func (s *fakeSession) CloseFile(p string) error {
	s.record("close", p)
	return s.err
}

func (s *fakeSession) TruncateFile(p string, n int64) error {
	s.record("truncate", p)
	return s.err
}

func (s *fakeSession) WriteFile(p string, b []byte, off int64) (int, error) {
	s.record("write", p)
	if s.err != nil {
		return 0, s.err
	}
	return len(b), nil
}

func (s *fakeSession) FileInfo(p string) (fs.FileInfo, error) {
	s.record("stat", p)
	if s.err != nil {
		return nil, s.err
	}
	return fakeInfo{name: path.Base(p), size: 42}, nil
}

func (s *fakeSession) ModifyFindResults(dir string, names []string) []string {
	return append(names, s.key+"0001.tga")
}

func (s *fakeSession) FlushAudioBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

// sessionFactory builds fakeSessions and counts how many it made.
type sessionFactory struct {
	mu      sync.Mutex
	created []*fakeSession
}

func (f *sessionFactory) New(host Host, key string, _ VideoHandlerFactory, _ AudioHandlerFactory) Session {
	s := &fakeSession{host: host, key: key}
	f.mu.Lock()
	f.created = append(f.created, s)
	f.mu.Unlock()
	return s
}

func (f *sessionFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// recordingListener collects notifications as strings.
type recordingListener struct {
	name   string
	mu     sync.Mutex
	events []string
	sink   *[]string
}

func (l *recordingListener) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if l.sink != nil {
		*l.sink = append(*l.sink, l.name+":"+e)
	}
}

func (l *recordingListener) OnAudioBuffer(occupied, total int) {
	l.add("buffer")
}
func (l *recordingListener) OnAudioBufferWriteout()       { l.add("writeout") }
func (l *recordingListener) OnFrameProcessed(name string) { l.add("processed " + name) }
func (l *recordingListener) OnFrameSaved(path string)     { l.add("saved " + path) }

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// countingRecorder tallies Recorder callbacks.
type countingRecorder struct {
	mu          sync.Mutex
	intercepted map[Op]int
	passthrough map[Op]int
	sessions    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{intercepted: map[Op]int{}, passthrough: map[Op]int{}}
}

func (c *countingRecorder) RecordRoute(op Op, intercepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if intercepted {
		c.intercepted[op]++
	} else {
		c.passthrough[op]++
	}
}

func (c *countingRecorder) RecordSessions(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions += delta
}
