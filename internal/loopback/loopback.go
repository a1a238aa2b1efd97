// Package loopback mirrors a backing directory for every path the capture
// router does not intercept.
package loopback

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/NERVsystems/demo9p/internal/capture"
)

// FS serves slash-separated paths relative to the root of an afero.Fs.
// Operations open and close the underlying file each time, so Close has
// nothing to release.
type FS struct {
	fs afero.Fs
}

// New mirrors the directory backing on the host filesystem.
func New(backing string) *FS {
	return &FS{fs: afero.NewBasePathFs(afero.NewOsFs(), backing)}
}

// NewWithFs serves fsys directly. Tests pass an afero.NewMemMapFs.
func NewWithFs(fsys afero.Fs) *FS {
	return &FS{fs: fsys}
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (l *FS) Create(p string, intent capture.Intent) error {
	p = clean(p)
	var flag int
	switch intent {
	case capture.OpenExisting:
		_, err := l.fs.Stat(p)
		return err
	case capture.TruncateExisting:
		flag = os.O_WRONLY | os.O_TRUNC
	case capture.CreateNew:
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	case capture.CreateAlways:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case capture.OpenAlways:
		flag = os.O_WRONLY | os.O_CREATE
	default:
		return fs.ErrInvalid
	}
	f, err := l.fs.OpenFile(p, flag, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (l *FS) Close(string) error {
	return nil
}

func (l *FS) Read(p string, b []byte, offset int64) (int, error) {
	f, err := l.fs.Open(clean(p))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.ReadAt(b, offset)
	if errors.Is(err, io.EOF) {
		if n == 0 {
			return 0, io.EOF
		}
		err = nil
	}
	return n, err
}

func (l *FS) Write(p string, b []byte, offset int64) (n int, err error) {
	f, err := l.fs.OpenFile(clean(p), os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return f.WriteAt(b, offset)
}

func (l *FS) Truncate(p string, length int64) (err error) {
	f, err := l.fs.OpenFile(clean(p), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return f.Truncate(length)
}

func (l *FS) FileInfo(p string) (fs.FileInfo, error) {
	return l.fs.Stat(clean(p))
}

// FindFiles returns the entry names of dir sorted by name.
func (l *FS) FindFiles(dir string) ([]string, error) {
	infos, err := afero.ReadDir(l.fs, clean(dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (l *FS) Mkdir(p string) error {
	return l.fs.Mkdir(clean(p), 0o755)
}

func (l *FS) Remove(p string) error {
	return l.fs.Remove(clean(p))
}

var _ capture.Passthrough = (*FS)(nil)
