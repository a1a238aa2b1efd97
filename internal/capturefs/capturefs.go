// Package capturefs exports a capture.Router as a 9P file tree.
package capturefs

import (
	"io/fs"
	"path"

	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/protocol"
)

// FS adapts the router's operations to the path-based calls the 9P server
// makes.
type FS struct {
	router *capture.Router
}

func New(router *capture.Router) *FS {
	return &FS{router: router}
}

func (f *FS) Stat(p string) (fs.FileInfo, error) {
	return f.router.FileInfo(p)
}

// ReadDir lists dir through the router, so live captures can add entries
// and hidden mode empties every listing. Names whose metadata cannot be
// fetched are left out.
func (f *FS) ReadDir(dir string) ([]fs.FileInfo, error) {
	names, err := f.router.FindFiles(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]fs.FileInfo, 0, len(names))
	for _, name := range names {
		fi, err := f.router.FileInfo(path.Join(dir, name))
		if err != nil {
			continue
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

func (f *FS) Open(p string, truncate bool) error {
	intent := capture.OpenExisting
	if truncate {
		intent = capture.TruncateExisting
	}
	return f.router.Create(p, intent)
}

func (f *FS) Create(p string) error {
	return f.router.Create(p, capture.CreateAlways)
}

func (f *FS) Mkdir(p string) error {
	return f.router.Mkdir(p)
}

func (f *FS) Read(p string, b []byte, offset int64) (int, error) {
	return f.router.Read(p, b, offset)
}

func (f *FS) Write(p string, b []byte, offset int64) (int, error) {
	return f.router.Write(p, b, offset)
}

func (f *FS) Truncate(p string, length int64) error {
	return f.router.Truncate(p, length)
}

func (f *FS) Close(p string) error {
	return f.router.Close(p)
}

func (f *FS) Remove(p string) error {
	return f.router.Remove(p)
}

var _ protocol.FileSystem = (*FS)(nil)
