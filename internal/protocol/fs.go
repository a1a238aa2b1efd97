package protocol

import (
	"errors"
	"hash/fnv"
	"io/fs"
	"path"
)

// FileSystem is the tree a Server exports. Paths are slash-separated, clean
// and rooted at "/". The server tracks fids itself; the filesystem only sees
// paths.
type FileSystem interface {
	Stat(path string) (fs.FileInfo, error)
	// ReadDir lists the entries of dir.
	ReadDir(dir string) ([]fs.FileInfo, error)
	// Open prepares an existing file for I/O, emptying it first when
	// truncate is set.
	Open(path string, truncate bool) error
	// Create makes a new file, replacing any existing one, and opens it.
	Create(path string) error
	Mkdir(path string) error
	Read(path string, p []byte, offset int64) (int, error)
	Write(path string, p []byte, offset int64) (int, error)
	Truncate(path string, length int64) error
	// Close is called once for every successful Open or Create.
	Close(path string) error
	Remove(path string) error
}

// Error is a 9P error string.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound     Error = "file not found"
	ErrPermission   Error = "permission denied"
	ErrNotDir       Error = "not a directory"
	ErrIsDir        Error = "is a directory"
	ErrExists       Error = "file already exists"
	ErrBadFid       Error = "bad fid"
	ErrFidInUse     Error = "fid already in use"
	ErrFidOpen      Error = "fid already open"
	ErrFidNotOpen   Error = "fid not open"
	ErrBadOffset    Error = "bad offset"
	ErrNoAuth       Error = "authentication not required"
	ErrShortMessage Error = "message too short"
	ErrMessageSize  Error = "bad message size"
	ErrWalkTooLong  Error = "too many walk elements"
	ErrBadName      Error = "bad file name"
)

// errorString maps err onto the text sent in Rerror.
func errorString(err error) string {
	var perr Error
	switch {
	case errors.As(err, &perr):
		return string(perr)
	case errors.Is(err, fs.ErrNotExist):
		return string(ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return string(ErrExists)
	case errors.Is(err, fs.ErrPermission):
		return string(ErrPermission)
	}
	return err.Error()
}

// QidPath derives a stable qid path from a file path.
func QidPath(p string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(p))
	return h.Sum64()
}

func qidFor(p string, fi fs.FileInfo) Qid {
	q := Qid{Path: QidPath(p), Type: QTFILE}
	if fi != nil {
		if fi.IsDir() {
			q.Type = QTDIR
		}
		q.Version = uint32(fi.ModTime().Unix())
	}
	return q
}

// owner is reported as uid, gid and muid of every file.
const owner = "demo"

// statFor converts fi into a 9P stat entry for p.
func statFor(p string, fi fs.FileInfo) Stat {
	name := path.Base(p)
	mode := uint32(fi.Mode().Perm())
	length := uint64(fi.Size())
	if fi.IsDir() {
		mode |= DMDIR
		length = 0
	}
	mtime := uint32(fi.ModTime().Unix())
	return Stat{
		Qid:    qidFor(p, fi),
		Mode:   mode,
		Atime:  mtime,
		Mtime:  mtime,
		Length: length,
		Name:   name,
		Uid:    owner,
		Gid:    owner,
		Muid:   owner,
	}
}

// validName rejects names that would escape the directory being walked or
// created in.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && path.Base(name) == name && name != "/"
}
