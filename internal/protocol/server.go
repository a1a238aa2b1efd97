package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net"
	"path"
	"sync"
	"sync/atomic"
)

// Server exports a FileSystem over 9P2000.
type Server struct {
	fs    FileSystem
	debug atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// fid is the server side of a client fid.
type fid struct {
	path   string
	isDir  bool
	opened bool
	mode   uint8

	// listing holds the packed directory entries captured by the read at
	// offset zero; later reads continue from it.
	listing []byte
}

// connState tracks the fids of one connection.
type connState struct {
	fids  map[uint32]*fid
	msize uint32
}

// NewServer creates a server exporting fsys.
func NewServer(fsys FileSystem) *Server {
	return &Server{
		fs:    fsys,
		conns: make(map[net.Conn]struct{}),
	}
}

// SetDebug traces every message at debug level.
func (s *Server) SetDebug(debug bool) {
	s.debug.Store(debug)
}

// Serve accepts connections until ctx is done, then closes the listener and
// every open connection.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
		s.closeAll()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Warn("9p accept failed", "error", err)
			continue
		}
		go s.ServeConn(conn)
	}
}

// ServeConn serves a single connection until it closes.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := slog.With("remote", conn.RemoteAddr().String())
	log.Debug("9p client connected")

	state := &connState{
		fids:  make(map[uint32]*fid),
		msize: MaxMessageSize,
	}
	defer s.clunkAll(state)

	tr := NewTransport(conn)
	for {
		msgType, tag, payload, err := tr.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("9p read failed", "error", err)
			}
			return
		}
		if s.debug.Load() {
			log.Debug("9p <", "type", MessageName(msgType), "tag", tag, "len", len(payload))
		}

		resp := s.handleMessage(state, msgType, payload)
		n, err := tr.Send(tag, resp)
		if err != nil {
			log.Warn("9p write failed", "error", err)
			return
		}
		if s.debug.Load() {
			log.Debug("9p >", "type", MessageName(resp.Type()), "tag", tag, "len", n)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// clunkAll closes whatever the client left open when it went away.
func (s *Server) clunkAll(state *connState) {
	for id := range state.fids {
		s.release(state, id)
	}
}

// release forgets a fid, closing it on the filesystem if it was opened.
func (s *Server) release(state *connState, id uint32) error {
	f := state.fids[id]
	delete(state.fids, id)
	if f == nil || !f.opened || f.isDir {
		return nil
	}
	return s.fs.Close(f.path)
}

func (s *Server) handleMessage(state *connState, msgType uint8, payload []byte) Message {
	var (
		resp Message
		err  error
	)
	switch msgType {
	case Tversion:
		resp, err = s.handleVersion(state, payload)
	case Tauth:
		err = ErrNoAuth
	case Tattach:
		resp, err = s.handleAttach(state, payload)
	case Tflush:
		_, err = DecodeTflush(payload)
		resp = emptyMsg(Rflush)
	case Twalk:
		resp, err = s.handleWalk(state, payload)
	case Topen:
		resp, err = s.handleOpen(state, payload)
	case Tcreate:
		resp, err = s.handleCreate(state, payload)
	case Tread:
		resp, err = s.handleRead(state, payload)
	case Twrite:
		resp, err = s.handleWrite(state, payload)
	case Tclunk:
		resp, err = s.handleClunk(state, payload)
	case Tremove:
		resp, err = s.handleRemove(state, payload)
	case Tstat:
		resp, err = s.handleStat(state, payload)
	case Twstat:
		resp, err = s.handleWstat(state, payload)
	default:
		err = Error("unknown message type " + MessageName(msgType))
	}
	if err != nil {
		return &RerrorMsg{Ename: errorString(err)}
	}
	return resp
}

// minMessageSize leaves room for a stat entry with short names.
const minMessageSize = 256

func (s *Server) handleVersion(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTversion(payload)
	if err != nil {
		return nil, err
	}

	if msg.Msize < minMessageSize {
		return nil, ErrMessageSize
	}
	msize := min(msg.Msize, MaxMessageSize)
	version := Version
	if msg.Version != Version && msg.Version != "Styx" {
		version = "unknown"
	}

	// A new version starts a new session.
	s.clunkAll(state)
	state.msize = msize

	slog.Debug("9p version", "client", msg.Version, "version", version, "msize", msize)
	return &RversionMsg{Msize: msize, Version: version}, nil
}

func (s *Server) handleAttach(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTattach(payload)
	if err != nil {
		return nil, err
	}
	if _, exists := state.fids[msg.Fid]; exists {
		return nil, ErrFidInUse
	}

	fi, err := s.fs.Stat("/")
	if err != nil {
		return nil, err
	}
	state.fids[msg.Fid] = &fid{path: "/", isDir: true}
	return &RattachMsg{Qid: qidFor("/", fi)}, nil
}

func (s *Server) lookup(state *connState, id uint32) (*fid, error) {
	f, ok := state.fids[id]
	if !ok {
		return nil, ErrBadFid
	}
	return f, nil
}

func (s *Server) handleWalk(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTwalk(payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	if f.opened {
		return nil, ErrFidOpen
	}
	if msg.Fid != msg.Newfid {
		if _, exists := state.fids[msg.Newfid]; exists {
			return nil, ErrFidInUse
		}
	}

	cur, isDir := f.path, f.isDir
	qids := make([]Qid, 0, len(msg.Names))
	for i, name := range msg.Names {
		var next string
		switch {
		case !isDir:
			err = ErrNotDir
		case name == "..":
			next = path.Dir(cur)
		case !validName(name):
			err = ErrBadName
		default:
			next = path.Join(cur, name)
		}
		var fi fs.FileInfo
		if err == nil {
			info, serr := s.fs.Stat(next)
			if serr != nil {
				err = serr
			} else {
				qids = append(qids, qidFor(next, info))
				fi = info
			}
		}
		if err != nil {
			// The first element failing is an error; later ones end the
			// walk early.
			if i == 0 {
				return nil, err
			}
			break
		}
		cur, isDir = next, fi.IsDir()
	}

	if len(qids) == len(msg.Names) {
		state.fids[msg.Newfid] = &fid{path: cur, isDir: isDir}
	}
	return &RwalkMsg{Qids: qids}, nil
}

func (s *Server) iounit(state *connState) uint32 {
	return state.msize - IOHeaderSize
}

func (s *Server) handleOpen(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTopen(payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	if f.opened {
		return nil, ErrFidOpen
	}

	if f.isDir {
		if msg.Mode&3 != OREAD || msg.Mode&OTRUNC != 0 {
			return nil, ErrIsDir
		}
	} else if err := s.fs.Open(f.path, msg.Mode&OTRUNC != 0); err != nil {
		return nil, err
	}
	f.opened, f.mode = true, msg.Mode

	fi, _ := s.fs.Stat(f.path)
	return &RopenMsg{Qid: qidFor(f.path, fi), Iounit: s.iounit(state)}, nil
}

func (s *Server) handleCreate(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTcreate(payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	if f.opened {
		return nil, ErrFidOpen
	}
	if !f.isDir {
		return nil, ErrNotDir
	}
	if !validName(msg.Name) {
		return nil, ErrBadName
	}

	p := path.Join(f.path, msg.Name)
	isDir := msg.Perm&DMDIR != 0
	if isDir {
		err = s.fs.Mkdir(p)
	} else {
		err = s.fs.Create(p)
	}
	if err != nil {
		return nil, err
	}

	// The fid now refers to the new file, opened.
	f.path, f.isDir, f.opened, f.mode, f.listing = p, isDir, true, msg.Mode, nil

	fi, _ := s.fs.Stat(p)
	q := qidFor(p, fi)
	if isDir {
		q.Type = QTDIR
	}
	return &rcreateMsg{RopenMsg{Qid: q, Iounit: s.iounit(state)}}, nil
}

// Rcreate has the same payload as Ropen; only the type differs.
type rcreateMsg struct{ RopenMsg }

func (m *rcreateMsg) Type() uint8 { return Rcreate }

func (s *Server) handleRead(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTread(payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	if !f.opened {
		return nil, ErrFidNotOpen
	}

	count := min(msg.Count, s.iounit(state))
	if f.isDir {
		return s.readDir(f, msg.Offset, count)
	}

	offset, err := fileOffset(msg.Offset)
	if err != nil {
		return nil, err
	}
	data := make([]byte, count)
	n, err := s.fs.Read(f.path, data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &RreadMsg{Data: data[:n]}, nil
}

// readDir returns whole stat entries starting at offset. The listing is
// taken when a client reads offset zero and served from the fid afterwards.
func (s *Server) readDir(f *fid, offset uint64, count uint32) (Message, error) {
	if offset == 0 {
		infos, err := s.fs.ReadDir(f.path)
		if err != nil {
			return nil, err
		}
		f.listing = f.listing[:0]
		for _, fi := range infos {
			f.listing = append(f.listing, MarshalStat(statFor(path.Join(f.path, fi.Name()), fi))...)
		}
	}
	if offset > uint64(len(f.listing)) {
		return nil, ErrBadOffset
	}

	rest := f.listing[offset:]
	end := 0
	for end+2 <= len(rest) {
		size := 2 + int(binary.LittleEndian.Uint16(rest[end:]))
		if end+size > int(count) {
			break
		}
		end += size
	}
	return &RreadMsg{Data: rest[:end]}, nil
}

func (s *Server) handleWrite(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTwrite(payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	if !f.opened {
		return nil, ErrFidNotOpen
	}
	if f.isDir {
		return nil, ErrIsDir
	}
	if f.mode&3 == OREAD {
		return nil, ErrPermission
	}

	offset, err := fileOffset(msg.Offset)
	if err != nil {
		return nil, err
	}
	if offset > math.MaxInt64-int64(len(msg.Data)) {
		return nil, ErrBadOffset
	}
	n, err := s.fs.Write(f.path, msg.Data, offset)
	if err != nil {
		return nil, err
	}
	return &RwriteMsg{Count: uint32(n)}, nil
}

// fileOffset converts a wire offset or length. Values that do not fit an
// int64 are refused.
func fileOffset(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrBadOffset
	}
	return int64(v), nil
}

func (s *Server) handleClunk(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTfid(Tclunk, payload)
	if err != nil {
		return nil, err
	}
	if _, err := s.lookup(state, msg.Fid); err != nil {
		return nil, err
	}
	if err := s.release(state, msg.Fid); err != nil {
		return nil, err
	}
	return emptyMsg(Rclunk), nil
}

func (s *Server) handleRemove(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTfid(Tremove, payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}

	// Tremove clunks the fid even when the remove fails.
	closeErr := s.release(state, msg.Fid)
	if err := s.fs.Remove(f.path); err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return emptyMsg(Rremove), nil
}

func (s *Server) handleStat(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTfid(Tstat, payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	fi, err := s.fs.Stat(f.path)
	if err != nil {
		return nil, err
	}
	st := statFor(f.path, fi)
	if f.path == "/" {
		st.Name = "/"
	}
	return &RstatMsg{Stat: st}, nil
}

// handleWstat supports changing the length. Renames are refused; the other
// fields are accepted and ignored.
func (s *Server) handleWstat(state *connState, payload []byte) (Message, error) {
	msg, err := DecodeTwstat(payload)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(state, msg.Fid)
	if err != nil {
		return nil, err
	}
	if msg.Stat.Name != "" && msg.Stat.Name != path.Base(f.path) {
		return nil, ErrPermission
	}
	if msg.Stat.Length != NoLength {
		if f.isDir {
			return nil, ErrIsDir
		}
		length, err := fileOffset(msg.Stat.Length)
		if err != nil {
			return nil, err
		}
		if err := s.fs.Truncate(f.path, length); err != nil {
			return nil, err
		}
	}
	return emptyMsg(Rwstat), nil
}
