package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// statFixedSize is the size of a stat entry with empty strings, excluding
// its own size prefix.
const statFixedSize = 2 + 4 + 13 + 4 + 4 + 4 + 8 + 4*2

// reader consumes a payload front to back. The first short read sets err
// and every later call returns zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.buf) < n {
		r.err = ErrShortMessage
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[:n:n]
	r.buf = r.buf[n:]
	return v
}

func (r *reader) str() string {
	return string(r.bytes(int(r.u16())))
}

func (r *reader) qid() Qid {
	return Qid{Type: r.u8(), Version: r.u32(), Path: r.u64()}
}

// stat reads one size-prefixed stat entry. The entry must hold every field;
// bytes past the last string are skipped.
func (r *reader) stat() Stat {
	size := r.u16()
	body := r.bytes(int(size))
	if r.err != nil {
		return Stat{}
	}
	if size < statFixedSize {
		r.err = ErrShortMessage
		return Stat{}
	}
	sr := reader{buf: body}
	st := Stat{
		Size:   size,
		Type:   sr.u16(),
		Dev:    sr.u32(),
		Qid:    sr.qid(),
		Mode:   sr.u32(),
		Atime:  sr.u32(),
		Mtime:  sr.u32(),
		Length: sr.u64(),
		Name:   sr.str(),
		Uid:    sr.str(),
		Gid:    sr.str(),
		Muid:   sr.str(),
	}
	if sr.err != nil {
		r.err = sr.err
		return Stat{}
	}
	return st
}

// done returns the first decode error, naming the message it happened in.
func (r *reader) done(t uint8) error {
	if r.err != nil {
		return fmt.Errorf("%s: %w", MessageName(t), r.err)
	}
	return nil
}

// writer fills an encode buffer.
type writer struct {
	buf []byte
	n   int
}

func (w *writer) u8(v uint8) {
	w.buf[w.n] = v
	w.n++
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.n:], v)
	w.n += 2
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.n:], v)
	w.n += 4
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.n:], v)
	w.n += 8
}

func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	w.n += copy(w.buf[w.n:], s)
}

func (w *writer) qid(q Qid) {
	w.u8(q.Type)
	w.u32(q.Version)
	w.u64(q.Path)
}

func (w *writer) data(p []byte) {
	w.u32(uint32(len(p)))
	w.n += copy(w.buf[w.n:], p)
}

// stat writes st with its size prefix, which is computed from the fields
// rather than taken from st.Size.
func (w *writer) stat(st Stat) {
	start := w.n
	w.u16(0)
	w.u16(st.Type)
	w.u32(st.Dev)
	w.qid(st.Qid)
	w.u32(st.Mode)
	w.u32(st.Atime)
	w.u32(st.Mtime)
	w.u64(st.Length)
	w.str(st.Name)
	w.str(st.Uid)
	w.str(st.Gid)
	w.str(st.Muid)
	binary.LittleEndian.PutUint16(w.buf[start:], uint16(w.n-start-2))
}

// StatSize is the encoded size of s including its size prefix.
func (s *Stat) StatSize() int {
	return 2 + statFixedSize + len(s.Name) + len(s.Uid) + len(s.Gid) + len(s.Muid)
}

// MarshalStat returns the wire form of st, size prefix included, as it
// appears in a directory read.
func MarshalStat(st Stat) []byte {
	w := writer{buf: make([]byte, st.StatSize())}
	w.stat(st)
	return w.buf
}

// UnmarshalStat decodes the stat entry at the front of buf and reports how
// many bytes it took.
func UnmarshalStat(buf []byte) (Stat, int, error) {
	r := reader{buf: buf}
	st := r.stat()
	if r.err != nil {
		return Stat{}, 0, r.err
	}
	return st, len(buf) - len(r.buf), nil
}

// frameHeader is size[4] type[1] tag[2].
const frameHeader = 7

// Transport frames messages on a byte stream. It is not safe for concurrent
// use; a connection has one reader and one writer.
type Transport struct {
	rw   io.ReadWriter
	rbuf []byte
	wbuf []byte
}

// NewTransport frames messages of up to MaxMessageSize bytes on rw.
func NewTransport(rw io.ReadWriter) *Transport {
	return &Transport{
		rw:   rw,
		rbuf: make([]byte, MaxMessageSize),
		wbuf: make([]byte, MaxMessageSize),
	}
}

// Recv reads the next message. payload is only valid until the next Recv.
func (t *Transport) Recv() (msgType uint8, tag uint16, payload []byte, err error) {
	if _, err := io.ReadFull(t.rw, t.rbuf[:4]); err != nil {
		return 0, 0, nil, fmt.Errorf("reading size: %w", err)
	}
	hdr := reader{buf: t.rbuf[:4]}
	size := hdr.u32()
	if size < frameHeader || size > MaxMessageSize {
		return 0, 0, nil, fmt.Errorf("%w: %d", ErrMessageSize, size)
	}

	body := t.rbuf[4:size]
	if _, err := io.ReadFull(t.rw, body); err != nil {
		return 0, 0, nil, fmt.Errorf("reading message: %w", err)
	}
	r := reader{buf: body}
	msgType, tag = r.u8(), r.u16()
	return msgType, tag, r.buf, nil
}

// Send encodes m under tag and writes it out, returning the frame size.
func (t *Transport) Send(tag uint16, m Message) (int, error) {
	n := m.Encode(t.wbuf[frameHeader:])
	size := frameHeader + n
	w := writer{buf: t.wbuf}
	w.u32(uint32(size))
	w.u8(m.Type())
	w.u16(tag)
	if _, err := t.rw.Write(t.wbuf[:size]); err != nil {
		return 0, err
	}
	return size, nil
}
