package protocol

import "fmt"

// Message is implemented by every 9P message.
type Message interface {
	Type() uint8
	Encode(buf []byte) int
}

// TversionMsg negotiates the protocol version and message size.
type TversionMsg struct {
	Msize   uint32
	Version string
}

func (m *TversionMsg) Type() uint8 { return Tversion }

func (m *TversionMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Msize)
	w.str(m.Version)
	return w.n
}

func DecodeTversion(buf []byte) (*TversionMsg, error) {
	r := reader{buf: buf}
	m := &TversionMsg{Msize: r.u32(), Version: r.str()}
	return m, r.done(Tversion)
}

type RversionMsg struct {
	Msize   uint32
	Version string
}

func (m *RversionMsg) Type() uint8 { return Rversion }

func (m *RversionMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Msize)
	w.str(m.Version)
	return w.n
}

// TattachMsg binds Fid to the root of the exported tree.
type TattachMsg struct {
	Fid   uint32
	Afid  uint32
	Uname string
	Aname string
}

func (m *TattachMsg) Type() uint8 { return Tattach }

func (m *TattachMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.u32(m.Afid)
	w.str(m.Uname)
	w.str(m.Aname)
	return w.n
}

func DecodeTattach(buf []byte) (*TattachMsg, error) {
	r := reader{buf: buf}
	m := &TattachMsg{Fid: r.u32(), Afid: r.u32(), Uname: r.str(), Aname: r.str()}
	return m, r.done(Tattach)
}

type RattachMsg struct {
	Qid Qid
}

func (m *RattachMsg) Type() uint8 { return Rattach }

func (m *RattachMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.qid(m.Qid)
	return w.n
}

// TwalkMsg walks Newfid from Fid through Names.
type TwalkMsg struct {
	Fid    uint32
	Newfid uint32
	Names  []string
}

func (m *TwalkMsg) Type() uint8 { return Twalk }

func (m *TwalkMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.u32(m.Newfid)
	w.u16(uint16(len(m.Names)))
	for _, name := range m.Names {
		w.str(name)
	}
	return w.n
}

// maxWalkElements is the 9P limit on names per Twalk.
const maxWalkElements = 16

func DecodeTwalk(buf []byte) (*TwalkMsg, error) {
	r := reader{buf: buf}
	m := &TwalkMsg{Fid: r.u32(), Newfid: r.u32()}
	n := int(r.u16())
	if n > maxWalkElements {
		return nil, fmt.Errorf("Twalk: %d names: %w", n, ErrWalkTooLong)
	}
	m.Names = make([]string, 0, n)
	for range n {
		m.Names = append(m.Names, r.str())
	}
	return m, r.done(Twalk)
}

// RwalkMsg carries one qid per element walked.
type RwalkMsg struct {
	Qids []Qid
}

func (m *RwalkMsg) Type() uint8 { return Rwalk }

func (m *RwalkMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u16(uint16(len(m.Qids)))
	for _, q := range m.Qids {
		w.qid(q)
	}
	return w.n
}

func DecodeRwalk(buf []byte) (*RwalkMsg, error) {
	r := reader{buf: buf}
	m := &RwalkMsg{Qids: make([]Qid, r.u16())}
	for i := range m.Qids {
		m.Qids[i] = r.qid()
	}
	return m, r.done(Rwalk)
}

type TopenMsg struct {
	Fid  uint32
	Mode uint8
}

func (m *TopenMsg) Type() uint8 { return Topen }

func (m *TopenMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.u8(m.Mode)
	return w.n
}

func DecodeTopen(buf []byte) (*TopenMsg, error) {
	r := reader{buf: buf}
	m := &TopenMsg{Fid: r.u32(), Mode: r.u8()}
	return m, r.done(Topen)
}

// RopenMsg answers both Topen and Tcreate.
type RopenMsg struct {
	Qid    Qid
	Iounit uint32
}

func (m *RopenMsg) Type() uint8 { return Ropen }

func (m *RopenMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.qid(m.Qid)
	w.u32(m.Iounit)
	return w.n
}

func DecodeRopen(buf []byte) (*RopenMsg, error) {
	r := reader{buf: buf}
	m := &RopenMsg{Qid: r.qid(), Iounit: r.u32()}
	return m, r.done(Ropen)
}

// TcreateMsg creates Name in the directory Fid refers to and opens it.
type TcreateMsg struct {
	Fid  uint32
	Name string
	Perm uint32
	Mode uint8
}

func (m *TcreateMsg) Type() uint8 { return Tcreate }

func (m *TcreateMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.str(m.Name)
	w.u32(m.Perm)
	w.u8(m.Mode)
	return w.n
}

func DecodeTcreate(buf []byte) (*TcreateMsg, error) {
	r := reader{buf: buf}
	m := &TcreateMsg{Fid: r.u32(), Name: r.str(), Perm: r.u32(), Mode: r.u8()}
	return m, r.done(Tcreate)
}

type TreadMsg struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

func (m *TreadMsg) Type() uint8 { return Tread }

func (m *TreadMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.u64(m.Offset)
	w.u32(m.Count)
	return w.n
}

func DecodeTread(buf []byte) (*TreadMsg, error) {
	r := reader{buf: buf}
	m := &TreadMsg{Fid: r.u32(), Offset: r.u64(), Count: r.u32()}
	return m, r.done(Tread)
}

type RreadMsg struct {
	Data []byte
}

func (m *RreadMsg) Type() uint8 { return Rread }

func (m *RreadMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.data(m.Data)
	return w.n
}

func DecodeRread(buf []byte) (*RreadMsg, error) {
	r := reader{buf: buf}
	m := &RreadMsg{Data: r.bytes(int(r.u32()))}
	return m, r.done(Rread)
}

type TwriteMsg struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

func (m *TwriteMsg) Type() uint8 { return Twrite }

func (m *TwriteMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.u64(m.Offset)
	w.data(m.Data)
	return w.n
}

// DecodeTwrite aliases Data into buf.
func DecodeTwrite(buf []byte) (*TwriteMsg, error) {
	r := reader{buf: buf}
	m := &TwriteMsg{Fid: r.u32(), Offset: r.u64()}
	m.Data = r.bytes(int(r.u32()))
	return m, r.done(Twrite)
}

type RwriteMsg struct {
	Count uint32
}

func (m *RwriteMsg) Type() uint8 { return Rwrite }

func (m *RwriteMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Count)
	return w.n
}

func DecodeRwrite(buf []byte) (*RwriteMsg, error) {
	r := reader{buf: buf}
	m := &RwriteMsg{Count: r.u32()}
	return m, r.done(Rwrite)
}

// TfidMsg is the shape shared by Tclunk, Tremove and Tstat: a lone fid.
type TfidMsg struct {
	MsgType uint8
	Fid     uint32
}

func (m *TfidMsg) Type() uint8 { return m.MsgType }

func (m *TfidMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	return w.n
}

func DecodeTfid(t uint8, buf []byte) (*TfidMsg, error) {
	r := reader{buf: buf}
	m := &TfidMsg{MsgType: t, Fid: r.u32()}
	return m, r.done(t)
}

// emptyMsg is an R-message with no payload: Rclunk, Rremove, Rwstat, Rflush.
type emptyMsg uint8

func (m emptyMsg) Type() uint8           { return uint8(m) }
func (m emptyMsg) Encode(buf []byte) int { return 0 }

// RstatMsg wraps the stat entry in a second size prefix.
type RstatMsg struct {
	Stat Stat
}

func (m *RstatMsg) Type() uint8 { return Rstat }

func (m *RstatMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u16(uint16(m.Stat.StatSize()))
	w.stat(m.Stat)
	return w.n
}

func DecodeRstat(buf []byte) (*RstatMsg, error) {
	r := reader{buf: buf}
	r.u16()
	m := &RstatMsg{Stat: r.stat()}
	return m, r.done(Rstat)
}

// TwstatMsg changes file metadata. Fields set to their "don't touch" value
// (all ones, or empty strings) are left alone.
type TwstatMsg struct {
	Fid  uint32
	Stat Stat
}

func (m *TwstatMsg) Type() uint8 { return Twstat }

func (m *TwstatMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u32(m.Fid)
	w.u16(uint16(m.Stat.StatSize()))
	w.stat(m.Stat)
	return w.n
}

func DecodeTwstat(buf []byte) (*TwstatMsg, error) {
	r := reader{buf: buf}
	m := &TwstatMsg{Fid: r.u32()}
	r.u16()
	m.Stat = r.stat()
	return m, r.done(Twstat)
}

// DontTouchStat returns a stat whose every field means "unchanged".
func DontTouchStat() Stat {
	return Stat{
		Type:   ^uint16(0),
		Dev:    ^uint32(0),
		Qid:    Qid{Type: ^uint8(0), Version: ^uint32(0), Path: ^uint64(0)},
		Mode:   ^uint32(0),
		Atime:  ^uint32(0),
		Mtime:  ^uint32(0),
		Length: NoLength,
	}
}

type RerrorMsg struct {
	Ename string
}

func (m *RerrorMsg) Type() uint8 { return Rerror }

func (m *RerrorMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.str(m.Ename)
	return w.n
}

func DecodeRerror(buf []byte) (*RerrorMsg, error) {
	r := reader{buf: buf}
	m := &RerrorMsg{Ename: r.str()}
	return m, r.done(Rerror)
}

type TflushMsg struct {
	Oldtag uint16
}

func (m *TflushMsg) Type() uint8 { return Tflush }

func (m *TflushMsg) Encode(buf []byte) int {
	w := writer{buf: buf}
	w.u16(m.Oldtag)
	return w.n
}

func DecodeTflush(buf []byte) (*TflushMsg, error) {
	r := reader{buf: buf}
	m := &TflushMsg{Oldtag: r.u16()}
	return m, r.done(Tflush)
}
