// Package protocol serves a path-addressed filesystem over 9P2000.
//
// Every message has a 4-byte size, 1-byte type and 2-byte tag, followed by a
// type-specific payload. The server handles one request at a time per
// connection; separate connections are served concurrently.
package protocol

import "fmt"

const (
	// Version is the only dialect the server speaks. "Styx" clients are
	// answered with it too.
	Version = "9P2000"

	// IOHeaderSize is the overhead of an Rread or Twrite around its data.
	IOHeaderSize = 24

	// MaxMessageSize bounds negotiated msize. Frame data arrives in Twrite
	// bursts, so it is large enough for a 64KiB payload.
	MaxMessageSize = 65536 + IOHeaderSize

	// NoLength in a Twstat leaves the file length unchanged.
	NoLength = ^uint64(0)

	NoTag uint16 = 0xFFFF
	// NoFid is the afid of an unauthenticated Tattach.
	NoFid uint32 = 0xFFFFFFFF
)

// Message types. T-messages are requests, R-messages their replies.
const (
	Tversion uint8 = 100
	Rversion uint8 = 101
	Tauth    uint8 = 102
	Rauth    uint8 = 103
	Tattach  uint8 = 104
	Rattach  uint8 = 105
	Terror   uint8 = 106 // never sent
	Rerror   uint8 = 107
	Tflush   uint8 = 108
	Rflush   uint8 = 109
	Twalk    uint8 = 110
	Rwalk    uint8 = 111
	Topen    uint8 = 112
	Ropen    uint8 = 113
	Tcreate  uint8 = 114
	Rcreate  uint8 = 115
	Tread    uint8 = 116
	Rread    uint8 = 117
	Twrite   uint8 = 118
	Rwrite   uint8 = 119
	Tclunk   uint8 = 120
	Rclunk   uint8 = 121
	Tremove  uint8 = 122
	Rremove  uint8 = 123
	Tstat    uint8 = 124
	Rstat    uint8 = 125
	Twstat   uint8 = 126
	Rwstat   uint8 = 127
)

// Topen and Tcreate modes. The low two bits select the access.
const (
	OREAD  uint8 = 0
	OWRITE uint8 = 1
	ORDWR  uint8 = 2
	OEXEC  uint8 = 3
	OTRUNC uint8 = 0x10
)

// Mode bits above the permission bits.
const (
	DMDIR    uint32 = 1 << 31
	DMAPPEND uint32 = 1 << 30
	DMEXCL   uint32 = 1 << 29
	DMTMP    uint32 = 1 << 26
)

// Qid identifies a file on the server. Path is stable for a given file
// path; Version follows its modification time.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// Qid.Type bits; they mirror the top byte of the mode.
const (
	QTFILE   uint8 = 0
	QTTMP    uint8 = 1 << 2
	QTEXCL   uint8 = 1 << 5
	QTAPPEND uint8 = 1 << 6
	QTDIR    uint8 = 1 << 7
)

// Stat is a directory entry. Size is filled in on decode only; encoding
// computes it from the other fields.
type Stat struct {
	Size   uint16
	Type   uint16
	Dev    uint32
	Qid    Qid
	Mode   uint32
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	Uid    string
	Gid    string
	Muid   string // user who last modified the file
}

var messageNames = map[uint8]string{
	Tversion: "Tversion", Rversion: "Rversion",
	Tauth: "Tauth", Rauth: "Rauth",
	Tattach: "Tattach", Rattach: "Rattach",
	Rerror: "Rerror",
	Tflush: "Tflush", Rflush: "Rflush",
	Twalk: "Twalk", Rwalk: "Rwalk",
	Topen: "Topen", Ropen: "Ropen",
	Tcreate: "Tcreate", Rcreate: "Rcreate",
	Tread: "Tread", Rread: "Rread",
	Twrite: "Twrite", Rwrite: "Rwrite",
	Tclunk: "Tclunk", Rclunk: "Rclunk",
	Tremove: "Tremove", Rremove: "Rremove",
	Tstat: "Tstat", Rstat: "Rstat",
	Twstat: "Twstat", Rwstat: "Rwstat",
}

// MessageName returns the name of a message type for logs.
func MessageName(t uint8) string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", t)
}
