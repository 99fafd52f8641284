// Package ninep implements the 9P2000 wire protocol: message framing,
// Qid/Dir packing, a decoded Fcall representation, and in-place header
// edits for code that must forward payloads without decoding them.
package ninep

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message types. Rerror has no corresponding T message.
const (
	Tversion = 100
	Rversion = 101
	Tauth    = 102
	Rauth    = 103
	Tattach  = 104
	Rattach  = 105
	Rerror   = 107
	Tflush   = 108
	Rflush   = 109
	Twalk    = 110
	Rwalk    = 111
	Topen    = 112
	Ropen    = 113
	Tcreate  = 114
	Rcreate  = 115
	Tread    = 116
	Rread    = 117
	Twrite   = 118
	Rwrite   = 119
	Tclunk   = 120
	Rclunk   = 121
	Tremove  = 122
	Rremove  = 123
	Tstat    = 124
	Rstat    = 125
	Twstat   = 126
	Rwstat   = 127
)

// NOTAG is the sentinel tag used only for Tversion.
const NOTAG uint16 = 0xFFFF

// NOFID is the sentinel fid meaning "no fid" (e.g. Tattach with no afid).
const NOFID uint32 = 0xFFFFFFFF

// Open/create mode bits.
const (
	OREAD  = 0
	OWRITE = 1
	ORDWR  = 2
	OEXEC  = 3
	OTRUNC = 0x10
)

// Qid type bits.
const (
	QTDIR    = 0x80
	QTAPPEND = 0x40
	QTFILE   = 0x00
)

// Dir.Mode directory bit, matching Plan-9's DMDIR.
const DMDIR = 0x80000000

// MaxMsize is the upper bound this core ever negotiates or offers,
// independent of what a client asks for.
const MaxMsize = 64 * 1024

// headerLen is size(4) + type(1) + tag(2).
const headerLen = 7

// Qid identifies a logical file: its kind, a version counter bumped on
// content change, and a path unique for the server's lifetime.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// IsDir reports whether the qid denotes a directory.
func (q Qid) IsDir() bool {
	return q.Type&QTDIR != 0
}

func (q Qid) marshal(buf []byte) []byte {
	buf = append(buf, q.Type)
	buf = appendUint32(buf, q.Version)
	buf = appendUint64(buf, q.Path)
	return buf
}

func unmarshalQid(buf []byte) (Qid, []byte, error) {
	if len(buf) < 13 {
		return Qid{}, nil, fmt.Errorf("ninep: short qid")
	}
	q := Qid{
		Type:    buf[0],
		Version: binary.LittleEndian.Uint32(buf[1:5]),
		Path:    binary.LittleEndian.Uint64(buf[5:13]),
	}
	return q, buf[13:], nil
}

// Dir is the decoded form of a stat entry (the structure returned by
// Tstat and found in directory Rread bodies).
type Dir struct {
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
	Muid   string
}

// Bytes packs d into a stat entry, including its 2-byte length prefix.
func (d Dir) Bytes() []byte {
	body := make([]byte, 0, 64+len(d.Name)+len(d.Uid)+len(d.Gid)+len(d.Muid))
	body = appendUint16(body, d.Type)
	body = appendUint32(body, d.Dev)
	body = d.Qid.marshal(body)
	body = appendUint32(body, d.Mode)
	body = appendUint32(body, d.Atime)
	body = appendUint32(body, d.Mtime)
	body = appendUint64(body, d.Length)
	body = appendString(body, d.Name)
	body = appendString(body, d.Uid)
	body = appendString(body, d.Gid)
	body = appendString(body, d.Muid)
	buf := make([]byte, 0, len(body)+2)
	buf = appendUint16(buf, uint16(len(body)))
	buf = append(buf, body...)
	return buf
}

// UnmarshalDir decodes one length-prefixed stat entry from the front of
// buf, returning the decoded Dir and the bytes following it.
func UnmarshalDir(buf []byte) (Dir, []byte, error) {
	if len(buf) < 2 {
		return Dir{}, nil, fmt.Errorf("ninep: short stat")
	}
	n := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return Dir{}, nil, fmt.Errorf("ninep: truncated stat")
	}
	rest := buf[n:]
	buf = buf[:n]

	var d Dir
	var err error
	d.Type, buf, err = takeUint16(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Dev, buf, err = takeUint32(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Qid, buf, err = unmarshalQid(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Mode, buf, err = takeUint32(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Atime, buf, err = takeUint32(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Mtime, buf, err = takeUint32(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Length, buf, err = takeUint64(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Name, buf, err = takeString(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Uid, buf, err = takeString(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Gid, buf, err = takeString(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	d.Muid, _, err = takeString(buf)
	if err != nil {
		return Dir{}, nil, err
	}
	return d, rest, nil
}

// Fcall is the decoded form of a 9P2000 message. Only the fields
// relevant to the message's Type are meaningful.
type Fcall struct {
	Type    uint8
	Tag     uint16
	Fid     uint32
	Afid    uint32
	Newfid  uint32
	Msize   uint32
	Version string
	Uname   string
	Aname   string
	Ename   string
	Qid     Qid
	Wqid    []Qid
	Wname   []string
	Mode    uint8
	Iounit  uint32
	Offset  uint64
	Count   uint32
	Data    []byte
	Stat    []byte
}

// Bytes encodes f into a complete framed message, including the 4-byte
// size prefix.
func (f *Fcall) Bytes() ([]byte, error) {
	body := make([]byte, 0, 64+len(f.Data)+len(f.Stat))
	body = append(body, f.Type)
	body = appendUint16(body, f.Tag)
	switch f.Type {
	case Tversion, Rversion:
		body = appendUint32(body, f.Msize)
		body = appendString(body, f.Version)
	case Tauth:
		body = appendUint32(body, f.Afid)
		body = appendString(body, f.Uname)
		body = appendString(body, f.Aname)
	case Rauth:
		body = f.Qid.marshal(body)
	case Tattach:
		body = appendUint32(body, f.Fid)
		body = appendUint32(body, f.Afid)
		body = appendString(body, f.Uname)
		body = appendString(body, f.Aname)
	case Rattach:
		body = f.Qid.marshal(body)
	case Rerror:
		body = appendString(body, f.Ename)
	case Tflush:
		body = appendUint16(body, f.Tag2())
	case Rflush:
		// no body
	case Twalk:
		body = appendUint32(body, f.Fid)
		body = appendUint32(body, f.Newfid)
		body = appendUint16(body, uint16(len(f.Wname)))
		for _, n := range f.Wname {
			body = appendString(body, n)
		}
	case Rwalk:
		body = appendUint16(body, uint16(len(f.Wqid)))
		for _, q := range f.Wqid {
			body = q.marshal(body)
		}
	case Topen:
		body = appendUint32(body, f.Fid)
		body = append(body, f.Mode)
	case Ropen:
		body = f.Qid.marshal(body)
		body = appendUint32(body, f.Iounit)
	case Tcreate:
		body = appendUint32(body, f.Fid)
		body = appendString(body, f.Uname) // name reuses Uname slot
		body = appendUint32(body, f.Msize) // perm reuses Msize slot
		body = append(body, f.Mode)
	case Rcreate:
		body = f.Qid.marshal(body)
		body = appendUint32(body, f.Iounit)
	case Tread:
		body = appendUint32(body, f.Fid)
		body = appendUint64(body, f.Offset)
		body = appendUint32(body, f.Count)
	case Rread:
		body = appendUint32(body, uint32(len(f.Data)))
		body = append(body, f.Data...)
	case Twrite:
		body = appendUint32(body, f.Fid)
		body = appendUint64(body, f.Offset)
		body = appendUint32(body, uint32(len(f.Data)))
		body = append(body, f.Data...)
	case Rwrite:
		body = appendUint32(body, f.Count)
	case Tclunk, Tremove:
		body = appendUint32(body, f.Fid)
	case Rclunk, Rremove:
		// no body
	case Tstat:
		body = appendUint32(body, f.Fid)
	case Rstat:
		body = appendUint16(body, uint16(len(f.Stat)))
		body = append(body, f.Stat...)
	case Twstat:
		body = appendUint32(body, f.Fid)
		body = appendUint16(body, uint16(len(f.Stat)))
		body = append(body, f.Stat...)
	case Rwstat:
		// no body
	default:
		return nil, fmt.Errorf("ninep: unknown message type %d", f.Type)
	}
	out := make([]byte, 0, 4+len(body))
	out = appendUint32(out, uint32(4+len(body)))
	out = append(out, body...)
	return out, nil
}

// Tag2 returns the oldtag field of a Tflush message; Tflush overloads
// the Afid-shaped slot for it so callers can set f.Afid directly too.
func (f *Fcall) Tag2() uint16 {
	return uint16(f.Afid)
}

// SetTag2 sets the oldtag field of a Tflush message.
func (f *Fcall) SetTag2(oldtag uint16) {
	f.Afid = uint32(oldtag)
}

// UnmarshalFcall decodes the body of one message (without its 4-byte
// size prefix, which the caller has already consumed via ReadFrame).
func UnmarshalFcall(buf []byte) (*Fcall, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("ninep: short message")
	}
	f := &Fcall{Type: buf[0]}
	var err error
	f.Tag, buf, err = takeUint16(buf[1:])
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case Tversion, Rversion:
		f.Msize, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Version, _, err = takeString(buf)
	case Tauth:
		f.Afid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Uname, buf, err = takeString(buf)
		if err != nil {
			return nil, err
		}
		f.Aname, _, err = takeString(buf)
	case Rauth:
		f.Qid, _, err = unmarshalQid(buf)
	case Tattach:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Afid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Uname, buf, err = takeString(buf)
		if err != nil {
			return nil, err
		}
		f.Aname, _, err = takeString(buf)
	case Rattach:
		f.Qid, _, err = unmarshalQid(buf)
	case Rerror:
		f.Ename, _, err = takeString(buf)
	case Tflush:
		var oldtag uint16
		oldtag, _, err = takeUint16(buf)
		f.SetTag2(oldtag)
	case Rflush:
	case Twalk:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Newfid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		var n uint16
		n, buf, err = takeUint16(buf)
		if err != nil {
			return nil, err
		}
		f.Wname = make([]string, n)
		for i := range f.Wname {
			f.Wname[i], buf, err = takeString(buf)
			if err != nil {
				return nil, err
			}
		}
	case Rwalk:
		var n uint16
		n, buf, err = takeUint16(buf)
		if err != nil {
			return nil, err
		}
		f.Wqid = make([]Qid, n)
		for i := range f.Wqid {
			f.Wqid[i], buf, err = unmarshalQid(buf)
			if err != nil {
				return nil, err
			}
		}
	case Topen:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		if len(buf) < 1 {
			return nil, fmt.Errorf("ninep: short Topen")
		}
		f.Mode = buf[0]
	case Ropen, Rcreate:
		f.Qid, buf, err = unmarshalQid(buf)
		if err != nil {
			return nil, err
		}
		f.Iounit, _, err = takeUint32(buf)
	case Tcreate:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Uname, buf, err = takeString(buf)
		if err != nil {
			return nil, err
		}
		f.Msize, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		if len(buf) < 1 {
			return nil, fmt.Errorf("ninep: short Tcreate")
		}
		f.Mode = buf[0]
	case Tread:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Offset, buf, err = takeUint64(buf)
		if err != nil {
			return nil, err
		}
		f.Count, _, err = takeUint32(buf)
	case Rread:
		var n uint32
		n, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		if uint32(len(buf)) < n {
			return nil, fmt.Errorf("ninep: truncated Rread data")
		}
		f.Data = buf[:n]
	case Twrite:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		f.Offset, buf, err = takeUint64(buf)
		if err != nil {
			return nil, err
		}
		var n uint32
		n, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		if uint32(len(buf)) < n {
			return nil, fmt.Errorf("ninep: truncated Twrite data")
		}
		f.Data = buf[:n]
	case Rwrite:
		f.Count, _, err = takeUint32(buf)
	case Tclunk, Tremove:
		f.Fid, _, err = takeUint32(buf)
	case Rclunk, Rremove, Rwstat:
	case Tstat:
		f.Fid, _, err = takeUint32(buf)
	case Rstat:
		var n uint16
		n, buf, err = takeUint16(buf)
		if err != nil {
			return nil, err
		}
		if uint16(len(buf)) < n {
			return nil, fmt.Errorf("ninep: truncated stat")
		}
		f.Stat = buf[:n]
	case Twstat:
		f.Fid, buf, err = takeUint32(buf)
		if err != nil {
			return nil, err
		}
		var n uint16
		n, buf, err = takeUint16(buf)
		if err != nil {
			return nil, err
		}
		if uint16(len(buf)) < n {
			return nil, fmt.Errorf("ninep: truncated stat")
		}
		f.Stat = buf[:n]
	default:
		return nil, fmt.Errorf("ninep: unknown message type %d", f.Type)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFrame reads one complete 9P message (size prefix included) from r,
// refusing anything larger than maxSize+256 as a protocol violation, per
// the slack the core allows beyond the negotiated msize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < headerLen {
		return nil, fmt.Errorf("ninep: message too short (%d bytes)", size)
	}
	if maxSize != 0 && size > maxSize+256 {
		return nil, fmt.Errorf("ninep: message too large (%d bytes, limit %d)", size, maxSize+256)
	}
	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFcall reads and decodes one message from r.
func ReadFcall(r io.Reader, maxSize uint32) (*Fcall, error) {
	buf, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return UnmarshalFcall(buf[4:])
}

// WriteFcall encodes and writes one message to w.
func WriteFcall(w io.Writer, f *Fcall) error {
	buf, err := f.Bytes()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func takeUint16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, fmt.Errorf("ninep: short uint16")
	}
	return binary.LittleEndian.Uint16(buf), buf[2:], nil
}

func takeUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("ninep: short uint32")
	}
	return binary.LittleEndian.Uint32(buf), buf[4:], nil
}

func takeUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("ninep: short uint64")
	}
	return binary.LittleEndian.Uint64(buf), buf[8:], nil
}

func takeString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("ninep: short string length")
	}
	n := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("ninep: truncated string")
	}
	return string(buf[:n]), buf[n:], nil
}
