package ninep

import "fmt"

// Raw header field offsets within a frame, counting from the start of
// the frame (including the 4-byte size prefix). The primary fid for
// every T-message that carries one sits at offset 7; Twalk's newfid and
// Tattach's afid sit at offset 11.
const (
	offType   = 4
	offTag    = 5
	offFid    = 7
	offFid2   = 11 // newfid (Twalk) or afid (Tattach)
	offOldtag = 7  // Tflush's oldtag occupies the fid slot
)

// RawHeader is a thin view over one already-framed message that lets
// code rewrite tag/fid/newfid fields in place without decoding the
// payload, for components (the multiplexer) that must forward bodies
// byte-for-byte.
type RawHeader []byte

func (h RawHeader) check(need int) error {
	if len(h) < need {
		return fmt.Errorf("ninep: frame too short for header field (%d bytes)", len(h))
	}
	return nil
}

// Size returns the frame's size field.
func (h RawHeader) Size() uint32 {
	return binaryLE32(h)
}

// Type returns the message type byte.
func (h RawHeader) Type() uint8 {
	return h[offType]
}

// Tag returns the message's tag field.
func (h RawHeader) Tag() uint16 {
	return binaryLE16(h[offTag:])
}

// SetTag overwrites the message's tag field in place.
func (h RawHeader) SetTag(tag uint16) error {
	if err := h.check(offTag + 2); err != nil {
		return err
	}
	putLE16(h[offTag:], tag)
	return nil
}

// hasFid reports whether the message type carries a primary fid field
// at offset 7, per the wire codec's fixed layout.
func hasFid(t uint8) bool {
	switch t {
	case Tattach, Twalk, Topen, Tcreate, Tread, Twrite, Tclunk, Tremove, Tstat, Twstat:
		return true
	}
	return false
}

// Fid returns the message's primary fid field, if its type carries one.
func (h RawHeader) Fid() (uint32, bool, error) {
	if !hasFid(h.Type()) {
		return 0, false, nil
	}
	if err := h.check(offFid + 4); err != nil {
		return 0, false, err
	}
	return binaryLE32(h[offFid:]), true, nil
}

// SetFid overwrites the message's primary fid field in place.
func (h RawHeader) SetFid(fid uint32) error {
	if err := h.check(offFid + 4); err != nil {
		return err
	}
	putLE32(h[offFid:], fid)
	return nil
}

// Fid2 returns the message's secondary fid field: newfid for Twalk,
// afid for Tattach. It reports ok=false for any other message type.
func (h RawHeader) Fid2() (uint32, bool, error) {
	switch h.Type() {
	case Twalk, Tattach:
	default:
		return 0, false, nil
	}
	if err := h.check(offFid2 + 4); err != nil {
		return 0, false, err
	}
	return binaryLE32(h[offFid2:]), true, nil
}

// SetFid2 overwrites the message's secondary fid field (newfid/afid) in
// place.
func (h RawHeader) SetFid2(fid uint32) error {
	if err := h.check(offFid2 + 4); err != nil {
		return err
	}
	putLE32(h[offFid2:], fid)
	return nil
}

// Oldtag returns the oldtag field of a Tflush message.
func (h RawHeader) Oldtag() (uint16, error) {
	if h.Type() != Tflush {
		return 0, fmt.Errorf("ninep: Oldtag called on non-Tflush message")
	}
	if err := h.check(offOldtag + 2); err != nil {
		return 0, err
	}
	return binaryLE16(h[offOldtag:]), nil
}

// SetOldtag overwrites the oldtag field of a Tflush message in place.
func (h RawHeader) SetOldtag(tag uint16) error {
	if h.Type() != Tflush {
		return fmt.Errorf("ninep: SetOldtag called on non-Tflush message")
	}
	if err := h.check(offOldtag + 2); err != nil {
		return err
	}
	putLE16(h[offOldtag:], tag)
	return nil
}

func binaryLE16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func binaryLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// NewRerror builds a complete Rerror frame for tag with message ename.
func NewRerror(tag uint16, ename string) []byte {
	f := &Fcall{Type: Rerror, Tag: tag, Ename: ename}
	buf, _ := f.Bytes()
	return buf
}
