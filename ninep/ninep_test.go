package ninep_test

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

func TestFcallRoundTrip(t *testing.T) {
	c := qt.New(t)
	cases := []*ninep.Fcall{
		{Type: ninep.Tversion, Tag: ninep.NOTAG, Msize: 8192, Version: "9P2000"},
		{Type: ninep.Rversion, Tag: ninep.NOTAG, Msize: 8192, Version: "9P2000"},
		{Type: ninep.Tattach, Tag: 1, Fid: 0, Afid: ninep.NOFID, Uname: "none", Aname: ""},
		{Type: ninep.Rattach, Tag: 1, Qid: ninep.Qid{Type: ninep.QTDIR, Path: 0}},
		{Type: ninep.Twalk, Tag: 2, Fid: 0, Newfid: 1, Wname: []string{"llm", "ctl"}},
		{Type: ninep.Rwalk, Tag: 2, Wqid: []ninep.Qid{{Type: ninep.QTDIR, Path: 1}, {Path: 2}}},
		{Type: ninep.Topen, Tag: 3, Fid: 1, Mode: ninep.OWRITE},
		{Type: ninep.Ropen, Tag: 3, Qid: ninep.Qid{Path: 2}, Iounit: 8156},
		{Type: ninep.Tread, Tag: 4, Fid: 1, Offset: 10, Count: 100},
		{Type: ninep.Rread, Tag: 4, Data: []byte("hello")},
		{Type: ninep.Twrite, Tag: 5, Fid: 1, Offset: 0, Data: []byte("world")},
		{Type: ninep.Rwrite, Tag: 5, Count: 5},
		{Type: ninep.Tclunk, Tag: 6, Fid: 1},
		{Type: ninep.Rclunk, Tag: 6},
		{Type: ninep.Tremove, Tag: 7, Fid: 1},
		{Type: ninep.Rerror, Tag: 7, Ename: "File not found: x"},
		{Type: ninep.Tflush, Tag: 8, Afid: 6},
		{Type: ninep.Rflush, Tag: 8},
	}
	for _, f := range cases {
		buf, err := f.Bytes()
		c.Assert(err, qt.IsNil)
		got, err := ninep.UnmarshalFcall(buf[4:])
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, f)
	}
}

func TestDirRoundTrip(t *testing.T) {
	c := qt.New(t)
	d := ninep.Dir{
		Qid:    ninep.Qid{Type: ninep.QTDIR, Path: 5},
		Mode:   ninep.DMDIR | 0o777,
		Name:   "llm",
		Uid:    "mux",
		Gid:    "mux",
		Length: 0,
	}
	buf := d.Bytes()
	got, rest, err := ninep.UnmarshalDir(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(len(rest), qt.Equals, 0)
	c.Assert(got, qt.DeepEquals, d)
}

func TestReadFrameEnforcesMsize(t *testing.T) {
	c := qt.New(t)
	f := &ninep.Fcall{Type: ninep.Twrite, Tag: 1, Fid: 0, Offset: 0, Data: make([]byte, 300)}
	buf, err := f.Bytes()
	c.Assert(err, qt.IsNil)

	_, err = ninep.ReadFrame(bytes.NewReader(buf), uint32(len(buf)))
	c.Assert(err, qt.IsNil)

	_, err = ninep.ReadFrame(bytes.NewReader(buf), uint32(len(buf))-300)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestRawHeaderEditsInPlace(t *testing.T) {
	c := qt.New(t)
	f := &ninep.Fcall{Type: ninep.Twalk, Tag: 9, Fid: 3, Newfid: 4, Wname: []string{"a"}}
	buf, err := f.Bytes()
	c.Assert(err, qt.IsNil)

	h := ninep.RawHeader(buf)
	c.Assert(h.Type(), qt.Equals, uint8(ninep.Twalk))
	c.Assert(h.Tag(), qt.Equals, uint16(9))

	fid, ok, err := h.Fid()
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(fid, qt.Equals, uint32(3))

	c.Assert(h.SetTag(99), qt.IsNil)
	c.Assert(h.SetFid(30), qt.IsNil)
	c.Assert(h.SetFid2(40), qt.IsNil)

	got, err := ninep.UnmarshalFcall(buf[4:])
	c.Assert(err, qt.IsNil)
	c.Assert(got.Tag, qt.Equals, uint16(99))
	c.Assert(got.Fid, qt.Equals, uint32(30))
	c.Assert(got.Newfid, qt.Equals, uint32(40))
	c.Assert(got.Wname, qt.DeepEquals, []string{"a"})
}
