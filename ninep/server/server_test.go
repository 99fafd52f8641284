package server_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/peripherialabs/peribus-sub001/ninep"
	"github.com/peripherialabs/peribus-sub001/ninep/server"
)

// memFsys is a tiny in-memory Fsys used only to exercise the dispatch
// engine itself; ninep/synth provides the real node tree.
type node struct {
	name     string
	qid      ninep.Qid
	children []*node
	data     []byte
}

type memFid struct {
	n *node
}

type memFsys struct {
	server.ErrorFsys[memFid]
	root *node
}

func newMemFsys() *memFsys {
	child := &node{name: "greeting", qid: ninep.Qid{Path: 1}, data: []byte("hello world")}
	root := &node{name: ".", qid: ninep.Qid{Type: ninep.QTDIR, Path: 0}, children: []*node{child}}
	return &memFsys{root: root}
}

func (fs *memFsys) Attach(ctx context.Context, uname, aname string) (memFid, error) {
	return memFid{n: fs.root}, nil
}

func (fs *memFsys) Clone(ctx context.Context, f memFid) (memFid, error) {
	return f, nil
}

func (fs *memFsys) Walk(ctx context.Context, f memFid, name string) (memFid, error) {
	for _, c := range f.n.children {
		if c.name == name {
			return memFid{n: c}, nil
		}
	}
	return memFid{}, fmt.Errorf("file not found: %s", name)
}

func (fs *memFsys) Open(ctx context.Context, f memFid, mode uint8) (memFid, uint32, error) {
	return f, 8192, nil
}

func (fs *memFsys) Readdir(ctx context.Context, f memFid, dir []ninep.Dir, index int) (int, error) {
	if index >= len(f.n.children) {
		return 0, nil
	}
	n := 0
	for i, c := range f.n.children[index:] {
		if i >= len(dir) {
			break
		}
		dir[i] = ninep.Dir{Qid: c.qid, Name: c.name, Mode: modeFor(c)}
		n++
	}
	return n, nil
}

func modeFor(n *node) uint32 {
	if n.qid.IsDir() {
		return ninep.DMDIR | 0o777
	}
	return 0o666
}

func (fs *memFsys) ReadAt(ctx context.Context, f memFid, buf []byte, off int64) (int, error) {
	if off >= int64(len(f.n.data)) {
		return 0, nil
	}
	return copy(buf, f.n.data[off:]), nil
}

func (fs *memFsys) WriteAt(ctx context.Context, f memFid, buf []byte, off int64) (int, error) {
	need := int(off) + len(buf)
	if need > len(f.n.data) {
		grown := make([]byte, need)
		copy(grown, f.n.data)
		f.n.data = grown
	}
	copy(f.n.data[off:], buf)
	return len(buf), nil
}

func (fs *memFsys) Stat(ctx context.Context, f memFid) (ninep.Dir, error) {
	return ninep.Dir{Name: f.n.name, Mode: modeFor(f.n)}, nil
}

func (fs *memFsys) Clunk(ctx context.Context, f memFid) error {
	return nil
}

func (fs *memFsys) Qid(f memFid) ninep.Qid {
	return f.n.qid
}

func TestServeVersionAttachWalkReadWrite(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fs := newMemFsys()
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), serverConn, fs, 0)
	}()

	send := func(f *ninep.Fcall) {
		c.Assert(ninep.WriteFcall(clientConn, f), qt.IsNil)
	}
	recv := func() *ninep.Fcall {
		clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		f, err := ninep.ReadFcall(clientConn, 0)
		c.Assert(err, qt.IsNil)
		return f
	}

	send(&ninep.Fcall{Type: ninep.Tversion, Tag: ninep.NOTAG, Msize: 8192, Version: "9P2000"})
	rv := recv()
	c.Assert(rv.Type, qt.Equals, uint8(ninep.Rversion))
	c.Assert(rv.Msize, qt.Equals, uint32(8192))

	send(&ninep.Fcall{Type: ninep.Tattach, Tag: 1, Fid: 0, Afid: ninep.NOFID, Uname: "none", Aname: ""})
	ra := recv()
	c.Assert(ra.Type, qt.Equals, uint8(ninep.Rattach))
	c.Assert(ra.Qid.IsDir(), qt.IsTrue)

	send(&ninep.Fcall{Type: ninep.Twalk, Tag: 2, Fid: 0, Newfid: 1, Wname: []string{"greeting"}})
	rw := recv()
	c.Assert(rw.Type, qt.Equals, uint8(ninep.Rwalk))
	c.Assert(len(rw.Wqid), qt.Equals, 1)

	send(&ninep.Fcall{Type: ninep.Topen, Tag: 3, Fid: 1, Mode: ninep.ORDWR})
	ro := recv()
	c.Assert(ro.Type, qt.Equals, uint8(ninep.Ropen))

	send(&ninep.Fcall{Type: ninep.Tread, Tag: 4, Fid: 1, Offset: 0, Count: 100})
	rr := recv()
	c.Assert(rr.Type, qt.Equals, uint8(ninep.Rread))
	c.Assert(string(rr.Data), qt.Equals, "hello world")

	send(&ninep.Fcall{Type: ninep.Twrite, Tag: 5, Fid: 1, Offset: 0, Data: []byte("bye")})
	rwr := recv()
	c.Assert(rwr.Type, qt.Equals, uint8(ninep.Rwrite))
	c.Assert(rwr.Count, qt.Equals, uint32(3))

	send(&ninep.Fcall{Type: ninep.Tclunk, Tag: 6, Fid: 1})
	rc := recv()
	c.Assert(rc.Type, qt.Equals, uint8(ninep.Rclunk))

	// fid 1 is now unknown.
	send(&ninep.Fcall{Type: ninep.Tstat, Tag: 7, Fid: 1})
	re := recv()
	c.Assert(re.Type, qt.Equals, uint8(ninep.Rerror))

	clientConn.Close()
	<-done
}

func TestServeWalkDirToFileStopsAtFile(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fs := newMemFsys()
	go server.Serve(context.Background(), serverConn, fs, 0)

	send := func(f *ninep.Fcall) { c.Assert(ninep.WriteFcall(clientConn, f), qt.IsNil) }
	recv := func() *ninep.Fcall {
		clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		f, err := ninep.ReadFcall(clientConn, 0)
		c.Assert(err, qt.IsNil)
		return f
	}

	send(&ninep.Fcall{Type: ninep.Tversion, Tag: ninep.NOTAG, Msize: 8192, Version: "9P2000"})
	recv()
	send(&ninep.Fcall{Type: ninep.Tattach, Tag: 1, Fid: 0, Afid: ninep.NOFID, Uname: "none"})
	recv()

	send(&ninep.Fcall{Type: ninep.Twalk, Tag: 2, Fid: 0, Newfid: 1, Wname: []string{"greeting", "nonexistent"}})
	rw := recv()
	c.Assert(rw.Type, qt.Equals, uint8(ninep.Rwalk))
	c.Assert(len(rw.Wqid), qt.Equals, 1)
}
