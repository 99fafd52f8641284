package synth

import (
	"context"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
)

type fakeCtl struct {
	lines  []string
	status map[string]string
}

func (f *fakeCtl) Execute(ctx context.Context, line string) (string, error) {
	f.lines = append(f.lines, line)
	if line == "bad" {
		return "", fmt.Errorf("bad command")
	}
	return "ok", nil
}

func (f *fakeCtl) Status(ctx context.Context) map[string]string {
	return f.status
}

func TestControlFileExecutesCompleteLinesOnWrite(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	h := &fakeCtl{}
	ctl := NewControlFile(alloc, "ctl", h)

	handle, err := ctl.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	_, err = handle.WriteAt(ctx, []byte("attach fo"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h.lines, qt.HasLen, 0)

	_, err = handle.WriteAt(ctx, []byte("o\n"), 9)
	c.Assert(err, qt.IsNil)
	c.Assert(h.lines, qt.DeepEquals, []string{"attach foo"})

	_, err = handle.WriteAt(ctx, []byte("attach bar\n"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h.lines, qt.DeepEquals, []string{"attach foo", "attach bar"})
}

func TestControlFileExecutesResidualOnClunk(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	h := &fakeCtl{}
	ctl := NewControlFile(alloc, "ctl", h)

	handle, err := ctl.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	_, err = handle.WriteAt(ctx, []byte("detach baz"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h.lines, qt.HasLen, 0)

	c.Assert(handle.Clunk(ctx), qt.IsNil)
	c.Assert(h.lines, qt.DeepEquals, []string{"detach baz"})
}

func TestControlFileStatusSnapshotOnRead(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	h := &fakeCtl{status: map[string]string{"b": "2", "a": "1"}}
	ctl := NewControlFile(alloc, "ctl", h)

	handle, err := ctl.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	buf := make([]byte, 64)
	n, err := handle.ReadAt(ctx, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf[:n]), qt.Equals, "a 1\nb 2\n")
}
