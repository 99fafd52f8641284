package synth

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestDirAddLookupRemove(t *testing.T) {
	c := qt.New(t)
	alloc := NewAlloc()
	root := NewRoot("/")

	a := NewStaticFile(alloc, "a", nil)
	b := NewStaticFile(alloc, "b", nil)
	c.Assert(root.AddChild(a), qt.IsNil)
	c.Assert(root.AddChild(b), qt.IsNil)

	err := root.AddChild(NewStaticFile(alloc, "a", nil))
	c.Assert(err, qt.ErrorMatches, "a: already exists")

	got, ok := root.Lookup("b")
	c.Assert(ok, qt.Equals, true)
	c.Assert(got, qt.Equals, Node(b))

	children := root.Children()
	c.Assert(children, qt.HasLen, 2)
	c.Assert(children[0].Name(), qt.Equals, "a")
	c.Assert(children[1].Name(), qt.Equals, "b")

	c.Assert(root.RemoveChild("a"), qt.Equals, true)
	c.Assert(root.RemoveChild("a"), qt.Equals, false)
	c.Assert(root.Children(), qt.HasLen, 1)
}

func TestRootQidPathReserved(t *testing.T) {
	c := qt.New(t)
	root := NewRoot("/")
	c.Assert(root.Qid().Path, qt.Equals, uint64(0))

	alloc := NewAlloc()
	c.Assert(alloc.Next(), qt.Equals, uint64(1))
	c.Assert(alloc.Next(), qt.Equals, uint64(2))
}
