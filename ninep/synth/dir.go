package synth

import (
	"fmt"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// Dir is an ordered, runtime-mutable directory. Lookups, additions, and
// removals are all safe to call concurrently with an in-progress
// Children() enumeration; a removal mid-enumeration simply isn't
// reflected in a snapshot already taken.
type Dir struct {
	name string
	qid  ninep.Qid

	mu       sync.Mutex
	children []Node
}

// NewDir returns a new empty directory.
func NewDir(alloc *Alloc, name string) *Dir {
	return &Dir{name: name, qid: ninep.Qid{Type: ninep.QTDIR, Path: alloc.Next()}}
}

// NewRoot returns a directory with the reserved root qid path 0, for
// use as a tree's top-level node.
func NewRoot(name string) *Dir {
	return &Dir{name: name, qid: ninep.Qid{Type: ninep.QTDIR, Path: 0}}
}

func (d *Dir) Name() string  { return d.name }
func (d *Dir) Qid() ninep.Qid { return d.qid }
func (d *Dir) IsDir() bool   { return true }
func (d *Dir) Perm() uint32  { return 0o777 }

// Children returns a point-in-time snapshot of the directory's entries
// in insertion order.
func (d *Dir) Children() []Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Node, len(d.children))
	copy(out, d.children)
	return out
}

// Lookup finds a child by name.
func (d *Dir) Lookup(name string) (Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.children {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// AddChild appends n to the directory. It's an error to add a name
// that already exists.
func (d *Dir) AddChild(n Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.children {
		if c.Name() == n.Name() {
			return fmt.Errorf("%s: already exists", n.Name())
		}
	}
	d.children = append(d.children, n)
	return nil
}

// RemoveChild removes the child named name, reporting whether it was
// present.
func (d *Dir) RemoveChild(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.children {
		if c.Name() == name {
			d.children = append(d.children[:i:i], d.children[i+1:]...)
			return true
		}
	}
	return false
}
