package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/peripherialabs/peribus-sub001/ninep"
	"github.com/peripherialabs/peribus-sub001/ninep/server"
)

// Ref is the per-fid handle synth hands to ninep/server: a pointer to
// the bound node plus, once opened, the leaf's per-fid I/O state.
type Ref struct {
	node Node
	file OpenFile
}

var _ server.Fsys[*Ref] = (*Tree)(nil)

// Tree adapts a Directory root into a server.Fsys[*Ref].
type Tree struct {
	server.ErrorFsys[*Ref]
	Alloc    *Alloc
	root     Directory
	Uid, Gid string
}

// NewTree returns a Tree serving root. Uid/Gid default to "mux".
func NewTree(alloc *Alloc, root Directory) *Tree {
	return &Tree{Alloc: alloc, root: root, Uid: "mux", Gid: "mux"}
}

func (t *Tree) Attach(ctx context.Context, uname, aname string) (*Ref, error) {
	return &Ref{node: t.root}, nil
}

func (t *Tree) Clone(ctx context.Context, f *Ref) (*Ref, error) {
	r := *f
	return &r, nil
}

func (t *Tree) Walk(ctx context.Context, f *Ref, name string) (*Ref, error) {
	dir, ok := f.node.(Directory)
	if !ok {
		return nil, errNotDir
	}
	child, ok := dir.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("File not found: %s", name)
	}
	return &Ref{node: child}, nil
}

func (t *Tree) Open(ctx context.Context, f *Ref, mode uint8) (*Ref, uint32, error) {
	if f.node.IsDir() {
		return f, 0, nil
	}
	op, ok := f.node.(Opener)
	if !ok {
		return nil, 0, errPerm
	}
	file, err := op.Open(ctx, mode)
	if err != nil {
		return nil, 0, err
	}
	f.file = file
	return f, 0, nil
}

func (t *Tree) Readdir(ctx context.Context, f *Ref, dir []ninep.Dir, entryIndex int) (int, error) {
	d, ok := f.node.(Directory)
	if !ok {
		return 0, errNotDir
	}
	children := d.Children()
	if entryIndex >= len(children) {
		return 0, nil
	}
	rest := children[entryIndex:]
	n := 0
	for i := range rest {
		if i >= len(dir) {
			break
		}
		dir[i] = t.statOf(rest[i])
		n++
	}
	return n, nil
}

func (t *Tree) ReadAt(ctx context.Context, f *Ref, buf []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, errNotOpen
	}
	return f.file.ReadAt(ctx, buf, off)
}

func (t *Tree) WriteAt(ctx context.Context, f *Ref, buf []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, errNotOpen
	}
	return f.file.WriteAt(ctx, buf, off)
}

func (t *Tree) Stat(ctx context.Context, f *Ref) (ninep.Dir, error) {
	return t.statOf(f.node), nil
}

// lengthOnlyWstat reports the requested length and whether dir is a
// wstat that touches only the length field, using the Plan-9 "don't
// touch" sentinel convention (~0 for numeric fields, empty strings).
func lengthOnlyWstat(dir ninep.Dir) (uint64, bool) {
	if dir.Length == ^uint64(0) {
		return 0, false
	}
	if dir.Mode != ^uint32(0) && dir.Mode != 0 {
		return 0, false
	}
	if dir.Atime != ^uint32(0) && dir.Atime != 0 {
		return 0, false
	}
	if dir.Mtime != ^uint32(0) && dir.Mtime != 0 {
		return 0, false
	}
	if dir.Name != "" || dir.Uid != "" || dir.Gid != "" || dir.Muid != "" {
		return 0, false
	}
	return dir.Length, true
}

func (t *Tree) Wstat(ctx context.Context, f *Ref, dir ninep.Dir) error {
	length, ok := lengthOnlyWstat(dir)
	if !ok {
		return nil
	}
	tr, ok := f.node.(Truncater)
	if !ok {
		return nil
	}
	return tr.Truncate(ctx, length)
}

func (t *Tree) Remove(ctx context.Context, f *Ref) error {
	rm, ok := f.node.(Removable)
	if !ok {
		return errPerm
	}
	return rm.Remove(ctx)
}

func (t *Tree) Clunk(ctx context.Context, f *Ref) error {
	if f.file == nil {
		return nil
	}
	return f.file.Clunk(ctx)
}

func (t *Tree) Qid(f *Ref) ninep.Qid {
	return f.node.Qid()
}

func (t *Tree) Close() error {
	return nil
}

func (t *Tree) statOf(n Node) ninep.Dir {
	mode := n.Perm()
	if n.IsDir() {
		mode |= ninep.DMDIR
	}
	var length uint64
	if l, ok := n.(Lengther); ok {
		length = l.Length(context.Background())
	}
	now := uint32(time.Now().Unix())
	return ninep.Dir{
		Qid:    n.Qid(),
		Mode:   mode,
		Atime:  now,
		Mtime:  now,
		Length: length,
		Name:   n.Name(),
		Uid:    t.Uid,
		Gid:    t.Gid,
	}
}
