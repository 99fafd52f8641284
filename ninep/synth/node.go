// Package synth implements the synthetic node tree shared by the LLM
// agent server and the Rio scene server: directories, static files,
// stream files, queue files, control files, buffered writers, and
// blocking-output leaves, served through a single adapter onto
// ninep/server.Fsys.
package synth

import (
	"context"
	"sync/atomic"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// Node is the common shape every tree element implements.
type Node interface {
	Name() string
	Qid() ninep.Qid
	IsDir() bool
	Perm() uint32
}

// Directory is implemented by nodes that can be walked into and
// enumerated. Children are returned in stable insertion order.
type Directory interface {
	Node
	Children() []Node
	Lookup(name string) (Node, bool)
	AddChild(n Node) error
	RemoveChild(name string) bool
}

// OpenFile is the per-fid handle a leaf's Open returns; it's the only
// thing the adapter calls once a fid has been opened.
type OpenFile interface {
	ReadAt(ctx context.Context, buf []byte, off int64) (int, error)
	WriteAt(ctx context.Context, buf []byte, off int64) (int, error)
	Clunk(ctx context.Context) error
}

// Opener is implemented by every non-directory leaf.
type Opener interface {
	Open(ctx context.Context, mode uint8) (OpenFile, error)
}

// Lengther is implemented by leaves that can report their current
// content length for Tstat; leaves that don't implement it stat as
// length 0.
type Lengther interface {
	Length(ctx context.Context) uint64
}

// Removable is implemented by nodes that allow Tremove.
type Removable interface {
	Remove(ctx context.Context) error
}

// Truncater is implemented by leaves that treat a length-field-only
// Twstat as a truncate request.
type Truncater interface {
	Truncate(ctx context.Context, length uint64) error
}

// Alloc hands out monotonically increasing qid paths for one tree.
type Alloc struct {
	next uint64
}

// NewAlloc returns an allocator whose first Next() call returns 1 (path
// 0 is reserved for the tree root).
func NewAlloc() *Alloc {
	return &Alloc{next: 1}
}

// Next returns the next unused qid path.
func (a *Alloc) Next() uint64 {
	return atomic.AddUint64(&a.next, 1) - 1
}
