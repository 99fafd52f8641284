// Package server implements the synthetic-filesystem dispatch engine: a
// per-connection fid table, one goroutine per inbound message, and
// routing into a tree of synthetic nodes through the Fsys interface.
package server

import (
	"context"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// Fid is the type parameter constraint for node handles a Fsys
// implementation hands out. The zero value need not be meaningful; the
// server never uses one until Fsys.Attach or Fsys.Clone produces it.
type Fid any

// Fsys is the interface a synthetic node tree must implement to be
// served. F is an implementation-chosen handle type (typically a small
// struct wrapping a node pointer plus per-fid leaf state).
//
// Clone is called for every Twalk, including the empty-name clone walk,
// before any Walk call. Walk is never called concurrently on the same
// f; ReadAt/WriteAt/Stat/Auth-equivalents must be safe for concurrent
// use since multiple in-flight messages on a connection run in their own
// goroutines.
type Fsys[F Fid] interface {
	// Attach binds a new fid to the root of the tree.
	Attach(ctx context.Context, uname, aname string) (F, error)

	// Clone produces an independent handle pointing at the same node
	// and open state as f.
	Clone(ctx context.Context, f F) (F, error)

	// Walk walks f to the child named name. It returns a new handle
	// when the walk crosses into a different node, or f itself is
	// never reused once replaced by the handler.
	Walk(ctx context.Context, f F, name string) (F, error)

	// Open prepares f for I/O and returns the handle to use from then
	// on (which may be f itself) along with its iounit.
	Open(ctx context.Context, f F, mode uint8) (F, uint32, error)

	// Readdir reads directory entries starting at entryIndex into dir,
	// returning the number of entries written.
	Readdir(ctx context.Context, f F, dir []ninep.Dir, entryIndex int) (int, error)

	// ReadAt reads from f into buf at offset off.
	ReadAt(ctx context.Context, f F, buf []byte, off int64) (int, error)

	// WriteAt writes buf into f at offset off, returning the number of
	// bytes accepted.
	WriteAt(ctx context.Context, f F, buf []byte, off int64) (int, error)

	// Stat returns f's current directory entry. The Qid field is
	// filled in by the caller from Qid(f) and need not be set here.
	Stat(ctx context.Context, f F) (ninep.Dir, error)

	// Wstat applies a Twstat to f. Implementations may treat a
	// length-only wstat as a truncate request; all else may be
	// accepted silently, per the core's no-persisted-metadata policy.
	Wstat(ctx context.Context, f F, dir ninep.Dir) error

	// Remove removes the node f refers to. It's called in place of
	// Clunk, never alongside it, for a Tremove.
	Remove(ctx context.Context, f F) error

	// Clunk releases f. Errors are logged by the caller but never
	// returned to the client; the fid is released regardless.
	Clunk(ctx context.Context, f F) error

	// Qid returns f's identity.
	Qid(f F) ninep.Qid

	// Close is called by Serve when the connection it serves ends, so
	// an Fsys shared by several connections is closed once per
	// connection.
	Close() error
}
