package synth

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

// TestBufferedWriterCommitsExactlyOnce mirrors the write-then-clunk
// scenario: a client writes a command in two pieces and clunks; commit
// must see the assembled payload exactly once.
func TestBufferedWriterCommitsExactlyOnce(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()

	var commits [][]byte
	w := NewBufferedWriter(alloc, "ctl", false, func(ctx context.Context, payload []byte) error {
		commits = append(commits, append([]byte(nil), payload...))
		return nil
	})

	h, err := w.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	_, err = h.WriteAt(ctx, []byte("hel"), 0)
	c.Assert(err, qt.IsNil)
	_, err = h.WriteAt(ctx, []byte("lo"), 3)
	c.Assert(err, qt.IsNil)

	c.Assert(h.Clunk(ctx), qt.IsNil)
	c.Assert(commits, qt.HasLen, 1)
	c.Assert(commits[0], qt.DeepEquals, []byte("hello"))
}

func TestBufferedWriterOffsetZeroResets(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	w := NewBufferedWriter(alloc, "ctl", false, nil)

	h, err := w.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	_, err = h.WriteAt(ctx, []byte("first"), 0)
	c.Assert(err, qt.IsNil)
	_, err = h.WriteAt(ctx, []byte("second"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Clunk(ctx), qt.IsNil)
	c.Assert(w.content, qt.DeepEquals, []byte("second"))
}

func TestBufferedWriterPreloadAppendsAcrossOpens(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	w := NewBufferedWriter(alloc, "history", true, nil)

	h1, err := w.Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	_, err = h1.WriteAt(ctx, []byte("one "), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Clunk(ctx), qt.IsNil)

	h2, err := w.Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	_, err = h2.WriteAt(ctx, []byte("two"), 4)
	c.Assert(err, qt.IsNil)
	c.Assert(h2.Clunk(ctx), qt.IsNil)

	c.Assert(w.content, qt.DeepEquals, []byte("one two"))
}
