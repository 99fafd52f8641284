package synth

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// TestBlockingOutputRearmLifecycle walks the Waiting -> Ready ->
// Consumed -> Waiting cycle: a reader sees exactly one payload per
// MarkReady, then blocks again until the next one.
func TestBlockingOutputRearmLifecycle(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	b := NewBlockingOutput(alloc, "snapshot")
	h, err := b.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	done := make(chan []byte)
	go func() {
		buf := make([]byte, 16)
		n, _ := h.ReadAt(ctx, buf, 0)
		done <- buf[:n]
	}()

	select {
	case <-done:
		c.Fatal("read returned before MarkReady")
	case <-time.After(20 * time.Millisecond):
	}

	b.MarkReady([]byte("frame1"))
	select {
	case got := <-done:
		c.Assert(got, qt.DeepEquals, []byte("frame1"))
	case <-time.After(time.Second):
		c.Fatal("read did not wake on MarkReady")
	}

	buf := make([]byte, 16)
	n, err := h.ReadAt(ctx, buf, int64(len("frame1")))
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)

	done2 := make(chan []byte)
	go func() {
		buf := make([]byte, 16)
		n, _ := h.ReadAt(ctx, buf, 0)
		done2 <- buf[:n]
	}()

	select {
	case <-done2:
		c.Fatal("read returned before second MarkReady")
	case <-time.After(20 * time.Millisecond):
	}

	b.MarkReady([]byte("frame2"))
	select {
	case got := <-done2:
		c.Assert(got, qt.DeepEquals, []byte("frame2"))
	case <-time.After(time.Second):
		c.Fatal("read did not wake on second MarkReady")
	}
}

func TestBlockingOutputClearResetsToWaiting(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	b := NewBlockingOutput(alloc, "snapshot")
	h, err := b.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	b.MarkReady([]byte("x"))
	buf := make([]byte, 4)
	n, err := h.ReadAt(ctx, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	b.Clear()
	errc := make(chan error, 1)
	go func() {
		_, err := h.ReadAt(ctx, buf, 0)
		errc <- err
	}()

	select {
	case <-errc:
		c.Fatal("read should block after Clear")
	case <-time.After(20 * time.Millisecond):
	}
}
