package synth

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestQueueFileDeliverOnce(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	q := NewQueueFile(alloc, "events")

	q.Post([]byte("m1"))
	q.Post([]byte("m2"))

	h, err := q.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	buf := make([]byte, 8)
	n, err := h.ReadAt(ctx, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(buf[:n], qt.DeepEquals, []byte("m1"))

	n, err = h.ReadAt(ctx, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(buf[:n], qt.DeepEquals, []byte("m2"))
}

func TestQueueFileReadBlocksUntilPost(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	q := NewQueueFile(alloc, "events")
	h, err := q.Open(ctx, 0)
	c.Assert(err, qt.IsNil)

	done := make(chan []byte)
	go func() {
		buf := make([]byte, 8)
		n, _ := h.ReadAt(ctx, buf, 0)
		done <- buf[:n]
	}()

	select {
	case <-done:
		c.Fatal("read returned before any message was posted")
	case <-time.After(20 * time.Millisecond):
	}

	q.Post([]byte("late"))
	select {
	case got := <-done:
		c.Assert(got, qt.DeepEquals, []byte("late"))
	case <-time.After(time.Second):
		c.Fatal("read did not wake on post")
	}
}

func TestQueueFileWriteRejected(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := NewAlloc()
	q := NewQueueFile(alloc, "events")
	h, err := q.Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	_, err = h.WriteAt(ctx, []byte("x"), 0)
	c.Assert(err, qt.Equals, errReadOnly)
}
