package synth

import (
	"context"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// QueueFile delivers each posted message exactly once to whichever
// reader happens to be waiting first; a read blocks until a message is
// available.
type QueueFile struct {
	name string
	qid  ninep.Qid

	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

// NewQueueFile returns an empty queue file.
func NewQueueFile(alloc *Alloc, name string) *QueueFile {
	return &QueueFile{name: name, qid: ninep.Qid{Path: alloc.Next()}, notify: make(chan struct{})}
}

func (q *QueueFile) Name() string  { return q.name }
func (q *QueueFile) Qid() ninep.Qid { return q.qid }
func (q *QueueFile) IsDir() bool   { return false }
func (q *QueueFile) Perm() uint32  { return 0o444 }

// Post enqueues msg for the next reader.
func (q *QueueFile) Post(msg []byte) {
	q.mu.Lock()
	q.items = append(q.items, append([]byte(nil), msg...))
	old := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(old)
}

func (q *QueueFile) Open(ctx context.Context, mode uint8) (OpenFile, error) {
	return &queueHandle{q: q}, nil
}

type queueHandle struct {
	q *QueueFile
}

// ReadAt dequeues and returns the next posted message, ignoring off:
// each successful read consumes exactly one message from the head of
// the queue, handed whole to the caller.
func (h *queueHandle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	q := h.q
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return copy(buf, msg), nil
		}
		ch := q.notify
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (h *queueHandle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, errReadOnly
}

func (h *queueHandle) Clunk(ctx context.Context) error {
	return nil
}
