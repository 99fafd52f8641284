package synth

import (
	"context"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

type blockingState int

const (
	boWaiting blockingState = iota
	boReady
	boConsumed
)

// BlockingOutput implements the {Waiting, Ready, Consumed} state
// machine: a read blocks until MarkReady is called, returns the staged
// content once, then blocks again until the next MarkReady. This gives
// `while true; do cat X; done` one payload per cat.
type BlockingOutput struct {
	name string
	qid  ninep.Qid

	mu      sync.Mutex
	state   blockingState
	content []byte
	notify  chan struct{}
}

// NewBlockingOutput returns a blocking-output leaf starting in Waiting.
func NewBlockingOutput(alloc *Alloc, name string) *BlockingOutput {
	return &BlockingOutput{name: name, qid: ninep.Qid{Path: alloc.Next()}, notify: make(chan struct{})}
}

func (b *BlockingOutput) Name() string  { return b.name }
func (b *BlockingOutput) Qid() ninep.Qid { return b.qid }
func (b *BlockingOutput) IsDir() bool   { return false }
func (b *BlockingOutput) Perm() uint32  { return 0o444 }

func (b *BlockingOutput) wake() {
	old := b.notify
	b.notify = make(chan struct{})
	close(old)
}

// MarkReady stages content and transitions Waiting|Consumed -> Ready.
func (b *BlockingOutput) MarkReady(content []byte) {
	b.mu.Lock()
	b.content = content
	b.state = boReady
	b.mu.Unlock()
	b.lockAndWake()
}

func (b *BlockingOutput) lockAndWake() {
	b.mu.Lock()
	b.wake()
	b.mu.Unlock()
}

// Clear resets content and returns to Waiting.
func (b *BlockingOutput) Clear() {
	b.mu.Lock()
	b.content = nil
	b.state = boWaiting
	b.mu.Unlock()
	b.lockAndWake()
}

func (b *BlockingOutput) Open(ctx context.Context, mode uint8) (OpenFile, error) {
	return &blockingHandle{b: b}, nil
}

type blockingHandle struct {
	b *BlockingOutput
}

func (h *blockingHandle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	b := h.b
	for {
		b.mu.Lock()
		if b.state == boConsumed && off == 0 {
			b.state = boWaiting
		}
		switch b.state {
		case boReady:
			content := b.content
			if off >= int64(len(content)) {
				b.mu.Unlock()
				return 0, nil
			}
			n := copy(buf, content[off:])
			if off+int64(n) >= int64(len(content)) {
				b.state = boConsumed
			}
			b.mu.Unlock()
			return n, nil
		case boConsumed:
			// off != 0, since off == 0 above would have rearmed to
			// Waiting: this is the trailing read past the content
			// already handed back, ordinary EOF until the next
			// MarkReady.
			b.mu.Unlock()
			return 0, nil
		default:
			ch := b.notify
			b.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
}

func (h *blockingHandle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, errReadOnly
}

func (h *blockingHandle) Clunk(ctx context.Context) error {
	return nil
}
