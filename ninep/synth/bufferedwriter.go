package synth

import (
	"context"
	"fmt"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// BufferedWriter is the universal write-then-clunk idiom (spec §4.4):
// writes accumulate into a per-fid buffer, indexed by offset with
// zero-fill on gaps; a write at offset 0 into an already-written buffer
// starts a fresh sequence (truncate semantics); Clunk hands the
// assembled payload to commit and releases the buffer.
//
// If preload is true, each newly opened fid's buffer starts out holding
// the content committed by the previous clunk, so a write that begins
// past offset 0 extends that prior content (append semantics) rather
// than starting from empty.
type BufferedWriter struct {
	name    string
	qid     ninep.Qid
	preload bool
	commit  func(ctx context.Context, payload []byte) error

	mu      sync.Mutex
	content []byte
}

// NewBufferedWriter returns a buffered-writer leaf that calls commit
// with the complete payload on every clunk.
func NewBufferedWriter(alloc *Alloc, name string, preload bool, commit func(ctx context.Context, payload []byte) error) *BufferedWriter {
	return &BufferedWriter{name: name, qid: ninep.Qid{Path: alloc.Next()}, preload: preload, commit: commit}
}

func (w *BufferedWriter) Name() string  { return w.name }
func (w *BufferedWriter) Qid() ninep.Qid { return w.qid }
func (w *BufferedWriter) IsDir() bool   { return false }
func (w *BufferedWriter) Perm() uint32  { return 0o222 }

func (w *BufferedWriter) Length(ctx context.Context) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint64(len(w.content))
}

func (w *BufferedWriter) Open(ctx context.Context, mode uint8) (OpenFile, error) {
	h := &bufferedHandle{w: w}
	if w.preload {
		w.mu.Lock()
		h.buf = append([]byte(nil), w.content...)
		h.wrote = len(h.buf) > 0
		w.mu.Unlock()
	}
	return h, nil
}

type bufferedHandle struct {
	w     *BufferedWriter
	mu    sync.Mutex
	buf   []byte
	wrote bool
}

func (h *bufferedHandle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, nil
}

func (h *bufferedHandle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("negative file offset")
	}
	if h.wrote && off == 0 {
		h.buf = h.buf[:0]
	}
	need := int(off) + len(buf)
	if need > len(h.buf) {
		grown := make([]byte, need)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[off:], buf)
	h.wrote = true
	return len(buf), nil
}

func (h *bufferedHandle) Clunk(ctx context.Context) error {
	h.mu.Lock()
	payload := append([]byte(nil), h.buf...)
	h.mu.Unlock()

	h.w.mu.Lock()
	h.w.content = payload
	h.w.mu.Unlock()

	if h.w.commit == nil {
		return nil
	}
	return h.w.commit(ctx, payload)
}
