package synth

import (
	"context"
	"fmt"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// StaticFile is bytes in, bytes out, uninterpreted. Writes grow the
// backing array with zero-fill on gaps, the same rule the buffered
// writer idiom uses.
type StaticFile struct {
	name string
	qid  ninep.Qid

	mu   sync.Mutex
	data []byte
}

// NewStaticFile returns a static file pre-populated with data (which
// may be nil for an initially empty file).
func NewStaticFile(alloc *Alloc, name string, data []byte) *StaticFile {
	return &StaticFile{name: name, qid: ninep.Qid{Path: alloc.Next()}, data: data}
}

func (f *StaticFile) Name() string  { return f.name }
func (f *StaticFile) Qid() ninep.Qid { return f.qid }
func (f *StaticFile) IsDir() bool   { return false }
func (f *StaticFile) Perm() uint32  { return 0o666 }

func (f *StaticFile) Length(ctx context.Context) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.data))
}

// Set replaces the file's content wholesale, for server-side producers
// (a status snapshot, a provider listing) that aren't driven by client
// writes.
func (f *StaticFile) Set(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
}

func (f *StaticFile) Truncate(ctx context.Context, length uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if length > uint64(len(f.data)) {
		return fmt.Errorf("%s: truncate beyond current length", f.name)
	}
	f.data = f.data[:length]
	return nil
}

func (f *StaticFile) Open(ctx context.Context, mode uint8) (OpenFile, error) {
	return &staticHandle{f: f}, nil
}

type staticHandle struct {
	f *StaticFile
}

func (h *staticHandle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if off < 0 || off >= int64(len(h.f.data)) {
		return 0, nil
	}
	return copy(buf, h.f.data[off:]), nil
}

func (h *staticHandle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("negative file offset")
	}
	need := int(off) + len(buf)
	if need > len(h.f.data) {
		grown := make([]byte, need)
		copy(grown, h.f.data)
		h.f.data = grown
	}
	copy(h.f.data[off:], buf)
	return len(buf), nil
}

func (h *staticHandle) Clunk(ctx context.Context) error {
	return nil
}
