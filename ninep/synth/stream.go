package synth

import (
	"context"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// StreamFile is an append-only producer with a monotonic generation
// counter. A reader opened in generation G sees only G's bytes, in
// order, and gets EOF when G finishes; a reset started after the
// reader opened ends G immediately (from the reader's point of view
// there is nothing more to read). Cross-generation reads are
// impossible: a fid opened after a reset always starts at the new
// generation's beginning.
type StreamFile struct {
	name string
	qid  ninep.Qid

	mu         sync.Mutex
	generation int
	content    []byte
	finished   bool
	notify     chan struct{}
}

// NewStreamFile returns an empty stream file in generation 0.
func NewStreamFile(alloc *Alloc, name string) *StreamFile {
	return &StreamFile{
		name:   name,
		qid:    ninep.Qid{Path: alloc.Next()},
		notify: make(chan struct{}),
	}
}

func (s *StreamFile) Name() string  { return s.name }
func (s *StreamFile) Qid() ninep.Qid { return s.qid }
func (s *StreamFile) IsDir() bool   { return false }
func (s *StreamFile) Perm() uint32  { return 0o444 }

func (s *StreamFile) Length(ctx context.Context) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.content))
}

// wake closes the current notify channel and installs a fresh one,
// releasing every reader blocked in ReadAt.
func (s *StreamFile) wake() {
	old := s.notify
	s.notify = make(chan struct{})
	close(old)
}

// Reset bumps the generation and clears pending content, ending the
// previous generation for any reader still attached to it.
func (s *StreamFile) Reset() {
	s.mu.Lock()
	s.generation++
	s.content = nil
	s.finished = false
	s.mu.Unlock()
	s.lockAndWake()
}

func (s *StreamFile) lockAndWake() {
	s.mu.Lock()
	s.wake()
	s.mu.Unlock()
}

// Append adds bytes to the current generation and wakes any readers
// waiting on it.
func (s *StreamFile) Append(b []byte) {
	s.mu.Lock()
	s.content = append(s.content, b...)
	s.mu.Unlock()
	s.lockAndWake()
}

// Finish marks the current generation ended; readers caught up to the
// end see EOF from then on.
func (s *StreamFile) Finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.lockAndWake()
}

func (s *StreamFile) Open(ctx context.Context, mode uint8) (OpenFile, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	return &streamHandle{s: s, generation: gen}, nil
}

type streamHandle struct {
	s          *StreamFile
	generation int
}

func (h *streamHandle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	s := h.s
	for {
		s.mu.Lock()
		if h.generation != s.generation {
			s.mu.Unlock()
			return 0, nil
		}
		if int64(len(s.content)) > off {
			n := copy(buf, s.content[off:])
			s.mu.Unlock()
			return n, nil
		}
		if s.finished {
			s.mu.Unlock()
			return 0, nil
		}
		ch := s.notify
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (h *streamHandle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, errPerm
}

func (h *streamHandle) Clunk(ctx context.Context) error {
	return nil
}
