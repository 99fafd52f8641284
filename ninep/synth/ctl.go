package synth

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// CtlHandler is the behaviour behind a control file: Execute runs one
// command line and returns its one-line reply, or an error; Status
// returns a key/value snapshot rendered on read.
type CtlHandler interface {
	Execute(ctx context.Context, line string) (reply string, err error)
	Status(ctx context.Context) map[string]string
}

// ControlFile is a synthetic leaf backed by a CtlHandler. Per the
// ctl file processing timing design: each complete newline-terminated
// line is executed as it's written, and any residual unterminated
// buffer is executed once more on clunk.
type ControlFile struct {
	name    string
	qid     ninep.Qid
	handler CtlHandler
}

// NewControlFile returns a control file dispatching to handler.
func NewControlFile(alloc *Alloc, name string, handler CtlHandler) *ControlFile {
	return &ControlFile{name: name, qid: ninep.Qid{Path: alloc.Next()}, handler: handler}
}

func (c *ControlFile) Name() string  { return c.name }
func (c *ControlFile) Qid() ninep.Qid { return c.qid }
func (c *ControlFile) IsDir() bool   { return false }
func (c *ControlFile) Perm() uint32  { return 0o666 }

// Length always reports 0, per the Plan-9 control-file convention.
func (c *ControlFile) Length(ctx context.Context) uint64 { return 0 }

func (c *ControlFile) Open(ctx context.Context, mode uint8) (OpenFile, error) {
	return &ctlHandle{c: c}, nil
}

type ctlHandle struct {
	c *ControlFile

	mu     sync.Mutex
	buf    []byte
	status []byte
}

func formatStatus(kv map[string]string) []byte {
	keys := maps.Keys(kv)
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s %s\n", k, kv[k])
	}
	return buf.Bytes()
}

func (h *ctlHandle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	if off == 0 {
		h.status = formatStatus(h.c.handler.Status(ctx))
	}
	if off < 0 || off >= int64(len(h.status)) {
		return 0, nil
	}
	return copy(buf, h.status[off:]), nil
}

func (h *ctlHandle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	h.mu.Lock()
	if len(h.buf) > 0 && off == 0 {
		h.buf = h.buf[:0]
	}
	need := int(off) + len(buf)
	if need > len(h.buf) {
		grown := make([]byte, need)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[off:], buf)

	var lines []string
	for {
		idx := bytes.IndexByte(h.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(h.buf[:idx]))
		h.buf = h.buf[idx+1:]
	}
	h.mu.Unlock()

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := h.c.handler.Execute(ctx, line); err != nil {
			log.Printf("ninep/synth: ctl %q: %v", line, err)
		}
	}
	return len(buf), nil
}

func (h *ctlHandle) Clunk(ctx context.Context) error {
	h.mu.Lock()
	residual := string(h.buf)
	h.buf = nil
	h.mu.Unlock()

	if strings.TrimSpace(residual) == "" {
		return nil
	}
	_, err := h.c.handler.Execute(ctx, residual)
	return err
}
