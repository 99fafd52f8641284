package mux

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

type fidKind int

const (
	kindRoot fidKind = iota
	kindCtl
	kindProxied
)

type fidInfo struct {
	kind       fidKind
	backend    string
	backendFid uint32
	path       string
	ctlBuf     []byte
}

// Conn handles one client connection to the multiplexer: the virtual
// root and ctl file, and proxying every fid that walks into a backend.
type Conn struct {
	id     int
	reg    *Registry
	client net.Conn
	msize  uint32

	writeMu sync.Mutex

	mu        sync.Mutex
	fids      map[uint32]*fidInfo
	tagRoutes map[uint16]string // client tag -> backend name, for flush

	backendsMu sync.Mutex
	backends   map[string]*Backend

	rootQid    ninep.Qid
	ctlQid     ninep.Qid
	backendQid map[string]uint64
	nextQid    uint64
}

func newConn(id int, reg *Registry, client net.Conn) *Conn {
	base := uint64(id) * 1000
	c := &Conn{
		id:         id,
		reg:        reg,
		client:     client,
		msize:      ninep.MaxMsize,
		fids:       make(map[uint32]*fidInfo),
		tagRoutes:  make(map[uint16]string),
		backends:   make(map[string]*Backend),
		rootQid:    ninep.Qid{Type: ninep.QTDIR, Path: base},
		ctlQid:     ninep.Qid{Path: base + 1},
		backendQid: make(map[string]uint64),
		nextQid:    base + 2,
	}
	for _, name := range reg.Names() {
		c.backendQid[name] = c.nextQid
		c.nextQid++
	}
	return c
}

// Serve runs the client read loop until the connection closes.
func (c *Conn) Serve(ctx context.Context) {
	defer c.cleanup()
	for {
		buf, err := ninep.ReadFrame(c.client, c.msize)
		if err != nil {
			return
		}
		raw := ninep.RawHeader(buf)
		if raw.Type() == ninep.Tversion {
			c.handleVersion(buf)
			continue
		}
		go c.dispatch(ctx, buf)
	}
}

func (c *Conn) dispatch(ctx context.Context, buf []byte) {
	raw := ninep.RawHeader(buf)
	tag := raw.Tag()
	defer func() {
		if r := recover(); r != nil {
			c.sendError(tag, fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch raw.Type() {
	case ninep.Tattach:
		c.handleAttach(ctx, buf)
	case ninep.Twalk:
		c.handleWalk(ctx, buf)
	case ninep.Tflush:
		c.handleFlush(buf)
	case ninep.Tclunk:
		c.handleClunk(ctx, buf)
	case ninep.Tauth:
		c.sendError(tag, "authentication not required")
	case ninep.Topen, ninep.Tread, ninep.Twrite, ninep.Tstat, ninep.Twstat, ninep.Tremove:
		c.handleProxied(ctx, buf)
	default:
		c.sendError(tag, fmt.Sprintf("unknown message type %d", raw.Type()))
	}
}

func (c *Conn) handleVersion(buf []byte) {
	f, err := ninep.UnmarshalFcall(buf[4:])
	if err != nil {
		return
	}
	if f.Msize < c.msize {
		c.msize = f.Msize
	}
	c.sendFcall(&ninep.Fcall{Type: ninep.Rversion, Tag: f.Tag, Msize: c.msize, Version: "9P2000"})
}

func (c *Conn) handleAttach(ctx context.Context, buf []byte) {
	f, err := ninep.UnmarshalFcall(buf[4:])
	if err != nil {
		c.sendError(0, err.Error())
		return
	}
	c.setFid(f.Fid, &fidInfo{kind: kindRoot, path: "/"})
	c.sendFcall(&ninep.Fcall{Type: ninep.Rattach, Tag: f.Tag, Qid: c.rootQid})
}

func (c *Conn) handleWalk(ctx context.Context, buf []byte) {
	f, err := ninep.UnmarshalFcall(buf[4:])
	if err != nil {
		c.sendError(0, err.Error())
		return
	}
	info, ok := c.getFid(f.Fid)
	if !ok {
		c.sendError(f.Tag, "unknown fid")
		return
	}

	switch info.kind {
	case kindRoot:
		c.walkFromRoot(ctx, f, info)
	case kindCtl:
		if len(f.Wname) == 0 {
			c.setFid(f.Newfid, &fidInfo{kind: kindCtl, path: "/ctl"})
			c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag})
		} else {
			c.sendError(f.Tag, "not a directory")
		}
	case kindProxied:
		c.walkProxied(ctx, f, info)
	}
}

func (c *Conn) walkFromRoot(ctx context.Context, f *ninep.Fcall, info *fidInfo) {
	if len(f.Wname) == 0 {
		c.setFid(f.Newfid, &fidInfo{kind: kindRoot, path: "/"})
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag})
		return
	}

	first, rest := f.Wname[0], f.Wname[1:]
	if first == "ctl" {
		if len(rest) > 0 {
			c.sendError(f.Tag, "not a directory")
			return
		}
		c.setFid(f.Newfid, &fidInfo{kind: kindCtl, path: "/ctl"})
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag, Wqid: []ninep.Qid{{Path: c.ctlQid.Path}}})
		return
	}

	backend, ok := c.reg.Addr(first)
	if !ok {
		c.sendError(f.Tag, fmt.Sprintf("File not found: %s", first))
		return
	}
	be, err := c.getBackend(ctx, first, backend)
	if err != nil {
		c.sendError(f.Tag, err.Error())
		return
	}

	cloneFid, _, err := be.Walk(ctx, be.rootFid, nil)
	if err != nil {
		c.sendError(f.Tag, err.Error())
		return
	}
	qids := []ninep.Qid{{Type: ninep.QTDIR, Path: c.backendQidPath(first)}}

	if len(rest) == 0 {
		c.setFid(f.Newfid, &fidInfo{kind: kindProxied, backend: first, backendFid: cloneFid, path: "/" + first})
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag, Wqid: qids})
		return
	}

	walkFid, wqid, err := be.Walk(ctx, cloneFid, rest)
	if err != nil {
		// Backend rejected the rest of the walk outright; fall back to
		// the backend directory itself, matching a partial walk of zero.
		c.setFid(f.Newfid, &fidInfo{kind: kindProxied, backend: first, backendFid: cloneFid, path: "/" + first})
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag, Wqid: qids})
		return
	}
	qids = append(qids, wqid...)

	if len(wqid) == len(rest) {
		be.Clunk(ctx, cloneFid)
		c.setFid(f.Newfid, &fidInfo{
			kind: kindProxied, backend: first, backendFid: walkFid,
			path: "/" + first + "/" + strings.Join(rest, "/"),
		})
	} else {
		be.Clunk(ctx, walkFid)
		c.setFid(f.Newfid, &fidInfo{kind: kindProxied, backend: first, backendFid: cloneFid, path: "/" + first})
	}
	c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag, Wqid: qids})
}

func (c *Conn) walkProxied(ctx context.Context, f *ninep.Fcall, info *fidInfo) {
	be, ok := c.lookupBackend(info.backend)
	if !ok {
		c.sendError(f.Tag, fmt.Sprintf("Backend %s disconnected", info.backend))
		return
	}
	walkFid, wqid, err := be.Walk(ctx, info.backendFid, f.Wname)
	if err != nil {
		c.sendError(f.Tag, err.Error())
		return
	}
	if len(f.Wname) > 0 && len(wqid) == 0 {
		c.sendError(f.Tag, fmt.Sprintf("File not found: %s", f.Wname[0]))
		return
	}
	newPath := info.path
	if len(wqid) > 0 {
		newPath = strings.TrimSuffix(info.path, "/") + "/" + strings.Join(f.Wname[:len(wqid)], "/")
	}
	c.setFid(f.Newfid, &fidInfo{kind: kindProxied, backend: info.backend, backendFid: walkFid, path: newPath})
	c.sendFcall(&ninep.Fcall{Type: ninep.Rwalk, Tag: f.Tag, Wqid: wqid})
}

func (c *Conn) handleFlush(buf []byte) {
	f, err := ninep.UnmarshalFcall(buf[4:])
	if err != nil {
		return
	}
	oldtag := f.Tag2()
	c.mu.Lock()
	backendName, ok := c.tagRoutes[oldtag]
	delete(c.tagRoutes, oldtag)
	c.mu.Unlock()

	if ok {
		if be, ok := c.lookupBackend(backendName); ok {
			if oldBackendTag, routed := be.routedTag(oldtag); routed {
				// Forward the flush on an internal tag and wait for the
				// backend's Rflush (or the internal request timeout)
				// before answering the client's Tflush below.
				flush := &ninep.Fcall{Type: ninep.Tflush}
				flush.SetTag2(oldBackendTag)
				if _, err := be.internalRequest(context.Background(), flush); err != nil {
					log.Printf("mux: conn %d: flush tag %d: %v", c.id, oldtag, err)
				}
			}
		}
	}
	c.sendFcall(&ninep.Fcall{Type: ninep.Rflush, Tag: f.Tag})
}

func (c *Conn) handleClunk(ctx context.Context, buf []byte) {
	f, err := ninep.UnmarshalFcall(buf[4:])
	if err != nil {
		c.sendError(0, err.Error())
		return
	}
	info, ok := c.popFid(f.Fid)
	if !ok {
		c.sendError(f.Tag, "unknown fid")
		return
	}
	switch info.kind {
	case kindRoot:
		c.sendFcall(&ninep.Fcall{Type: ninep.Rclunk, Tag: f.Tag})
	case kindCtl:
		c.execCtlBuffer(info)
		c.sendFcall(&ninep.Fcall{Type: ninep.Rclunk, Tag: f.Tag})
	case kindProxied:
		if be, ok := c.lookupBackend(info.backend); ok {
			raw := ninep.RawHeader(buf)
			c.proxyRaw(be, raw, info.backendFid, f.Tag)
		} else {
			c.sendFcall(&ninep.Fcall{Type: ninep.Rclunk, Tag: f.Tag})
		}
	}
}

func (c *Conn) handleProxied(ctx context.Context, buf []byte) {
	raw := ninep.RawHeader(buf)
	fid, _, err := raw.Fid()
	if err != nil {
		c.sendError(raw.Tag(), err.Error())
		return
	}
	info, ok := c.getFid(fid)
	if !ok {
		c.sendError(raw.Tag(), "unknown fid")
		return
	}

	switch info.kind {
	case kindCtl:
		c.handleCtlOp(raw, info)
	case kindRoot:
		c.handleRootOp(raw, info)
	case kindProxied:
		be, ok := c.lookupBackend(info.backend)
		if !ok {
			c.sendError(raw.Tag(), fmt.Sprintf("Backend %s disconnected", info.backend))
			return
		}
		c.proxyRaw(be, raw, info.backendFid, raw.Tag())
	}
}

func (c *Conn) proxyRaw(be *Backend, raw ninep.RawHeader, backendFid uint32, clientTag uint16) {
	if err := raw.SetFid(backendFid); err != nil {
		c.sendError(clientTag, err.Error())
		return
	}
	c.mu.Lock()
	c.tagRoutes[clientTag] = be.Name
	c.mu.Unlock()
	if err := be.Send(raw, clientTag); err != nil {
		c.sendError(clientTag, err.Error())
	}
}

// ── ctl file ─────────────────────────────────────────────────────

func (c *Conn) handleCtlOp(raw ninep.RawHeader, info *fidInfo) {
	tag := raw.Tag()
	switch raw.Type() {
	case ninep.Topen:
		info.ctlBuf = nil
		c.sendFcall(&ninep.Fcall{Type: ninep.Ropen, Tag: tag, Qid: ninep.Qid{Path: c.ctlQid.Path}, Iounit: c.msize - 24})
	case ninep.Tread:
		f, _ := ninep.UnmarshalFcall(raw[4:])
		content := c.reg.FormatListing()
		chunk := sliceAt(content, f.Offset, f.Count)
		c.sendFcall(&ninep.Fcall{Type: ninep.Rread, Tag: tag, Data: chunk})
	case ninep.Twrite:
		f, _ := ninep.UnmarshalFcall(raw[4:])
		info.ctlBuf = append(info.ctlBuf, f.Data...)
		for {
			idx := bytes.IndexByte(info.ctlBuf, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSpace(string(info.ctlBuf[:idx]))
			info.ctlBuf = info.ctlBuf[idx+1:]
			if line == "" {
				continue
			}
			if reply, err := c.execCtl(line); err != nil {
				log.Printf("mux: ctl %q: %v", line, err)
			} else if reply != "" {
				log.Printf("mux: ctl: %s", strings.TrimSpace(reply))
			}
		}
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwrite, Tag: tag, Count: uint32(len(f.Data))})
	case ninep.Tstat:
		dir := ninep.Dir{Qid: c.ctlQid, Name: "ctl", Length: 0}
		c.sendFcall(&ninep.Fcall{Type: ninep.Rstat, Tag: tag, Stat: dir.Bytes()})
	case ninep.Twstat:
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwstat, Tag: tag})
	default:
		c.sendError(tag, "operation not supported on ctl")
	}
}

func (c *Conn) execCtlBuffer(info *fidInfo) {
	for _, line := range strings.Split(string(info.ctlBuf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := c.execCtl(line); err != nil {
			log.Printf("mux: ctl %q: %v", line, err)
		}
	}
}

// execCtl runs one ctl command line: "add NAME HOST:PORT" or
// "remove NAME".
func (c *Conn) execCtl(line string) (string, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	switch strings.ToLower(parts[0]) {
	case "add":
		if len(parts) != 3 {
			return "", fmt.Errorf("usage: add <name> <host:port>")
		}
		name, addr := parts[1], parts[2]
		if !strings.Contains(addr, ":") {
			return "", fmt.Errorf("invalid address %q, expected host:port", addr)
		}
		if err := c.reg.Add(name, addr); err != nil {
			return "", err
		}
		c.mu.Lock()
		c.backendQid[name] = c.nextQid
		c.nextQid++
		c.mu.Unlock()
		return fmt.Sprintf("added %s %s\n", name, addr), nil
	case "remove":
		if len(parts) != 2 {
			return "", fmt.Errorf("usage: remove <name>")
		}
		name := parts[1]
		if !c.reg.Remove(name) {
			return "", fmt.Errorf("backend %q not found", name)
		}
		return fmt.Sprintf("removed %s\n", name), nil
	default:
		return "", fmt.Errorf("unknown command %q", parts[0])
	}
}

// ── virtual root ─────────────────────────────────────────────────

func (c *Conn) handleRootOp(raw ninep.RawHeader, info *fidInfo) {
	tag := raw.Tag()
	switch raw.Type() {
	case ninep.Topen:
		c.sendFcall(&ninep.Fcall{Type: ninep.Ropen, Tag: tag, Qid: c.rootQid, Iounit: c.msize - 24})
	case ninep.Tread:
		f, _ := ninep.UnmarshalFcall(raw[4:])
		content := c.formatRootListing()
		chunk := sliceAt(content, f.Offset, f.Count)
		c.sendFcall(&ninep.Fcall{Type: ninep.Rread, Tag: tag, Data: chunk})
	case ninep.Tstat:
		dir := ninep.Dir{Qid: c.rootQid, Name: "", Mode: ninep.DMDIR}
		c.sendFcall(&ninep.Fcall{Type: ninep.Rstat, Tag: tag, Stat: dir.Bytes()})
	case ninep.Twstat:
		c.sendFcall(&ninep.Fcall{Type: ninep.Rwstat, Tag: tag})
	default:
		c.sendError(tag, "operation not supported on mux root")
	}
}

func (c *Conn) formatRootListing() []byte {
	var buf bytes.Buffer
	buf.Write(ninep.Dir{Qid: c.ctlQid, Name: "ctl"}.Bytes())
	for _, name := range c.reg.Names() {
		buf.Write(ninep.Dir{
			Qid:  ninep.Qid{Type: ninep.QTDIR, Path: c.backendQidPath(name)},
			Name: name,
			Mode: ninep.DMDIR,
		}.Bytes())
	}
	return buf.Bytes()
}

func (c *Conn) backendQidPath(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.backendQid[name]; ok {
		return p
	}
	p := c.nextQid
	c.nextQid++
	c.backendQid[name] = p
	return p
}

// ── backend connection pool ──────────────────────────────────────

func (c *Conn) getBackend(ctx context.Context, name, addr string) (*Backend, error) {
	c.backendsMu.Lock()
	defer c.backendsMu.Unlock()
	if be, ok := c.backends[name]; ok {
		return be, nil
	}
	be, err := DialBackend(ctx, name, addr, c.sendRaw)
	if err != nil {
		return nil, err
	}
	c.backends[name] = be
	return be, nil
}

func (c *Conn) lookupBackend(name string) (*Backend, bool) {
	c.backendsMu.Lock()
	defer c.backendsMu.Unlock()
	be, ok := c.backends[name]
	return be, ok
}

// ── fid table ─────────────────────────────────────────────────────

func (c *Conn) setFid(fid uint32, info *fidInfo) {
	c.mu.Lock()
	c.fids[fid] = info
	c.mu.Unlock()
}

func (c *Conn) getFid(fid uint32) (*fidInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.fids[fid]
	return info, ok
}

func (c *Conn) popFid(fid uint32) (*fidInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.fids[fid]
	delete(c.fids, fid)
	return info, ok
}

// ── client I/O ────────────────────────────────────────────────────

func (c *Conn) sendRaw(buf []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.client.Write(buf); err != nil {
		log.Printf("mux: conn %d: client write error: %v", c.id, err)
	}
}

func (c *Conn) sendFcall(f *ninep.Fcall) {
	buf, err := f.Bytes()
	if err != nil {
		log.Printf("mux: conn %d: encode %T: %v", c.id, f, err)
		return
	}
	c.sendRaw(buf)
}

func (c *Conn) sendError(tag uint16, msg string) {
	c.sendRaw(ninep.NewRerror(tag, msg))
}

func (c *Conn) cleanup() {
	c.backendsMu.Lock()
	for _, be := range c.backends {
		be.Close()
	}
	c.backendsMu.Unlock()
}

func sliceAt(content []byte, offset uint64, count uint32) []byte {
	if offset >= uint64(len(content)) {
		return nil
	}
	end := offset + uint64(count)
	if end > uint64(len(content)) {
		end = uint64(len(content))
	}
	return content[offset:end]
}
