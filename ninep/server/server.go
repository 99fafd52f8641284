package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

type fidMode uint8

const (
	fExcl fidMode = 1 << iota
	fOpen
	fNotOpen
)

// fid holds one connection's binding of a client fid number to a node
// handle, plus directory-read cursor state.
type fid[F Fid] struct {
	id    uint32
	mu    sync.Mutex
	f     F
	inUse bool
	open  bool

	openMode uint8
	iounit   uint32

	dirOffset   int64
	dirIndex    int
	dirEntries  []ninep.Dir
	dirEntryBuf []ninep.Dir
}

func (f *fid[F]) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inUse = false
}

// inflight tracks one dispatched-but-not-yet-responded request so that
// a later Tflush can cancel it and wait for it to finish.
type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type server[F Fid] struct {
	fs     Fsys[F]
	conn   io.ReadWriter
	msize  uint32
	fidMu  *watchdogMutex
	fids   map[uint32]*fid[F]
	reqMu  sync.Mutex
	reqs   map[uint16]*inflight
	sendMu sync.Mutex
}

// Serve runs one connection's frame loop to completion: negotiates
// version, then dispatches every subsequent message except Tflush as an
// independent goroutine until the connection closes; Tflush is handled
// in the frame loop itself. maxMsize upper-bounds whatever the client
// proposes.
func Serve[F Fid](ctx context.Context, conn io.ReadWriter, fs Fsys[F], maxMsize uint32) error {
	if maxMsize == 0 || maxMsize > ninep.MaxMsize {
		maxMsize = ninep.MaxMsize
	}
	srv := &server[F]{
		conn:  conn,
		fs:    fs,
		fidMu: newWatchdogMutex("fid table"),
		fids:  make(map[uint32]*fid[F]),
		reqs:  make(map[uint16]*inflight),
	}
	defer fs.Close()

	m, err := ninep.ReadFcall(conn, ninep.MaxMsize)
	if err != nil {
		return err
	}
	if m.Type != ninep.Tversion {
		return fmt.Errorf("first message is type %d, not Tversion", m.Type)
	}
	if m.Version != "9P2000" {
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rversion, Tag: m.Tag, Version: "unknown", Msize: m.Msize})
		return fmt.Errorf("unknown version %q", m.Version)
	}
	srv.msize = m.Msize
	if srv.msize > maxMsize {
		srv.msize = maxMsize
	}
	srv.sendMessage(&ninep.Fcall{Type: ninep.Rversion, Tag: m.Tag, Version: "9P2000", Msize: srv.msize})

	for {
		m, err := ninep.ReadFcall(conn, srv.msize)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		op := operations[m.Type]
		if op == nil {
			srv.sendError(m.Tag, fmt.Errorf("bad operation type %d", m.Type))
			continue
		}
		if err := op(srv, ctx, m); err != nil {
			srv.sendError(m.Tag, err)
		}
	}
}

// dispatch registers tag as in-flight, derives a cancellable context
// from ctx, and runs fn in its own goroutine. fn must send exactly one
// response (success or error) for m.Tag before returning.
func (srv *server[F]) dispatch(ctx context.Context, tag uint16, fn func(ctx context.Context)) {
	cctx, cancel := context.WithCancel(ctx)
	inf := &inflight{cancel: cancel, done: make(chan struct{})}
	srv.reqMu.Lock()
	srv.reqs[tag] = inf
	srv.reqMu.Unlock()
	go func() {
		defer func() {
			close(inf.done)
			srv.reqMu.Lock()
			if srv.reqs[tag] == inf {
				delete(srv.reqs, tag)
			}
			srv.reqMu.Unlock()
		}()
		fn(cctx)
	}()
}

func (srv *server[F]) handleFlush(ctx context.Context, m *ninep.Fcall) error {
	oldtag := m.Tag2()
	srv.reqMu.Lock()
	inf := srv.reqs[oldtag]
	srv.reqMu.Unlock()
	if inf != nil {
		inf.cancel()
		<-inf.done
	}
	srv.sendMessage(&ninep.Fcall{Type: ninep.Rflush, Tag: m.Tag})
	return nil
}

func (srv *server[F]) handleAttach(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.newFid(m.Fid)
	if err != nil {
		return err
	}
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		f, err := srv.fs.Attach(ctx, m.Uname, m.Aname)
		if err != nil {
			srv.delFid(fd)
			srv.sendError(m.Tag, err)
			return
		}
		if !srv.fs.Qid(f).IsDir() {
			srv.delFid(fd)
			srv.sendError(m.Tag, fmt.Errorf("root is not a directory"))
			return
		}
		fd.f = f
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rattach, Tag: m.Tag, Qid: srv.fs.Qid(f)})
	})
	return nil
}

func (srv *server[F]) handleStat(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, fNotOpen)
	if err != nil {
		return err
	}
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		defer fd.done()
		dir, err := srv.fs.Stat(ctx, fd.f)
		if err != nil {
			srv.sendError(m.Tag, err)
			return
		}
		dir.Qid = srv.fs.Qid(fd.f)
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rstat, Tag: m.Tag, Stat: dir.Bytes()})
	})
	return nil
}

func (srv *server[F]) handleWstat(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, fExcl)
	if err != nil {
		return err
	}
	dir, _, err := ninep.UnmarshalDir(m.Stat)
	if err != nil {
		fd.done()
		return err
	}
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		defer fd.done()
		if err := srv.fs.Wstat(ctx, fd.f, dir); err != nil {
			srv.sendError(m.Tag, err)
			return
		}
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rwstat, Tag: m.Tag})
	})
	return nil
}

func (srv *server[F]) handleWalk(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, fExcl|fNotOpen)
	if err != nil {
		return err
	}
	var newFd *fid[F]
	if m.Newfid != m.Fid {
		newFd, err = srv.newFid(m.Newfid)
		if err != nil {
			fd.done()
			return err
		}
	}
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		defer fd.done()
		qids, newf, err := srv.walk(ctx, fd.f, m.Wname)
		if len(qids) < len(m.Wname) {
			if newFd != nil {
				srv.delFid(newFd)
			}
			if len(qids) == 0 {
				if err == nil {
					err = fmt.Errorf("File not found: %s", m.Wname[0])
				}
				srv.sendError(m.Tag, err)
				return
			}
			srv.sendMessage(&ninep.Fcall{Type: ninep.Rwalk, Tag: m.Tag, Wqid: qids})
			return
		}
		if newFd != nil {
			newFd.f = newf
		} else {
			fd.f = newf
		}
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rwalk, Tag: m.Tag, Wqid: qids})
	})
	return nil
}

func (srv *server[F]) walk(ctx context.Context, f F, names []string) (qids []ninep.Qid, result F, err error) {
	cur, err := srv.fs.Clone(ctx, f)
	if err != nil {
		return nil, cur, err
	}
	qids = make([]ninep.Qid, 0, len(names))
	for _, name := range names {
		next, err := srv.fs.Walk(ctx, cur, name)
		if err != nil {
			return qids, cur, err
		}
		cur = next
		qids = append(qids, srv.fs.Qid(cur))
	}
	return qids, cur, nil
}

func (srv *server[F]) handleOpen(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, fExcl)
	if err != nil {
		return err
	}
	if srv.fs.Qid(fd.f).IsDir() && (m.Mode == ninep.OWRITE || m.Mode == ninep.ORDWR || m.Mode == ninep.OEXEC) {
		fd.done()
		return errPerm
	}
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		defer fd.done()
		f, iounit, err := srv.fs.Open(ctx, fd.f, m.Mode)
		if err != nil {
			srv.sendError(m.Tag, err)
			return
		}
		if iounit == 0 || iounit > srv.msize-24 {
			iounit = srv.msize - 24
		}
		fd.f = f
		fd.open = true
		fd.openMode = m.Mode
		fd.iounit = iounit
		srv.sendMessage(&ninep.Fcall{Type: ninep.Ropen, Tag: m.Tag, Qid: srv.fs.Qid(f), Iounit: iounit})
	})
	return nil
}

func (srv *server[F]) handleRead(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, fOpen)
	if err != nil {
		return err
	}
	if !canRead(fd.openMode) {
		fd.done()
		return errPerm
	}
	isDir := srv.fs.Qid(fd.f).IsDir()
	offset := int64(m.Offset)
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		defer fd.done()
		if isDir {
			if err := srv.readDir(ctx, m.Tag, fd, offset, m.Count); err != nil {
				srv.sendError(m.Tag, err)
			}
			return
		}
		count := m.Count
		if count > fd.iounit {
			count = fd.iounit
		}
		buf := make([]byte, count)
		n, err := srv.fs.ReadAt(ctx, fd.f, buf, offset)
		if err != nil {
			srv.sendError(m.Tag, err)
			return
		}
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rread, Tag: m.Tag, Data: buf[:n]})
	})
	return nil
}

func (srv *server[F]) readDir(ctx context.Context, tag uint16, f *fid[F], offset int64, count uint32) error {
	if offset == 0 {
		f.dirOffset = 0
		f.dirIndex = 0
		f.dirEntries = nil
	} else if offset != f.dirOffset {
		return fmt.Errorf("illegal read offset in directory (got %d want %d)", offset, f.dirOffset)
	}
	limit := count
	if limit > f.iounit {
		limit = f.iounit
	}
	buf := make([]byte, 0, limit)
	for {
		if len(f.dirEntries) == 0 {
			if len(f.dirEntryBuf) == 0 {
				f.dirEntryBuf = make([]ninep.Dir, 16)
			}
			n, err := srv.fs.Readdir(ctx, f.f, f.dirEntryBuf, f.dirIndex)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			f.dirEntries = f.dirEntryBuf[:n]
		}
		oldLen := len(buf)
		entryBytes := f.dirEntries[0].Bytes()
		if uint32(len(buf)+len(entryBytes)) > limit {
			if oldLen == 0 {
				return fmt.Errorf("directory read count too small for directory entry")
			}
			break
		}
		buf = append(buf, entryBytes...)
		f.dirEntries = f.dirEntries[1:]
		f.dirIndex++
	}
	srv.sendMessage(&ninep.Fcall{Type: ninep.Rread, Tag: tag, Data: buf})
	f.dirOffset += int64(len(buf))
	return nil
}

func canRead(mode uint8) bool {
	switch mode &^ ninep.OTRUNC {
	case ninep.OREAD, ninep.ORDWR, ninep.OEXEC:
		return true
	}
	return false
}

func canWrite(mode uint8) bool {
	switch mode &^ ninep.OTRUNC {
	case ninep.OWRITE, ninep.ORDWR:
		return true
	}
	return false
}

func (srv *server[F]) handleWrite(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, fOpen)
	if err != nil {
		return err
	}
	if !canWrite(fd.openMode) {
		fd.done()
		return errPerm
	}
	offset := int64(m.Offset)
	data := m.Data
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		defer fd.done()
		n, err := srv.fs.WriteAt(ctx, fd.f, data, offset)
		if err != nil {
			srv.sendError(m.Tag, err)
			return
		}
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rwrite, Tag: m.Tag, Count: uint32(n)})
	})
	return nil
}

func (srv *server[F]) handleClunk(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, 0)
	if err != nil {
		return err
	}
	srv.delFid(fd)
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		if err := srv.fs.Clunk(ctx, fd.f); err != nil {
			log.Printf("ninep/server: clunk hook error on fid %d: %v", m.Fid, err)
		}
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rclunk, Tag: m.Tag})
	})
	return nil
}

func (srv *server[F]) handleRemove(ctx context.Context, m *ninep.Fcall) error {
	fd, err := srv.getFid(m.Fid, 0)
	if err != nil {
		return err
	}
	srv.delFid(fd)
	srv.dispatch(ctx, m.Tag, func(ctx context.Context) {
		if err := srv.fs.Remove(ctx, fd.f); err != nil {
			srv.sendError(m.Tag, err)
			return
		}
		srv.sendMessage(&ninep.Fcall{Type: ninep.Rremove, Tag: m.Tag})
	})
	return nil
}

func (srv *server[F]) sendError(tag uint16, err error) {
	srv.sendMessage(&ninep.Fcall{Type: ninep.Rerror, Tag: tag, Ename: err.Error()})
}

func (srv *server[F]) sendMessage(m *ninep.Fcall) {
	srv.sendMu.Lock()
	defer srv.sendMu.Unlock()
	if err := ninep.WriteFcall(srv.conn, m); err != nil {
		log.Printf("ninep/server: write error: %v", err)
	}
}

func (srv *server[F]) newFid(id uint32) (*fid[F], error) {
	srv.fidMu.Lock("newFid")
	defer srv.fidMu.Unlock()
	if _, ok := srv.fids[id]; ok {
		return nil, fmt.Errorf("fid %d already in use", id)
	}
	f := &fid[F]{id: id}
	srv.fids[id] = f
	return f, nil
}

func (srv *server[F]) getFid(id uint32, mode fidMode) (*fid[F], error) {
	srv.fidMu.Lock("getFid")
	f := srv.fids[id]
	srv.fidMu.Unlock()
	if f == nil {
		return nil, fmt.Errorf("unknown fid %d", id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if (mode&fExcl) != 0 && f.inUse {
		return nil, fmt.Errorf("fid %d is already in use", id)
	}
	if (mode&fOpen) != 0 && !f.open {
		return nil, fmt.Errorf("fid %d must be opened first", id)
	}
	if (mode&fNotOpen) != 0 && f.open {
		return nil, fmt.Errorf("operation not allowed on open fid %d", id)
	}
	if (mode & fExcl) != 0 {
		f.inUse = true
	}
	return f, nil
}

func (srv *server[F]) delFid(f *fid[F]) {
	srv.fidMu.Lock("delFid")
	defer srv.fidMu.Unlock()
	delete(srv.fids, f.id)
}

// serverOps lets the global operations table dispatch without
// instantiating server[F] at package scope.
type serverOps interface {
	handleAttach(ctx context.Context, m *ninep.Fcall) error
	handleStat(ctx context.Context, m *ninep.Fcall) error
	handleWstat(ctx context.Context, m *ninep.Fcall) error
	handleWalk(ctx context.Context, m *ninep.Fcall) error
	handleOpen(ctx context.Context, m *ninep.Fcall) error
	handleRead(ctx context.Context, m *ninep.Fcall) error
	handleWrite(ctx context.Context, m *ninep.Fcall) error
	handleClunk(ctx context.Context, m *ninep.Fcall) error
	handleRemove(ctx context.Context, m *ninep.Fcall) error
	handleFlush(ctx context.Context, m *ninep.Fcall) error
}

var operations = map[uint8]func(srv serverOps, ctx context.Context, m *ninep.Fcall) error{
	ninep.Tattach: serverOps.handleAttach,
	ninep.Tstat:   serverOps.handleStat,
	ninep.Twstat:  serverOps.handleWstat,
	ninep.Twalk:   serverOps.handleWalk,
	ninep.Topen:   serverOps.handleOpen,
	ninep.Tread:   serverOps.handleRead,
	ninep.Twrite:  serverOps.handleWrite,
	ninep.Tclunk:  serverOps.handleClunk,
	ninep.Tremove: serverOps.handleRemove,
	ninep.Tflush:  serverOps.handleFlush,
}
