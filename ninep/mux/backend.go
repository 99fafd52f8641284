// Package mux implements the transparent 9P multiplexer: one virtual
// root fielding client connections, federating an arbitrary set of
// named backend 9P services behind it. Fids and tags are remapped
// per client-to-backend connection; message bodies are forwarded
// byte-for-byte using ninep.RawHeader in-place edits, never decoded
// and re-encoded, so unknown or future message variants still proxy
// correctly.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// backendRequestTimeout bounds how long the mux waits for a reply to a
// request it synthesizes itself (version negotiation, attach, the
// clone/walk pair issued while routing a client's Twalk).
const backendRequestTimeout = 5 * time.Second

// errRequestTimeout marks an internalRequest timeout so callers can
// substitute their own client-visible wording: Backend.Walk turns it
// into "Backend walk timeout", DialBackend folds negotiate/attach
// timeouts into the same "Backend unreachable" it gives a dial
// failure, and Clunk just logs it.
var errRequestTimeout = errors.New("request timed out")

// Backend is one TCP connection to a backend 9P service, dedicated to
// a single client connection. 9P fids and tags are per-connection, so
// two clients can never share a backend connection.
type Backend struct {
	Name string

	conn  net.Conn
	msize uint32

	mu        sync.Mutex
	nextTag   uint16
	nextFid   uint32
	rootFid   uint32
	toClient  map[uint16]uint16 // backend tag -> client tag
	toBackend map[uint16]uint16 // client tag -> backend tag
	pending   map[uint16]chan []byte

	// callback delivers a fully tag-rewritten response frame to the
	// owning client connection.
	callback func([]byte)

	closeOnce sync.Once
	closed    chan struct{}
}

// DialBackend connects to addr, negotiates Tversion, attaches, and
// starts the backend's response-routing loop. callback is invoked from
// the read loop's goroutine for every proxied response.
func DialBackend(ctx context.Context, name, addr string, callback func([]byte)) (*Backend, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Backend %s unreachable", name)
	}

	b := &Backend{
		Name:      name,
		conn:      conn,
		msize:     ninep.MaxMsize,
		nextTag:   1,
		nextFid:   100, // start high, clear of any low fids a backend reserves
		toClient:  make(map[uint16]uint16),
		toBackend: make(map[uint16]uint16),
		pending:   make(map[uint16]chan []byte),
		callback:  callback,
		closed:    make(chan struct{}),
	}
	go b.readLoop()

	if err := b.negotiate(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("Backend %s unreachable", name)
	}
	if err := b.attach(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("Backend %s unreachable", name)
	}
	return b, nil
}

func (b *Backend) allocFid() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	fid := b.nextFid
	b.nextFid++
	return fid
}

func (b *Backend) allocInternalTag() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextTagLocked()
}

func (b *Backend) nextTagLocked() uint16 {
	t := b.nextTag
	b.nextTag++
	if b.nextTag >= 0xFFFE {
		b.nextTag = 1
	}
	return t
}

// allocRoute maps a fresh backend tag to clientTag, for a proxied
// request whose response must be routed (and tag-rewritten) back.
func (b *Backend) allocRoute(clientTag uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt := b.nextTagLocked()
	b.toClient[bt] = clientTag
	b.toBackend[clientTag] = bt
	return bt
}

// routedTag finds the backend tag a prior proxied request used for
// clientTag, for Tflush forwarding.
func (b *Backend) routedTag(clientTag uint16) (uint16, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.toBackend[clientTag]
	return bt, ok
}

// Send rewrites raw's tag to a fresh backend tag routed back to
// clientTag and writes it to the backend.
func (b *Backend) Send(raw ninep.RawHeader, clientTag uint16) error {
	bt := b.allocRoute(clientTag)
	if err := raw.SetTag(bt); err != nil {
		return err
	}
	return b.writeRaw(raw)
}

// SendFlush forwards a Tflush for clientOldtag, if it's still
// in-flight on this backend. Reports whether a flush was sent.
func (b *Backend) SendFlush(clientOldtag uint16) (bool, error) {
	oldBackendTag, ok := b.routedTag(clientOldtag)
	if !ok {
		return false, nil
	}
	f := &ninep.Fcall{Type: ninep.Tflush, Tag: b.allocInternalTag()}
	f.SetTag2(oldBackendTag)
	buf, err := f.Bytes()
	if err != nil {
		return false, err
	}
	return true, b.writeRaw(buf)
}

func (b *Backend) writeRaw(buf []byte) error {
	_, err := b.conn.Write(buf)
	return err
}

// internalRequest sends f and blocks for its matching reply by tag,
// for requests the mux synthesizes on the backend's behalf rather than
// proxying from a client.
func (b *Backend) internalRequest(ctx context.Context, f *ninep.Fcall) (*ninep.Fcall, error) {
	f.Tag = b.allocInternalTag()
	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.pending[f.Tag] = ch
	b.mu.Unlock()

	buf, err := f.Bytes()
	if err != nil {
		return nil, err
	}
	if err := b.writeRaw(buf); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, backendRequestTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("backend %s: connection closed", b.Name)
		}
		reply, err := ninep.UnmarshalFcall(resp[4:])
		if err != nil {
			return nil, err
		}
		if reply.Type == ninep.Rerror {
			return nil, fmt.Errorf("backend %s: %s", b.Name, reply.Ename)
		}
		return reply, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, f.Tag)
		b.mu.Unlock()
		return nil, fmt.Errorf("backend %s: %w", b.Name, errRequestTimeout)
	}
}

func (b *Backend) negotiate(ctx context.Context) error {
	reply, err := b.internalRequest(ctx, &ninep.Fcall{
		Type:    ninep.Tversion,
		Msize:   b.msize,
		Version: "9P2000",
	})
	if err != nil {
		return fmt.Errorf("mux: backend %s version: %w", b.Name, err)
	}
	if reply.Msize < b.msize {
		b.msize = reply.Msize
	}
	return nil
}

func (b *Backend) attach(ctx context.Context) error {
	rootFid := b.allocFid()
	_, err := b.internalRequest(ctx, &ninep.Fcall{
		Type:  ninep.Tattach,
		Fid:   rootFid,
		Afid:  ninep.NOFID,
		Uname: "mux",
		Aname: "",
	})
	if err != nil {
		return fmt.Errorf("mux: backend %s attach: %w", b.Name, err)
	}
	b.rootFid = rootFid
	return nil
}

// Walk performs an internal Twalk on the backend, used both to clone
// the root fid into a fresh one for a client and to walk path
// components issued by a client's Twalk.
func (b *Backend) Walk(ctx context.Context, fid uint32, names []string) (newFid uint32, wqid []ninep.Qid, err error) {
	newFid = b.allocFid()
	reply, err := b.internalRequest(ctx, &ninep.Fcall{
		Type:   ninep.Twalk,
		Fid:    fid,
		Newfid: newFid,
		Wname:  names,
	})
	if err != nil {
		if errors.Is(err, errRequestTimeout) {
			return 0, nil, fmt.Errorf("Backend %s walk timeout", b.Name)
		}
		return 0, nil, err
	}
	return newFid, reply.Wqid, nil
}

// Clunk releases fid on the backend. Best-effort: errors are logged,
// never surfaced, matching the core's own Clunk contract.
func (b *Backend) Clunk(ctx context.Context, fid uint32) {
	_, err := b.internalRequest(ctx, &ninep.Fcall{Type: ninep.Tclunk, Fid: fid})
	if err != nil {
		log.Printf("mux: backend %s: clunk fid %d: %v", b.Name, fid, err)
	}
}

func (b *Backend) readLoop() {
	defer b.Close()
	for {
		buf, err := ninep.ReadFrame(b.conn, b.msize)
		if err != nil {
			return
		}
		raw := ninep.RawHeader(buf)
		tag := raw.Tag()

		b.mu.Lock()
		ch, isPending := b.pending[tag]
		if isPending {
			delete(b.pending, tag)
		}
		b.mu.Unlock()
		if isPending {
			ch <- buf
			continue
		}

		b.mu.Lock()
		clientTag, ok := b.toClient[tag]
		if ok {
			delete(b.toClient, tag)
			delete(b.toBackend, clientTag)
		}
		b.mu.Unlock()
		if !ok {
			log.Printf("mux: backend %s: response for unrouted tag %d, dropping", b.Name, tag)
			continue
		}

		if err := raw.SetTag(clientTag); err != nil {
			log.Printf("mux: backend %s: rewrite tag: %v", b.Name, err)
			continue
		}
		b.callback(buf)
	}
}

// Close tears down the backend connection, failing any internal
// requests still waiting on a reply.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		b.conn.Close()
		b.mu.Lock()
		for tag, ch := range b.pending {
			close(ch)
			delete(b.pending, tag)
		}
		b.mu.Unlock()
		close(b.closed)
	})
}
