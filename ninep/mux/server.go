package mux

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

// Server accepts 9P client connections and multiplexes each of them
// across the shared backend Registry.
type Server struct {
	Registry *Registry

	connID int
}

// NewServer returns a Server for the given initial backend set
// (name -> host:port). Backends whose name contains "llm" are
// notified of every other backend's presence via their own ctl file,
// using the "machine add/remove NAME" convention.
func NewServer(backends map[string]string) *Server {
	s := &Server{}
	s.Registry = NewRegistry(backends, s.notifyMachineChange)
	return s
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mux: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.notifyInitialMachines(ctx)
	log.Printf("mux: listening on %s, backends: %s", addr, strings.Join(s.Registry.Names(), ", "))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.connID++
		mc := newConn(s.connID, s.Registry, conn)
		go mc.Serve(ctx)
	}
}

// notifyMachineChange implements the llm-backend notification
// convention: every backend whose name contains "llm" gets
// "machine add/remove NAME" written to its own ctl file whenever a
// backend (any backend, including itself) is added or removed; an llm
// backend that is itself being removed is not notified.
func (s *Server) notifyMachineChange(verb, name, addr string) {
	ctx := context.Background()
	for _, llmName := range s.Registry.Names() {
		if !strings.Contains(strings.ToLower(llmName), "llm") {
			continue
		}
		if llmName == name && verb == "remove" {
			continue // already gone, nothing to notify
		}
		llmAddr, ok := s.Registry.Addr(llmName)
		if !ok {
			continue
		}
		if err := writeCtlCommand(ctx, llmAddr, fmt.Sprintf("machine %s %s", verb, name)); err != nil {
			log.Printf("mux: notify %s of machine %s %s: %v", llmName, verb, name, err)
		}
	}
}

// notifyInitialMachines tells every llm backend about every other
// backend known at startup.
func (s *Server) notifyInitialMachines(ctx context.Context) {
	names := s.Registry.Names()
	for _, llmName := range names {
		if !strings.Contains(strings.ToLower(llmName), "llm") {
			continue
		}
		llmAddr, ok := s.Registry.Addr(llmName)
		if !ok {
			continue
		}
		for _, machine := range names {
			if machine == llmName {
				continue
			}
			if err := writeCtlCommand(ctx, llmAddr, fmt.Sprintf("machine add %s", machine)); err != nil {
				log.Printf("mux: notify %s of machine add %s: %v", llmName, machine, err)
			}
		}
	}
}

// writeCtlCommand dials addr, walks to ctl, writes line, and clunks —
// a one-shot 9P client used only for machine notifications.
func writeCtlCommand(ctx context.Context, addr, line string) error {
	be, err := DialBackend(ctx, "notify", addr, func([]byte) {})
	if err != nil {
		return err
	}
	defer be.Close()

	ctlFid, _, err := be.Walk(ctx, be.rootFid, []string{"ctl"})
	if err != nil {
		return fmt.Errorf("walk ctl: %w", err)
	}
	if _, err := be.internalRequest(ctx, &ninep.Fcall{Type: ninep.Topen, Fid: ctlFid, Mode: ninep.OWRITE}); err != nil {
		return fmt.Errorf("open ctl: %w", err)
	}
	data := []byte(line + "\n")
	if _, err := be.internalRequest(ctx, &ninep.Fcall{Type: ninep.Twrite, Fid: ctlFid, Offset: 0, Data: data}); err != nil {
		return fmt.Errorf("write ctl: %w", err)
	}
	be.Clunk(ctx, ctlFid)
	return nil
}
