// Command ninepmux federates a set of backend 9P services under one
// virtual root, per original_source/riomux/server.py's MuxServer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/peripherialabs/peribus-sub001/ninep/mux"
)

// backendFlags implements flag.Value for repeatable
// --backend NAME=HOST:PORT arguments.
type backendFlags map[string]string

func (b backendFlags) String() string {
	var parts []string
	for name, addr := range b {
		parts = append(parts, name+"="+addr)
	}
	return strings.Join(parts, ",")
}

func (b backendFlags) Set(value string) error {
	name, addr, ok := strings.Cut(value, "=")
	if !ok || name == "" || addr == "" {
		return fmt.Errorf("expected NAME=HOST:PORT, got %q", value)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("backend %s: %w", name, err)
	}
	b[name] = addr
	return nil
}

func main() {
	addr := flag.String("addr", ":5642", "address to listen on")
	backends := make(backendFlags)
	flag.Var(backends, "backend", "NAME=HOST:PORT, repeatable")
	flag.Parse()

	srv := mux.NewServer(backends)
	log.Printf("ninepmux: backends: %s", backends)
	if err := srv.ListenAndServe(context.Background(), *addr); err != nil {
		log.Fatal(err)
	}
}
