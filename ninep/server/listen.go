package server

import (
	"context"
	"fmt"
	"log"
	"net"

	"golang.org/x/sys/unix"
)

// ServeNet listens on proto/addr (e.g. "tcp", ":5640") and serves fs to
// every accepted connection, each on its own goroutine, until the
// listener fails.
func ServeNet[F Fid](ctx context.Context, proto, addr string, fs Fsys[F]) error {
	lis, err := net.Listen(proto, addr)
	if err != nil {
		return err
	}
	defer lis.Close()
	for {
		conn, err := lis.Accept()
		if err != nil {
			return fmt.Errorf("accept failed: %v", err)
		}
		go func() {
			if err := Serve(ctx, conn, fs, 0); err != nil {
				log.Printf("ninep/server: serve error on %v: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ServeLocal listens on a Unix-domain socket at path, chmod'd 0700 to
// match Plan-9 namespace-socket conventions, and serves fs to every
// accepted connection.
func ServeLocal[F Fid](ctx context.Context, path string, fs Fsys[F]) error {
	if path == "" {
		return fmt.Errorf("ninep/server: socket path is empty")
	}
	lisRaw, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := unix.Chmod(path, 0700); err != nil {
		lisRaw.Close()
		return fmt.Errorf("ninep/server: chmod socket: %v", err)
	}
	defer lisRaw.Close()
	for {
		conn, err := lisRaw.Accept()
		if err != nil {
			return fmt.Errorf("accept failed: %v", err)
		}
		go func() {
			if err := Serve(ctx, conn, fs, 0); err != nil {
				log.Printf("ninep/server: serve error on unix socket: %v", err)
			}
		}()
	}
}
