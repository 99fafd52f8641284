// Command riosrvd serves the Rio scene synthetic filesystem: ctl,
// code, snapshot, and events, per original_source/rio/scene.py's
// SceneManager/VersionManager reduced to what a headless core drives.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/peripherialabs/peribus-sub001/ninep/server"
	"github.com/peripherialabs/peribus-sub001/ninep/synth"
	"github.com/peripherialabs/peribus-sub001/rio"
)

func main() {
	addr := flag.String("addr", ":5641", "address to listen on")
	unixPath := flag.String("unix", "", "serve on this Unix-domain socket instead of TCP")
	flag.Parse()

	alloc := synth.NewAlloc()
	scene := rio.NewScene(alloc, &rio.RecordingExecutor{})
	tree := synth.NewTree(alloc, scene)

	ctx := context.Background()
	if *unixPath != "" {
		log.Printf("riosrvd: listening on unix:%s", *unixPath)
		log.Fatal(server.ServeLocal(ctx, *unixPath, tree))
		return
	}
	log.Printf("riosrvd: listening on %s", *addr)
	log.Fatal(server.ServeNet(ctx, "tcp", *addr, tree))
}
