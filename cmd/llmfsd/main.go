// Command llmfsd serves the LLM-agent synthetic filesystem: a
// dynamically populated root of named agent subtrees (ctl, input,
// output, history, config, system, state, errors), per
// original_source/llmfs/filesystem.py.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/peripherialabs/peribus-sub001/llmfs"
	"github.com/peripherialabs/peribus-sub001/ninep/server"
	"github.com/peripherialabs/peribus-sub001/ninep/synth"
)

func main() {
	addr := flag.String("addr", ":5640", "address to listen on")
	unixPath := flag.String("unix", "", "serve on this Unix-domain socket instead of TCP")
	flag.Parse()

	alloc := synth.NewAlloc()
	root := llmfs.NewRoot(alloc, llmfs.EchoGenerator{})
	tree := synth.NewTree(alloc, root)

	ctx := context.Background()
	if *unixPath != "" {
		log.Printf("llmfsd: listening on unix:%s", *unixPath)
		log.Fatal(server.ServeLocal(ctx, *unixPath, tree))
		return
	}
	log.Printf("llmfsd: listening on %s", *addr)
	log.Fatal(server.ServeNet(ctx, "tcp", *addr, tree))
}
