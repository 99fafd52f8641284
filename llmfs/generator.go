// Package llmfs builds the per-agent synthetic filesystem exposed by
// cmd/llmfsd: a dynamically populated root of named agent subtrees,
// each a ctl/input/output/history/config/system/state/errors set of
// leaves over ninep/synth, grounded on original_source/llmfs/
// filesystem.py and agent.py.
package llmfs

import "context"

// Generator stands in for a real LLM provider client. Provider HTTP/
// WebSocket adapters are out of scope; EchoGenerator below is the only
// implementation this repo ships.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EchoGenerator answers every prompt by echoing it back, so the
// filesystem plumbing (buffering, streaming, history) can be exercised
// end to end without a real provider behind it.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "echo: " + prompt, nil
}
