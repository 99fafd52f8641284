package llmfs

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/peripherialabs/peribus-sub001/ninep/synth"
)

func TestAgentInputTriggersGenerationOnClunk(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := synth.NewAlloc()
	a := NewAgent(alloc, "claude", EchoGenerator{})

	node, ok := a.Lookup("input")
	c.Assert(ok, qt.Equals, true)
	input := node.(synth.Opener)
	h, err := input.Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	_, err = h.WriteAt(ctx, []byte("hello"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Clunk(ctx), qt.IsNil)

	outNode, ok := a.Lookup("output")
	c.Assert(ok, qt.Equals, true)
	out := outNode.(*synth.StreamFile)
	oh, err := out.Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	buf := make([]byte, 64)
	n, err := oh.ReadAt(ctx, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf[:n]), qt.Equals, "echo: hello")

	a.mu.Lock()
	state := a.state
	history := append([]string(nil), a.history...)
	a.mu.Unlock()
	c.Assert(state, qt.Equals, "done")
	c.Assert(history, qt.DeepEquals, []string{"user: hello", "assistant: echo: hello"})
}

func TestAgentInputBlankPromptSkipsGeneration(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := synth.NewAlloc()
	a := NewAgent(alloc, "claude", EchoGenerator{})

	node, _ := a.Lookup("input")
	h, err := node.(synth.Opener).Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	_, err = h.WriteAt(ctx, []byte("   "), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Clunk(ctx), qt.IsNil)

	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	c.Assert(state, qt.Equals, "idle")
}

func TestAgentCtlSystemClearHistory(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	alloc := synth.NewAlloc()
	a := NewAgent(alloc, "claude", EchoGenerator{})
	ctl := &agentCtl{a: a}

	reply, err := ctl.Execute(ctx, "system be terse")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "system prompt set")

	reply, err = ctl.Execute(ctx, "system")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "be terse")

	reply, err = ctl.Execute(ctx, "history off")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "history disabled")

	a.mu.Lock()
	a.history = []string{"user: x"}
	a.mu.Unlock()
	reply, err = ctl.Execute(ctx, "clear")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "history cleared")

	a.mu.Lock()
	n := len(a.history)
	a.mu.Unlock()
	c.Assert(n, qt.Equals, 0)

	_, err = ctl.Execute(ctx, "bogus")
	c.Assert(err, qt.ErrorMatches, `unknown command "bogus"`)
}

func TestAgentConfigMaxHistoryTrims(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	a := NewAgent(synth.NewAlloc(), "claude", EchoGenerator{})

	c.Assert(a.commitConfig(ctx, []byte("max_history 1\n")), qt.IsNil)
	a.mu.Lock()
	a.history = []string{"user: a", "assistant: a"}
	a.mu.Unlock()

	c.Assert(a.commitInput(ctx, []byte("b")), qt.IsNil)

	a.mu.Lock()
	history := append([]string(nil), a.history...)
	a.mu.Unlock()
	c.Assert(history, qt.HasLen, 1)
	c.Assert(history[0], qt.Equals, "assistant: echo: b")
}
