package llmfs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep/synth"
)

// Agent is one LLM conversation: a named subtree of
// ctl/input/output/history/config/system/state/errors, grounded on
// original_source/llmfs/agent.py's Agent and its file-per-concern
// split (AgentInputFile, AgentHistoryFile, AgentCtlHandler, ...).
type Agent struct {
	*synth.Dir

	name      string
	generator Generator

	output *synth.StreamFile
	errors *synth.QueueFile

	mu         sync.Mutex
	state      string
	system     string
	historyOn  bool
	history    []string // rendered "role: content" lines, oldest first
	maxHistory int
	lastErr    string
}

// NewAgent builds the subtree for a newly created agent named name.
func NewAgent(alloc *synth.Alloc, name string, gen Generator) *Agent {
	a := &Agent{
		Dir:       synth.NewDir(alloc, name),
		name:      name,
		generator: gen,
		state:     "idle",
		historyOn: true,
		output:    synth.NewStreamFile(alloc, "output"),
		errors:    synth.NewQueueFile(alloc, "errors"),
	}
	must(a.Dir.AddChild(synth.NewControlFile(alloc, "ctl", &agentCtl{a: a})))
	must(a.Dir.AddChild(synth.NewBufferedWriter(alloc, "input", false, a.commitInput)))
	must(a.Dir.AddChild(a.output))
	must(a.Dir.AddChild(synth.NewBufferedWriter(alloc, "history", true, a.commitHistory)))
	must(a.Dir.AddChild(synth.NewBufferedWriter(alloc, "config", true, a.commitConfig)))
	must(a.Dir.AddChild(synth.NewBufferedWriter(alloc, "system", true, a.commitSystem)))
	must(a.Dir.AddChild(synth.NewControlFile(alloc, "state", &agentState{a: a})))
	must(a.Dir.AddChild(a.errors))
	return a
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// commitInput fires generation with the complete buffered prompt, per
// AgentInputFile.clunk's "one generate() per clunk, not per write"
// rule.
func (a *Agent) commitInput(ctx context.Context, payload []byte) error {
	prompt := strings.TrimSpace(string(payload))
	if prompt == "" {
		return nil
	}
	a.mu.Lock()
	a.state = "streaming"
	if a.historyOn {
		a.history = append(a.history, "user: "+prompt)
	}
	a.mu.Unlock()

	a.output.Reset()
	reply, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		a.mu.Lock()
		a.state = "error"
		a.lastErr = err.Error()
		a.mu.Unlock()
		a.errors.Post([]byte(err.Error() + "\n"))
		a.output.Finish()
		return nil
	}
	a.output.Append([]byte(reply))
	a.output.Finish()

	a.mu.Lock()
	a.state = "done"
	if a.historyOn {
		a.history = append(a.history, "assistant: "+reply)
		a.trimHistoryLocked()
	}
	a.mu.Unlock()
	return nil
}

// trimHistoryLocked drops the oldest messages once maxHistory is
// exceeded. Must be called with a.mu held.
func (a *Agent) trimHistoryLocked() {
	if a.maxHistory <= 0 || len(a.history) <= a.maxHistory {
		return
	}
	overflow := len(a.history) - a.maxHistory
	a.history = a.history[overflow:]
}

// commitHistory implements the Unix-redirection history idiom from
// AgentHistoryFile: a write at offset 0 (echo > history) replaces the
// transcript; the buffered-writer preload means a write that begins
// past the start (echo >> history, appending to the preloaded content)
// extends it instead.
func (a *Agent) commitHistory(ctx context.Context, payload []byte) error {
	text := strings.TrimRight(string(payload), "\n")
	a.mu.Lock()
	defer a.mu.Unlock()
	if text == "" {
		a.history = nil
		return nil
	}
	a.history = strings.Split(text, "\n")
	return nil
}

// commitConfig parses "key value" lines, matching the ctl-grammar
// convention used throughout this tree rather than introducing a JSON
// parser for a handful of scalar settings.
func (a *Agent) commitConfig(ctx context.Context, payload []byte) error {
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == "max_history" {
			n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return fmt.Errorf("config: max_history: %w", err)
			}
			a.mu.Lock()
			a.maxHistory = n
			a.mu.Unlock()
		}
	}
	return nil
}

func (a *Agent) commitSystem(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	a.system = strings.TrimRight(string(payload), "\n")
	a.mu.Unlock()
	return nil
}

// agentCtl is the agent's "ctl" CtlHandler: system/clear/cancel/history
// on|off, a reduced form of AgentCtlHandler's command set (provider
// switching and plumbing rules are out of scope without a real
// provider or the Qt scene behind them).
type agentCtl struct{ a *Agent }

func (h *agentCtl) Execute(ctx context.Context, line string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	a := h.a
	switch cmd {
	case "system":
		if arg == "" {
			a.mu.Lock()
			sys := a.system
			a.mu.Unlock()
			if sys == "" {
				return "(none)", nil
			}
			return sys, nil
		}
		a.mu.Lock()
		a.system = arg
		a.mu.Unlock()
		return "system prompt set", nil

	case "clear":
		a.mu.Lock()
		a.history = nil
		a.state = "idle"
		a.mu.Unlock()
		a.output.Reset()
		return "history cleared", nil

	case "cancel":
		a.mu.Lock()
		if a.state == "streaming" {
			a.state = "cancelled"
		}
		a.mu.Unlock()
		a.output.Finish()
		return "cancelled", nil

	case "history":
		if arg == "" {
			a.mu.Lock()
			on := a.historyOn
			a.mu.Unlock()
			if on {
				return "on", nil
			}
			return "off", nil
		}
		switch strings.ToLower(arg) {
		case "on":
			a.mu.Lock()
			a.historyOn = true
			a.mu.Unlock()
			return "history enabled", nil
		case "off":
			a.mu.Lock()
			a.historyOn = false
			a.mu.Unlock()
			return "history disabled", nil
		default:
			return "", fmt.Errorf("usage: history on|off")
		}

	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

func (h *agentCtl) Status(ctx context.Context) map[string]string {
	a := h.a
	a.mu.Lock()
	defer a.mu.Unlock()
	st := map[string]string{
		"state":      a.state,
		"messages":   strconv.Itoa(len(a.history)),
		"history":    onOff(a.historyOn),
		"maxhistory": strconv.Itoa(a.maxHistory),
	}
	if a.lastErr != "" {
		st["error"] = a.lastErr
	}
	return st
}

// agentState backs the "state" file: a read-only status snapshot
// reusing the control-file idiom (Execute always rejects, Status
// renders the same fields as ctl so `cat state` works without a
// command grammar of its own), in place of AgentStateFile's dedicated
// read-only file type.
type agentState struct{ a *Agent }

func (h *agentState) Execute(ctx context.Context, line string) (string, error) {
	return "", fmt.Errorf("state is read-only")
}

func (h *agentState) Status(ctx context.Context) map[string]string {
	return (&agentCtl{a: h.a}).Status(ctx)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
