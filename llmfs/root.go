package llmfs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep/synth"
)

// reservedNames mirrors LLMFSRoot.RESERVED_NAMES: names an agent can't
// take because the root already uses them.
var reservedNames = map[string]bool{"ctl": true, "providers": true}

// Root is the top-level LLMFS tree: /ctl, /providers, and one
// subdirectory per agent, created and destroyed through ctl's
// new/delete grammar. Grounded on original_source/llmfs/
// filesystem.py's LLMFSRoot.
type Root struct {
	*synth.Dir

	alloc     *synth.Alloc
	generator Generator
	providers *synth.StaticFile

	mu     sync.Mutex
	agents map[string]*Agent
}

// NewRoot builds the root tree. gen is used for every agent created
// under it (a single stand-in provider, since real per-provider
// routing is out of scope without real provider clients).
func NewRoot(alloc *synth.Alloc, gen Generator) *Root {
	r := &Root{
		Dir:       synth.NewRoot(""),
		alloc:     alloc,
		generator: gen,
		providers: synth.NewStaticFile(alloc, "providers", []byte("echo:\n  echo-1\n")),
		agents:    map[string]*Agent{},
	}
	must(r.Dir.AddChild(synth.NewControlFile(alloc, "ctl", &rootCtl{r: r})))
	must(r.Dir.AddChild(r.providers))
	return r
}

// rootCtl implements the root's ctl grammar: new/delete/machine, a
// reduced form of LLMFSCtlHandler (av/grok/openai/ts agent variants
// drop out along with the realtime-audio providers they wrap).
type rootCtl struct {
	r *Root

	mu       sync.Mutex
	machines []string
}

func (h *rootCtl) Execute(ctx context.Context, line string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "new":
		if arg == "" {
			return "", fmt.Errorf("usage: new <name>")
		}
		name := strings.Fields(arg)[0]
		if err := h.r.createAgent(name); err != nil {
			return "", err
		}
		return fmt.Sprintf("agent %q created", name), nil

	case "delete":
		if arg == "" {
			return "", fmt.Errorf("usage: delete <name>")
		}
		if !h.r.deleteAgent(arg) {
			return "", fmt.Errorf("agent %q not found", arg)
		}
		return fmt.Sprintf("agent %q deleted", arg), nil

	case "machine":
		sub := strings.SplitN(arg, " ", 2)
		verb := strings.ToLower(sub[0])
		name := ""
		if len(sub) > 1 {
			name = strings.TrimSpace(sub[1])
		}
		switch verb {
		case "add":
			if name == "" {
				return "", fmt.Errorf("usage: machine add <name>")
			}
			h.mu.Lock()
			h.machines = append(h.machines, name)
			h.mu.Unlock()
			return fmt.Sprintf("machine %q registered", name), nil
		case "remove":
			if name == "" {
				return "", fmt.Errorf("usage: machine remove <name>")
			}
			h.mu.Lock()
			for i, m := range h.machines {
				if m == name {
					h.machines = append(h.machines[:i:i], h.machines[i+1:]...)
					break
				}
			}
			h.mu.Unlock()
			return fmt.Sprintf("machine %q unregistered", name), nil
		case "list", "":
			h.mu.Lock()
			list := strings.Join(h.machines, " ")
			h.mu.Unlock()
			if list == "" {
				return "(none)", nil
			}
			return list, nil
		default:
			return "", fmt.Errorf("usage: machine add|remove|list <name>")
		}

	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

func (h *rootCtl) Status(ctx context.Context) map[string]string {
	r := h.r
	r.mu.Lock()
	n := len(r.agents)
	r.mu.Unlock()
	h.mu.Lock()
	machines := len(h.machines)
	h.mu.Unlock()
	return map[string]string{
		"agents":   strconv.Itoa(n),
		"machines": strconv.Itoa(machines),
	}
}

func (r *Root) createAgent(name string) error {
	if reservedNames[name] {
		return fmt.Errorf("%q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %q already exists", name)
	}
	a := NewAgent(r.alloc, name, r.generator)
	if err := r.Dir.AddChild(a); err != nil {
		return err
	}
	r.agents[name] = a
	return nil
}

func (r *Root) deleteAgent(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; !exists {
		return false
	}
	delete(r.agents, name)
	return r.Dir.RemoveChild(name)
}

// AgentNames returns the currently live agent names, sorted.
func (r *Root) AgentNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
