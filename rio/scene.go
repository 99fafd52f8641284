// Package rio builds the synthetic filesystem exposed by cmd/riosrvd:
// a ctl file, a code pane whose clunk hands the assembled payload to a
// CodeExecutor, a versioned snapshot file, and a blocking-output events
// feed, grounded on original_source/rio/scene.py and
// original_source/rio/acme/acme_fs.go's buffered-write idiom.
package rio

import (
	"context"
	"fmt"
	"sync"

	"github.com/peripherialabs/peribus-sub001/ninep/synth"
)

// CodeExecutor stands in for the real Qt scene executor (out of scope
// per the core's external-collaborator boundary: the core only hands
// it bytes on clunk). RecordingExecutor below is the only
// implementation this repo ships.
type CodeExecutor interface {
	Execute(ctx context.Context, code string) error
}

// RecordingExecutor just remembers what it was given, so the
// filesystem plumbing (code pane, snapshot versioning, event feed) can
// be exercised without a real Qt scene behind it.
type RecordingExecutor struct {
	mu  sync.Mutex
	log []string
}

func (r *RecordingExecutor) Execute(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, code)
	return nil
}

// Executed returns every code payload handed to Execute so far.
func (r *RecordingExecutor) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// Scene is the root of riosrvd's tree: ctl, code, snapshot, events.
// Grounded on original_source/rio/scene.py's SceneManager/
// VersionManager pair, reduced to the parts a headless core can drive
// (no Qt item graph, no undo/redo UI — just the version ledger and the
// events a reader can block on).
type Scene struct {
	*synth.Dir

	executor CodeExecutor
	events   *synth.BlockingOutput

	mu       sync.Mutex
	versions []sceneVersion
}

type sceneVersion struct {
	version int
	code    string
}

// NewScene builds the tree. exec stands in for the Qt executor.
func NewScene(alloc *synth.Alloc, exec CodeExecutor) *Scene {
	s := &Scene{
		Dir:      synth.NewRoot(""),
		executor: exec,
		events:   synth.NewBlockingOutput(alloc, "events"),
	}
	if err := s.Dir.AddChild(synth.NewControlFile(alloc, "ctl", &sceneCtl{s: s})); err != nil {
		panic(err)
	}
	if err := s.Dir.AddChild(synth.NewBufferedWriter(alloc, "code", false, s.commitCode)); err != nil {
		panic(err)
	}
	if err := s.Dir.AddChild(synth.NewBufferedWriter(alloc, "snapshot", false, s.commitSnapshot)); err != nil {
		panic(err)
	}
	if err := s.Dir.AddChild(s.events); err != nil {
		panic(err)
	}
	return s
}

// commitCode is the "code" file's write-then-clunk hook: the complete
// payload is executed once, then recorded as a new version and
// announced on the events feed, mirroring take_snapshot's pairing of
// "code that was executed" with a new version number.
func (s *Scene) commitCode(ctx context.Context, payload []byte) error {
	code := string(payload)
	if code == "" {
		return nil
	}
	if err := s.executor.Execute(ctx, code); err != nil {
		s.events.MarkReady([]byte(fmt.Sprintf("error %s\n", err)))
		return nil
	}
	s.mu.Lock()
	version := len(s.versions) + 1
	s.versions = append(s.versions, sceneVersion{version: version, code: code})
	s.mu.Unlock()
	s.events.MarkReady([]byte(fmt.Sprintf("version %d\n", version)))
	return nil
}

// commitSnapshot records an out-of-band version without executing
// anything — used to checkpoint namespace/widget state the client has
// already serialized itself, mirroring SceneSnapshot.namespace_snapshot.
// Only the new version number is kept; the payload itself is discarded.
func (s *Scene) commitSnapshot(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	version := len(s.versions) + 1
	s.versions = append(s.versions, sceneVersion{version: version, code: ""})
	s.mu.Unlock()
	s.events.MarkReady([]byte(fmt.Sprintf("snapshot %d\n", version)))
	return nil
}

// sceneCtl implements the scene's ctl grammar: only "clear", reduced
// from AcmeCtlFile's Get/Put/Del/Code/Main/Clear/show/ai set
// to the part that makes sense without a window or AI agent attached.
type sceneCtl struct{ s *Scene }

func (h *sceneCtl) Execute(ctx context.Context, line string) (string, error) {
	switch line {
	case "clear":
		h.s.mu.Lock()
		h.s.versions = nil
		h.s.mu.Unlock()
		return "cleared", nil
	default:
		return "", fmt.Errorf("unknown command %q", line)
	}
}

func (h *sceneCtl) Status(ctx context.Context) map[string]string {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	v := 0
	if len(s.versions) > 0 {
		v = s.versions[len(s.versions)-1].version
	}
	return map[string]string{
		"versions": fmt.Sprintf("%d", len(s.versions)),
		"current":  fmt.Sprintf("%d", v),
	}
}
