package rio

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/peripherialabs/peribus-sub001/ninep/synth"
)

func TestSceneCodeExecutesAndAnnouncesVersion(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	exec := &RecordingExecutor{}
	s := NewScene(synth.NewAlloc(), exec)

	c.Assert(s.commitCode(ctx, []byte("label = QLabel()")), qt.IsNil)
	c.Assert(exec.Executed(), qt.DeepEquals, []string{"label = QLabel()"})

	eh, err := s.events.Open(ctx, 0)
	c.Assert(err, qt.IsNil)
	buf := make([]byte, 32)
	n, err := eh.ReadAt(ctx, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf[:n]), qt.Equals, "version 1\n")

	// The same cat's trailing read, past the version already handed
	// back, must see ordinary EOF, not block forever.
	n, err = eh.ReadAt(ctx, buf, int64(n))
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)
}

func TestSceneSnapshotVersionsWithoutExecuting(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	exec := &RecordingExecutor{}
	s := NewScene(synth.NewAlloc(), exec)

	c.Assert(s.commitSnapshot(ctx, []byte(`{"vars":{}}`)), qt.IsNil)
	c.Assert(exec.Executed(), qt.HasLen, 0)

	s.mu.Lock()
	n := len(s.versions)
	s.mu.Unlock()
	c.Assert(n, qt.Equals, 1)
}

func TestSceneCtlClearResetsVersions(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	exec := &RecordingExecutor{}
	s := NewScene(synth.NewAlloc(), exec)
	c.Assert(s.commitCode(ctx, []byte("x = 1")), qt.IsNil)

	ctl := &sceneCtl{s: s}
	reply, err := ctl.Execute(ctx, "clear")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "cleared")

	status := ctl.Status(ctx)
	c.Assert(status["versions"], qt.Equals, "0")

	_, err = ctl.Execute(ctx, "bogus")
	c.Assert(err, qt.ErrorMatches, `unknown command "bogus"`)
}
