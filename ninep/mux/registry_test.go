package mux

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRegistryAddRemove(t *testing.T) {
	c := qt.New(t)
	var events [][2]string
	r := NewRegistry(map[string]string{"rio": "127.0.0.1:5641"}, func(verb, name, addr string) {
		events = append(events, [2]string{verb, name})
	})

	c.Assert(r.Names(), qt.DeepEquals, []string{"rio"})

	err := r.Add("llm", "127.0.0.1:5640")
	c.Assert(err, qt.IsNil)
	c.Assert(r.Names(), qt.DeepEquals, []string{"llm", "rio"})

	err = r.Add("rio", "127.0.0.1:9999")
	c.Assert(err, qt.ErrorMatches, `backend "rio" already exists`)

	addr, ok := r.Addr("llm")
	c.Assert(ok, qt.Equals, true)
	c.Assert(addr, qt.Equals, "127.0.0.1:5640")

	c.Assert(r.Remove("rio"), qt.Equals, true)
	c.Assert(r.Remove("rio"), qt.Equals, false)
	c.Assert(r.Names(), qt.DeepEquals, []string{"llm"})

	c.Assert(events, qt.DeepEquals, [][2]string{{"add", "llm"}, {"remove", "rio"}})
}

func TestRegistryFormatListing(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(map[string]string{
		"rio": "127.0.0.1:5641",
		"llm": "127.0.0.1:5640",
	}, nil)
	c.Assert(string(r.FormatListing()), qt.Equals, "llm 127.0.0.1:5640\nrio 127.0.0.1:5641\n")
}
