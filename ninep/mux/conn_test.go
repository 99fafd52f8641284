package mux

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestConnExecCtlGrammar(t *testing.T) {
	c := qt.New(t)
	reg := NewRegistry(map[string]string{"rio": "127.0.0.1:5641"}, nil)
	conn := newConn(1, reg, nil)

	reply, err := conn.execCtl("add llm2 127.0.0.1:5999")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "added llm2 127.0.0.1:5999\n")
	_, ok := reg.Addr("llm2")
	c.Assert(ok, qt.Equals, true)

	_, err = conn.execCtl("add llm2 127.0.0.1:5999")
	c.Assert(err, qt.ErrorMatches, `backend "llm2" already exists`)

	_, err = conn.execCtl("add bad noport")
	c.Assert(err, qt.ErrorMatches, `invalid address "noport", expected host:port`)

	reply, err = conn.execCtl("remove llm2")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "removed llm2\n")

	_, err = conn.execCtl("remove llm2")
	c.Assert(err, qt.ErrorMatches, `backend "llm2" not found`)

	_, err = conn.execCtl("frobnicate")
	c.Assert(err, qt.ErrorMatches, `unknown command "frobnicate"`)

	reply, err = conn.execCtl("   ")
	c.Assert(err, qt.IsNil)
	c.Assert(reply, qt.Equals, "")
}
