package modbus

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerChannels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("srv", log.New(&buf, "", 0))

	l.Debugf("d=%d", 1)
	l.Infof("i=%d", 2)
	l.Warningf("w=%d", 3)
	l.Errorf("e=%d", 4)
	l.Authf("a=%d", 5)

	out := buf.String()
	for _, want := range []string{
		"srv [debug]: d=1",
		"srv [info]: i=2",
		"srv [warn]: w=3",
		"srv [error]: e=4",
		"srv [auth]: a=5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q, got:\n%s", want, out)
		}
	}
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	var l Logger = nopLogger{}
	// none of these should panic; there is nothing else to assert since
	// the whole point of nopLogger is to produce no observable effect.
	l.Debug("x")
	l.Infof("x=%d", 1)
	l.Warning("x")
	l.Errorf("x=%d", 1)
	l.Auth("x")
}
