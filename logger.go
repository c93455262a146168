package modbus

import (
	"fmt"
	"log"
	"os"
)

// Logger is the injectable logging capability. It exposes five
// severity channels: Debug and Info for routine tracing, Warning and
// Error for recoverable and connection-ending faults, and Auth for
// connection accept/reject decisions (kept distinct so deployments
// can route access-control events to an audit sink).
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warning(msg string)
	Warningf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	Auth(msg string)
	Authf(format string, args ...interface{})
}

// stdLogger is the default Logger implementation: a thin wrapper
// around the standard library's log.Logger, tagging every line with a
// prefix and severity channel.
type stdLogger struct {
	prefix string
	out    *log.Logger
}

// NewLogger returns a Logger that prefixes every line with prefix and
// writes through out. If out is nil, messages go to os.Stdout via a
// freshly created log.Logger with no extra flags.
func NewLogger(prefix string, out *log.Logger) Logger {
	if out == nil {
		out = log.New(os.Stdout, "", 0)
	}
	return &stdLogger{prefix: prefix, out: out}
}

func (l *stdLogger) write(channel, msg string) {
	l.out.Printf("%s [%s]: %s", l.prefix, channel, msg)
}

func (l *stdLogger) Debug(msg string) { l.write("debug", msg) }
func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.write("debug", fmt.Sprintf(format, args...))
}

func (l *stdLogger) Info(msg string) { l.write("info", msg) }
func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.write("info", fmt.Sprintf(format, args...))
}

func (l *stdLogger) Warning(msg string) { l.write("warn", msg) }
func (l *stdLogger) Warningf(format string, args ...interface{}) {
	l.write("warn", fmt.Sprintf(format, args...))
}

func (l *stdLogger) Error(msg string) { l.write("error", msg) }
func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.write("error", fmt.Sprintf(format, args...))
}

func (l *stdLogger) Auth(msg string) { l.write("auth", msg) }
func (l *stdLogger) Authf(format string, args ...interface{}) {
	l.write("auth", fmt.Sprintf(format, args...))
}

// nopLogger discards everything; used as the default when the caller
// never supplies a Logger.
type nopLogger struct{}

func (nopLogger) Debug(string)                          {}
func (nopLogger) Debugf(string, ...interface{})         {}
func (nopLogger) Info(string)                           {}
func (nopLogger) Infof(string, ...interface{})          {}
func (nopLogger) Warning(string)                        {}
func (nopLogger) Warningf(string, ...interface{})       {}
func (nopLogger) Error(string)                          {}
func (nopLogger) Errorf(string, ...interface{})         {}
func (nopLogger) Auth(string)                           {}
func (nopLogger) Authf(string, ...interface{})          {}
