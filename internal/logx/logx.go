// Package logx is a thin structured-logging shim over glog. It exists so
// the rest of the tree depends on a narrow interface instead of glog's
// global flag-based configuration, and so every log line carries the
// operation label as a field rather than a prose prefix.
package logx

import (
	"fmt"

	"github.com/golang/glog"
)

// Fields is an ordered list of key/value pairs appended to a log line.
type Fields []any

// F builds a single key/value pair for use in a Fields list.
func F(key string, value any) any { return field{key, value} }

type field struct {
	key   string
	value any
}

// Logger scopes every call with a component name, attached as the first
// field of each line.
type Logger struct {
	component string
}

// New returns a Logger tagging every line with component.
func New(component string) *Logger {
	return &Logger{component: component}
}

// Warningf logs at WARNING severity: used for StalenessIgnored and
// TransientBookkeeping errors per spec.md §7 ("log + drop", "logged;
// swallowed").
func (l *Logger) Warningf(op string, err error, fields ...any) {
	glog.WarningDepth(1, l.format(op, err, fields))
}

// Errorf logs at ERROR severity: used for failures that are swallowed at a
// boundary but would otherwise be surprising operationally.
func (l *Logger) Errorf(op string, err error, fields ...any) {
	glog.ErrorDepth(1, l.format(op, err, fields))
}

func (l *Logger) format(op string, err error, fields []any) string {
	msg := fmt.Sprintf("component=%s op=%s", l.component, op)

	for _, f := range fields {
		if kv, ok := f.(field); ok {
			msg += fmt.Sprintf(" %s=%v", kv.key, kv.value)
		}
	}

	if err != nil {
		msg += fmt.Sprintf(" err=%v", err)
	}

	return msg
}
