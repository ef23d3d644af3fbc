package monitoring

import (
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var logger atomic.Pointer[logFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf is the package-level diagnostic logger used by the bridge's library
// packages. It defaults to log.Printf and may be replaced by SetLogger; it is
// safe to call while another goroutine swaps the logger.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	fn := logFunc(f)
	logger.Store(&fn)
}

// Component is a log prefix for one subsystem, e.g. Component("replay")
// renders messages as "[replay] ...".
type Component string

// Printf logs an informational message.
func (c Component) Printf(format string, v ...interface{}) {
	Logf("["+string(c)+"] "+format, v...)
}

// Warnf logs a degraded-but-continuing condition.
func (c Component) Warnf(format string, v ...interface{}) {
	Logf("["+string(c)+"] warning: "+format, v...)
}
