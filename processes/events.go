package processes

import (
	"time"
)

// Event is a single item of a process event stream. The concrete types are
// LogEvent, LogClassAddedEvent, ExitedEvent, IOErrorEvent and ControlLineEvent.
type Event interface {
	isEvent()
}

// LogEvent is a parsed log line. The row ID is assigned when the entry is
// appended to a LogBuffer.
type LogEvent struct {
	Time    time.Time
	Level   Level
	Class   string
	Message string
}

// LogClassAddedEvent is emitted the first time a log class is seen on a
// process, before the LogEvent that carries it.
type LogClassAddedEvent struct {
	Class string
}

// ExitedEvent is the last event of a stream. ExitCode is -1 when the process
// was killed by a signal or the code is otherwise unknown.
type ExitedEvent struct {
	ExitCode int
}

// IOErrorEvent reports a failure reading from or writing to the child.
type IOErrorEvent struct {
	Err error
}

// ControlLineEvent carries one control-channel line with its marker stripped.
type ControlLineEvent struct {
	Line string
}

func (LogEvent) isEvent()           {}
func (LogClassAddedEvent) isEvent() {}
func (ExitedEvent) isEvent()        {}
func (IOErrorEvent) isEvent()       {}
func (ControlLineEvent) isEvent()   {}

// Observer receives the events of a process, one at a time and in order.
type Observer func(Event)
