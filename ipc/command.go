package ipc

// CommandState tracks a multi-line command being received from the child.
// The zero value is idle.
type CommandState struct {
	name string
	args []string
}

// Idle reports whether no command is being collected.
func (s CommandState) Idle() bool {
	return s.name == ""
}

// Name returns the command being collected, or "" when idle.
func (s CommandState) Name() string {
	return s.name
}

// Args returns a copy of the arguments collected so far.
func (s CommandState) Args() []string {
	out := make([]string, len(s.args))
	copy(out, s.args)
	return out
}

// Begin starts collecting arguments for the named command.
func Begin(name string) CommandState {
	return CommandState{name: name, args: []string{}}
}

// Append returns the state with line added to the collected arguments.
func (s CommandState) Append(line string) CommandState {
	args := make([]string, len(s.args), len(s.args)+1)
	copy(args, s.args)
	return CommandState{name: s.name, args: append(args, line)}
}

// IsKnownCommand reports whether name starts a multi-line command.
func IsKnownCommand(name string) bool {
	switch name {
	case CmdRestart:
		return true
	default:
		return false
	}
}
