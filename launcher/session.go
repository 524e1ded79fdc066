package launcher

import (
	"log/slog"

	"github.com/tomyedwab/emuhub/ipc"
	"github.com/tomyedwab/emuhub/processes"
)

// session decodes the event stream of one process. handle is only called
// from the process's delivery goroutine, so the fields need no locking.
type session struct {
	launcher *Launcher
	rg       *processes.RunningGame
	proc     processes.Process
	ready    *readySignal
	logger   *slog.Logger

	firstLine           bool
	readingCapabilities bool
	command             ipc.CommandState
	restarting          bool
}

func newSession(l *Launcher, rg *processes.RunningGame, proc processes.Process, ready *readySignal) *session {
	return &session{
		launcher:  l,
		rg:        rg,
		proc:      proc,
		ready:     ready,
		logger:    l.logger.With("id", rg.ID, "pid", proc.PID()),
		firstLine: true,
	}
}

func (s *session) handle(ev processes.Event) {
	switch ev := ev.(type) {
	case processes.LogEvent:
		s.firstLine = false
		s.rg.Log.Append(ev.Time, ev.Level, ev.Class, ev.Message)
	case processes.LogClassAddedEvent:
		first := s.firstLine
		s.firstLine = false
		s.rg.Log.AddClass(ev.Class)
		if first {
			s.ready.Fire()
		}
	case processes.ExitedEvent:
		s.rg.SetExited(ev.ExitCode)
		s.logger.Info("Game exited", "exitCode", ev.ExitCode)
		s.launcher.record("exit", s.launcher.recorder.LogExit(s.rg.Game.ID, s.rg.ID, s.proc.PID(), ev.ExitCode))
	case processes.IOErrorEvent:
		s.logger.Warn("Game process I/O error", "error", ev.Err)
		s.rg.SetLastError(ev.Err.Error())
	case processes.ControlLineEvent:
		s.controlLine(ev.Line)
	}
}

func (s *session) controlLine(line string) {
	if s.firstLine {
		s.firstLine = false
		s.rg.MarkIPC()
	}

	if line == ipc.MarkerEnabled {
		s.rg.MarkIPC()
		s.readingCapabilities = true
		return
	}
	if s.readingCapabilities {
		if line == ipc.MarkerEnd {
			s.readingCapabilities = false
			s.proc.Send(ipc.CmdRun)
			s.ready.Fire()
			return
		}
		s.rg.AddCapability(line)
		return
	}

	if !s.command.Idle() {
		s.command = s.command.Append(line)
		s.runCommand()
		return
	}
	if ipc.IsKnownCommand(line) {
		s.command = ipc.Begin(line)
		return
	}
	s.logger.Debug("Ignoring control line", "line", line)
}

// runCommand is called after every argument line. Handlers do nothing until
// enough arguments arrived.
func (s *session) runCommand() {
	switch s.command.Name() {
	case ipc.CmdRestart:
		args, ok, err := ipc.RestartArgs(s.command.Args())
		if err != nil {
			s.logger.Warn("Dropping malformed command", "command", ipc.CmdRestart, "error", err)
			s.command = ipc.CommandState{}
			return
		}
		if !ok {
			return
		}
		s.command = ipc.CommandState{}
		s.restart(args)
	}
}

// restart stops this session's process and relaunches the game with args.
// The session detaches itself first so stale events from the old process are
// not applied to the running game.
func (s *session) restart(args []string) {
	if s.restarting {
		return
	}
	s.restarting = true
	s.logger.Info("Restart requested by emulator", "args", args)

	s.rg.Detach()
	s.proc.Send(ipc.CmdStop)
	go s.launcher.restart(s.rg, s.proc, args)
}
