package processes

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomyedwab/emuhub/library"
)

// State represents the lifecycle of a running game.
type State int

const (
	// StateRunning means the current process has not exited yet.
	StateRunning State = iota
	// StateExited means the current process exited; see Status.ExitCode.
	StateExited
	// StateFailed means a restart could not start a replacement process.
	StateFailed
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateExited:
		return "Exited"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateRunning, StateExited, StateFailed} {
		if string(text) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// ErrGameRemoved is returned when a process is installed on a running game
// that was already removed from its registry.
var ErrGameRemoved = errors.New("running game was removed")

// Status is the lifecycle state plus the exit code when exited.
type Status struct {
	State    State `json:"state" yaml:"state"`
	ExitCode int   `json:"exitCode" yaml:"exit_code"`
}

// RunningGame is one supervised game. It outlives the processes it runs: a
// restart swaps in a new process and keeps the log, capabilities and ID.
type RunningGame struct {
	ID      string
	Game    library.Game
	Log     *LogBuffer
	Started time.Time

	mu           sync.Mutex
	process      Process
	unsubscribe  func()
	status       Status
	lastError    string
	capabilities []string
	hasIPC       bool
	removed      bool
}

func newRunningGame(game library.Game) *RunningGame {
	return &RunningGame{
		ID:      uuid.New().String(),
		Game:    game,
		Log:     NewLogBuffer(),
		Started: time.Now(),
		status:  Status{State: StateRunning},
	}
}

// Process returns the current process handle.
func (rg *RunningGame) Process() Process {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.process
}

func (rg *RunningGame) Status() Status {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.status
}

// SetExited records the exit of the current process.
func (rg *RunningGame) SetExited(code int) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.status = Status{State: StateExited, ExitCode: code}
}

// SetFailed records a failed restart.
func (rg *RunningGame) SetFailed(err error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.status = Status{State: StateFailed, ExitCode: -1}
	if err != nil {
		rg.lastError = err.Error()
	}
}

func (rg *RunningGame) LastError() string {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.lastError
}

func (rg *RunningGame) SetLastError(msg string) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.lastError = msg
}

// AddCapability records a capability advertised by the child. Capabilities
// are kept across restarts.
func (rg *RunningGame) AddCapability(c string) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if !slices.Contains(rg.capabilities, c) {
		rg.capabilities = append(rg.capabilities, c)
	}
}

func (rg *RunningGame) HasCapability(c string) bool {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return slices.Contains(rg.capabilities, c)
}

func (rg *RunningGame) Capabilities() []string {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return slices.Clone(rg.capabilities)
}

// MarkIPC records that a handshake was seen. It is never reset.
func (rg *RunningGame) MarkIPC() {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.hasIPC = true
}

func (rg *RunningGame) HasIPC() bool {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.hasIPC
}

// Kill terminates the current process without removing the game.
func (rg *RunningGame) Kill() {
	if p := rg.Process(); p != nil {
		p.Kill()
	}
}

// attach installs p as the current process with o as its observer and
// returns the previous process. It fails once rg was released; p is then
// left untouched for the caller to clean up.
func (rg *RunningGame) attach(p Process, o Observer) (Process, error) {
	rg.mu.Lock()
	if rg.removed {
		rg.mu.Unlock()
		return nil, ErrGameRemoved
	}
	old := rg.process
	if rg.unsubscribe != nil {
		rg.unsubscribe()
	}
	rg.process = p
	rg.unsubscribe = nil
	rg.status = Status{State: StateRunning}
	rg.mu.Unlock()

	unsubscribe := p.Subscribe(o)

	rg.mu.Lock()
	if rg.process == p {
		rg.unsubscribe = unsubscribe
	} else {
		unsubscribe()
	}
	rg.mu.Unlock()
	return old, nil
}

// Detach stops event delivery to the current observer and returns the
// current process.
func (rg *RunningGame) Detach() Process {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if rg.unsubscribe != nil {
		rg.unsubscribe()
		rg.unsubscribe = nil
	}
	return rg.process
}

// release detaches the current process and drops the reference to it. No
// process can be attached afterwards.
func (rg *RunningGame) release() Process {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if rg.unsubscribe != nil {
		rg.unsubscribe()
		rg.unsubscribe = nil
	}
	p := rg.process
	rg.process = nil
	rg.removed = true
	return p
}

// Snapshot is a point-in-time view of a RunningGame for serialization.
type Snapshot struct {
	ID           string       `json:"id" yaml:"id"`
	Game         library.Game `json:"game" yaml:"game"`
	PID          int          `json:"pid" yaml:"pid"`
	Args         []string     `json:"args" yaml:"args"`
	Started      time.Time    `json:"started" yaml:"started"`
	Status       Status       `json:"status" yaml:"status"`
	LastError    string       `json:"lastError,omitempty" yaml:"last_error,omitempty"`
	Capabilities []string     `json:"capabilities" yaml:"capabilities"`
	HasIPC       bool         `json:"hasIpc" yaml:"has_ipc"`
	LogClasses   []string     `json:"logClasses" yaml:"log_classes"`
	LatestLogID  int64        `json:"latestLogId" yaml:"latest_log_id"`
}

func (rg *RunningGame) Snapshot() Snapshot {
	rg.mu.Lock()
	s := Snapshot{
		ID:           rg.ID,
		Game:         rg.Game,
		Started:      rg.Started,
		Status:       rg.status,
		LastError:    rg.lastError,
		Capabilities: slices.Clone(rg.capabilities),
		HasIPC:       rg.hasIPC,
		Args:         []string{},
	}
	if rg.process != nil {
		s.PID = rg.process.PID()
		s.Args = rg.process.Args()
	}
	rg.mu.Unlock()

	if s.Capabilities == nil {
		s.Capabilities = []string{}
	}
	s.LogClasses = rg.Log.Classes()
	s.LatestLogID = rg.Log.LatestID()
	return s
}
