package processes

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tomyedwab/emuhub/ipc"
)

const (
	classStdout = "STDOUT"
	classStderr = "STDERR"

	maxLineSize = 1024 * 1024
)

// Process is a handle on a running emulator child.
type Process interface {
	PID() int
	Exe() string
	WorkingDir() string
	Args() []string

	// Send queues a line for the child's stdin. It never blocks; write
	// failures are reported as IOErrorEvent.
	Send(line string)
	SendMemoryPatch(p ipc.MemoryPatch)

	// Subscribe makes o the only observer of the event stream. The returned
	// function detaches o if it is still the current observer.
	Subscribe(o Observer) (unsubscribe func())

	Kill()
	Dispose()
}

// SpawnError is returned when the child could not be started.
type SpawnError struct {
	Exe        string
	WorkingDir string
	Args       []string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s in %s: %v", e.Exe, e.WorkingDir, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

type streamKind int

const (
	streamStdout streamKind = iota
	streamStderr
)

// item is either a raw output line or a terminal event for the pump.
type item struct {
	stream streamKind
	line   string
	event  Event
}

// GameProcess runs an emulator child with piped stdio and turns its output
// into an ordered event stream.
type GameProcess struct {
	cmd        *exec.Cmd
	exe        string
	workingDir string
	args       []string
	pid        int
	logger     *slog.Logger

	stdin io.WriteCloser

	items chan item     // readers and writer -> pump
	done  chan struct{} // closed by the pump after the exit event

	// outbound queue for stdin
	queueMu sync.Mutex
	queue   []string
	wake    chan struct{}
	stop    chan struct{}

	mu           sync.Mutex
	observer     Observer
	observerGen  uint64
	subscribed   chan struct{}
	subscribeOne sync.Once
	disposed     bool

	killOnce    sync.Once
	disposeOnce sync.Once
}

// SpawnOption customizes Spawn.
type SpawnOption func(*spawnOptions)

type spawnOptions struct {
	logger *slog.Logger
	env    []string
}

// WithLogger sets the logger used for process diagnostics.
func WithLogger(logger *slog.Logger) SpawnOption {
	return func(o *spawnOptions) {
		o.logger = logger
	}
}

// WithEnv appends variables to the inherited environment of the child.
func WithEnv(env ...string) SpawnOption {
	return func(o *spawnOptions) {
		o.env = append(o.env, env...)
	}
}

// Spawn starts exe in workingDir with args. Events are buffered until the
// first call to Subscribe.
func Spawn(exe, workingDir string, args []string, opts ...SpawnOption) (*GameProcess, error) {
	options := spawnOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	args = append([]string(nil), args...)
	spawnErr := func(err error) error {
		return &SpawnError{Exe: exe, WorkingDir: workingDir, Args: args, Err: err}
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = workingDir
	if len(options.env) > 0 {
		cmd.Env = append(os.Environ(), options.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnErr(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnErr(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnErr(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, spawnErr(err)
	}

	p := &GameProcess{
		cmd:        cmd,
		exe:        exe,
		workingDir: workingDir,
		args:       args,
		pid:        cmd.Process.Pid,
		stdin:      stdin,
		items:      make(chan item, 64),
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		subscribed: make(chan struct{}),
	}
	p.logger = options.logger.With("component", "GameProcess", "pid", p.pid, "exe", exe)
	p.logger.Info("Game process started", "workingDir", workingDir, "args", args)

	var readers sync.WaitGroup
	var readErr error
	var readErrMu sync.Mutex
	read := func(r io.Reader, stream streamKind) {
		defer readers.Done()
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			line, truncated, err := readLine(br)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErrMu.Lock()
					if readErr == nil {
						readErr = fmt.Errorf("failed to read output of pid %d: %w", p.pid, err)
					}
					readErrMu.Unlock()
					// Keep the pipe empty so the child never blocks on a write.
					_, _ = io.Copy(io.Discard, r)
				}
				return
			}
			if truncated {
				p.logger.Warn("Truncated long output line", "limit", maxLineSize)
			}
			p.items <- item{stream: stream, line: line}
		}
	}
	readers.Add(2)
	go read(stdout, streamStdout)
	go read(stderr, streamStderr)

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		if readErr != nil {
			p.items <- item{event: IOErrorEvent{Err: readErr}}
		}
		code := exitCode(cmd, waitErr)
		p.logger.Info("Game process exited", "exitCode", code)
		p.items <- item{event: ExitedEvent{ExitCode: code}}
	}()

	go p.writeLoop()
	go p.pump()

	return p, nil
}

// readLine reads one line without its terminator. Bytes past maxLineSize are
// read and dropped, and truncated is set.
func readLine(br *bufio.Reader) (line string, truncated bool, err error) {
	var buf []byte
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(buf) > 0 || truncated {
				return string(buf), truncated, nil
			}
			return "", false, err
		}
		if room := maxLineSize - len(buf); len(frag) > room {
			frag = frag[:room]
			truncated = true
		}
		buf = append(buf, frag...)
		if !isPrefix {
			return string(buf), truncated, nil
		}
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if waitErr != nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// pump converts raw lines to events and delivers them to the observer. It is
// the only goroutine that calls the observer.
func (p *GameProcess) pump() {
	defer close(p.done)
	<-p.subscribed

	classes := make(map[string]struct{})
	for it := range p.items {
		if it.event != nil {
			p.deliver(it.event)
			if _, ok := it.event.(ExitedEvent); ok {
				return
			}
			continue
		}
		for _, ev := range classify(it.stream, it.line, classes) {
			p.deliver(ev)
		}
	}
}

func classify(stream streamKind, line string, classes map[string]struct{}) []Event {
	line = strings.TrimRight(line, "\r")
	if strings.HasPrefix(line, ipc.ControlLinePrefix) {
		return []Event{ControlLineEvent{Line: strings.TrimPrefix(line, ipc.ControlLinePrefix)}}
	}

	now := time.Now()
	var ev LogEvent
	if stream == streamStdout {
		if class, level, message, ok := ParseLogLine(line); ok {
			ev = LogEvent{Time: now, Level: level, Class: class, Message: message}
		} else {
			ev = LogEvent{Time: now, Level: LevelUnknown, Class: classStdout, Message: line}
		}
	} else {
		ev = LogEvent{Time: now, Level: LevelUnknown, Class: classStderr, Message: line}
	}

	if _, seen := classes[ev.Class]; seen {
		return []Event{ev}
	}
	classes[ev.Class] = struct{}{}
	return []Event{LogClassAddedEvent{Class: ev.Class}, ev}
}

func (p *GameProcess) deliver(ev Event) {
	p.mu.Lock()
	observer := p.observer
	p.mu.Unlock()
	if observer != nil {
		observer(ev)
	}
}

func (p *GameProcess) writeLoop() {
	defer p.stdin.Close()
	for {
		select {
		case <-p.stop:
			return
		case <-p.done:
			return
		case <-p.wake:
		}

		p.queueMu.Lock()
		lines := p.queue
		p.queue = nil
		p.queueMu.Unlock()

		for _, line := range lines {
			if _, err := io.WriteString(p.stdin, line); err != nil {
				p.logger.Warn("Failed to write to game process", "error", err)
				select {
				case p.items <- item{event: IOErrorEvent{Err: fmt.Errorf("failed to write to stdin of pid %d: %w", p.pid, err)}}:
				case <-p.done:
				}
				return
			}
		}
	}
}

func (p *GameProcess) PID() int           { return p.pid }
func (p *GameProcess) Exe() string        { return p.exe }
func (p *GameProcess) WorkingDir() string { return p.workingDir }
func (p *GameProcess) Args() []string     { return append([]string(nil), p.args...) }

// Done is closed once the exit event has been delivered, or dropped after
// Dispose.
func (p *GameProcess) Done() <-chan struct{} {
	return p.done
}

func (p *GameProcess) Send(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return
	}

	p.queueMu.Lock()
	p.queue = append(p.queue, line)
	p.queueMu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *GameProcess) SendMemoryPatch(patch ipc.MemoryPatch) {
	p.Send(patch.Encode())
}

func (p *GameProcess) Subscribe(o Observer) func() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return func() {}
	}
	p.observerGen++
	gen := p.observerGen
	p.observer = o
	p.mu.Unlock()
	p.subscribeOne.Do(func() { close(p.subscribed) })

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.observerGen == gen {
			p.observer = nil
		}
	}
}

// Kill terminates the child forcefully. The exit is reported through the
// event stream.
func (p *GameProcess) Kill() {
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return
	}
	p.killOnce.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Failed to kill game process", "error", err)
		}
	})
}

// Dispose detaches the observer and closes stdin. The child keeps running if
// it was not killed first.
func (p *GameProcess) Dispose() {
	p.disposeOnce.Do(func() {
		p.mu.Lock()
		p.disposed = true
		p.observer = nil
		p.observerGen++
		p.mu.Unlock()
		close(p.stop)
		// Let the pump drain so the reader goroutines never block.
		p.subscribeOne.Do(func() { close(p.subscribed) })
	})
}
