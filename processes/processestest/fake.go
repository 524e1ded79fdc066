// Package processestest provides an in-memory processes.Process for tests.
package processestest

import (
	"slices"
	"sync"

	"github.com/tomyedwab/emuhub/ipc"
	"github.com/tomyedwab/emuhub/processes"
)

// Process is a scripted process handle. Events passed to Emit are delivered
// asynchronously, in order, to the current observer once one is subscribed.
type Process struct {
	pid        int
	exe        string
	workingDir string
	args       []string

	// OnSend, when set, is called for every line passed to Send.
	OnSend func(p *Process, line string)

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []processes.Event
	observer   processes.Observer
	gen        int
	subscribed bool
	delivering bool
	disposed   bool
	sent       []string
	kills      int
	disposes   int
}

// New returns a fake process and starts its delivery goroutine.
func New(pid int, exe, workingDir string, args []string) *Process {
	p := &Process{
		pid:        pid,
		exe:        exe,
		workingDir: workingDir,
		args:       slices.Clone(args),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.pump()
	return p
}

func (p *Process) pump() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for !p.disposed && (!p.subscribed || len(p.pending) == 0) {
			p.cond.Wait()
		}
		if p.disposed {
			p.pending = nil
			p.cond.Broadcast()
			return
		}
		ev := p.pending[0]
		p.pending = p.pending[1:]
		observer := p.observer
		p.delivering = true
		p.mu.Unlock()
		if observer != nil {
			observer(ev)
		}
		p.mu.Lock()
		p.delivering = false
		p.cond.Broadcast()
	}
}

// Emit queues events for delivery.
func (p *Process) Emit(events ...processes.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, events...)
	p.cond.Broadcast()
}

// EmitControl queues one ControlLineEvent per line.
func (p *Process) EmitControl(lines ...string) {
	events := make([]processes.Event, 0, len(lines))
	for _, line := range lines {
		events = append(events, processes.ControlLineEvent{Line: line})
	}
	p.Emit(events...)
}

// Drain blocks until every queued event has been delivered or the process
// is disposed.
func (p *Process) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.disposed && (len(p.pending) > 0 || p.delivering) {
		p.cond.Wait()
	}
}

func (p *Process) PID() int           { return p.pid }
func (p *Process) Exe() string        { return p.exe }
func (p *Process) WorkingDir() string { return p.workingDir }
func (p *Process) Args() []string     { return slices.Clone(p.args) }

func (p *Process) Send(line string) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.sent = append(p.sent, line)
	hook := p.OnSend
	p.mu.Unlock()
	if hook != nil {
		hook(p, line)
	}
}

func (p *Process) SendMemoryPatch(patch ipc.MemoryPatch) {
	p.Send(patch.Encode())
}

func (p *Process) Subscribe(o processes.Observer) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return func() {}
	}
	p.gen++
	gen := p.gen
	p.observer = o
	p.subscribed = true
	p.cond.Broadcast()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.observer = nil
		}
	}
}

func (p *Process) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
}

func (p *Process) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposes++
	p.disposed = true
	p.observer = nil
	p.cond.Broadcast()
}

// Sent returns the lines passed to Send so far.
func (p *Process) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// Kills returns how many times Kill was called.
func (p *Process) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// Disposes returns how many times Dispose was called.
func (p *Process) Disposes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposes
}

// Subscribed reports whether an observer is currently attached.
func (p *Process) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observer != nil
}
