package launcher

import "sync"

// readySignal fires at most once. Firing again is a no-op.
type readySignal struct {
	once sync.Once
	ch   chan struct{}
}

func newReadySignal() *readySignal {
	return &readySignal{ch: make(chan struct{})}
}

func (r *readySignal) Fire() {
	r.once.Do(func() { close(r.ch) })
}

func (r *readySignal) Done() <-chan struct{} {
	return r.ch
}
