package executor

import (
	"context"
	"sync"
)

// Pauser implements the Executor's cooperative pause/cancel composition
// (spec §4.8, §5 "suspension points"). Run checks it between every
// priority tier and before dispatching each action.
type Pauser struct {
	mu      sync.Mutex
	paused  bool
	resumeC chan struct{}
}

// NewPauser returns a Pauser in the running state.
func NewPauser() *Pauser {
	return &Pauser{resumeC: make(chan struct{})}
}

// Pause suspends future Wait calls until Resume is called.
func (p *Pauser) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused {
		p.paused = true
		p.resumeC = make(chan struct{})
	}
}

// Resume releases any goroutines blocked in Wait.
func (p *Pauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		p.paused = false
		close(p.resumeC)
	}
}

// Wait blocks while paused. Returns ctx.Err() if the context is canceled
// first, nil once resumed (or immediately, if not paused).
func (p *Pauser) Wait(ctx context.Context) error {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}

	c := p.resumeC
	p.mu.Unlock()

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
