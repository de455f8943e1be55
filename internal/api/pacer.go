package api

import (
	"context"
	"sync"
	"time"
)

// pacer spaces out requests. It is shared by every call on a Client.
type pacer struct {
	mu    sync.Mutex
	unit  time.Duration
	max   time.Duration
	burst int

	delay time.Duration
	run   int // consecutive successes
}

func newPacer(unit, max time.Duration, burst int) *pacer {
	return &pacer{unit: unit, max: max, burst: burst}
}

// wait sleeps for the current delay or until ctx is done.
func (p *pacer) wait(ctx context.Context) error {
	d := p.current()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *pacer) current() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

func (p *pacer) success() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run++
	if p.run < p.burst {
		p.delay = 0
	} else {
		p.delay = p.unit
	}
}

func (p *pacer) failure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run = 0
	p.delay = min(max(p.unit, 2*p.delay), p.max)
}
