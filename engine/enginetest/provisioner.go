package enginetest

import (
	"context"
	"sync"

	"github.com/caffeineduck/datalab/engine"
)

// Provisioner hands out a prepared engine. The first FetchFailures calls to
// Fetch return FetchErr and the first StartFailures calls to Start return
// StartErr. If Hold is non-nil, Fetch blocks until it is closed or ctx ends.
type Provisioner struct {
	Engine engine.Engine

	FetchErr      error
	FetchFailures int
	StartErr      error
	StartFailures int
	Hold          chan struct{}

	mu      sync.Mutex
	fetches int
	starts  int
}

func (p *Provisioner) Fetch(ctx context.Context) ([]byte, error) {
	if p.Hold != nil {
		select {
		case <-p.Hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetches <= p.FetchFailures {
		return nil, p.FetchErr
	}
	return []byte("\x00asm"), nil
}

func (p *Provisioner) Start(ctx context.Context, artifact []byte) (engine.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.starts <= p.StartFailures {
		return nil, p.StartErr
	}
	return p.Engine, nil
}

// Fetches counts Fetch calls.
func (p *Provisioner) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Starts counts Start calls.
func (p *Provisioner) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}
