package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBusy is returned when another edit already holds the gate.
var ErrBusy = errors.New("server is busy")

// Gate admits at most one in-flight edit. Acquire never waits: it either
// grants the slot or fails with ErrBusy.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// MemoryGate is a process-local gate.
type MemoryGate struct {
	busy atomic.Bool
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{}
}

func (g *MemoryGate) Acquire(context.Context) (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.busy.Store(false) })
	}, nil
}

// Busy reports whether an edit currently holds the gate.
func (g *MemoryGate) Busy() bool {
	return g.busy.Load()
}
