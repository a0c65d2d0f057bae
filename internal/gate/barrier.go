package gate

import (
	"context"
	"sync"
)

// Barrier holds requests until startup has finished. The zero value is not
// usable; create one with NewBarrier.
type Barrier struct {
	once sync.Once
	open chan struct{}
}

func NewBarrier() *Barrier {
	return &Barrier{open: make(chan struct{})}
}

// Open releases all current and future waiters. Calling it again is a no-op.
func (b *Barrier) Open() {
	b.once.Do(func() { close(b.open) })
}

// Wait blocks until the barrier is open or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Barrier) Ready() bool {
	select {
	case <-b.open:
		return true
	default:
		return false
	}
}
