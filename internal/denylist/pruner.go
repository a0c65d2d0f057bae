package denylist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prunable is the storage operation the Pruner drives.
type Prunable interface {
	PruneDenylist(ctx context.Context, before time.Time) (int64, error)
}

// Pruner periodically deletes persisted denylist entries whose tokens have
// expired. Redis-backed denylists expire on their own and need no pruner.
type Pruner struct {
	store    Prunable
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewPruner(store Prunable, interval time.Duration) *Pruner {
	return &Pruner{
		store:    store,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// PruneOnce removes expired entries and returns how many were deleted.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	removed, err := p.store.PruneDenylist(ctx, p.now())
	if err != nil {
		slog.Warn("Denylist prune failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		slog.Debug("Pruned expired denylist entries", "removed", removed)
	}
	return removed, nil
}

// Start runs PruneOnce every interval in a background goroutine until Close.
// A non-positive interval disables pruning.
func (p *Pruner) Start() {
	if p.interval <= 0 {
		return
	}
	p.wg.Add(1)
	go p.run()
}

func (p *Pruner) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			_, _ = p.PruneOnce(ctx)
			cancel()
		}
	}
}

// Close stops the background goroutine and waits for it to exit.
func (p *Pruner) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
