package service

import (
	"context"
	"sync"
	"time"
)

// keyGuard lets one holder at a time claim a key: one run per ETL job, one
// editor per dataset row. The zero value is ready to use.
type keyGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
	wg   sync.WaitGroup
}

// Acquire claims key. When another holder has it, ok is false and since is
// when that holder claimed it. release is idempotent.
func (g *keyGuard) Acquire(key string) (release func(), since time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if at, busy := g.held[key]; busy {
		return nil, at, false
	}
	if g.held == nil {
		g.held = make(map[string]time.Time)
	}
	now := time.Now()
	g.held[key] = now
	g.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
			g.wg.Done()
		})
	}, now, true
}

// Held reports whether key is claimed and since when.
func (g *keyGuard) Held(key string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.held[key]
	return at, ok
}

// Wait blocks until every key is released or ctx is done. It reports
// whether everything was released.
func (g *keyGuard) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
