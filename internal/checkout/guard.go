package checkout

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// turnGuard admits one in-flight operation per user. The admitted
// operation runs under a context that interrupt cancels.
type turnGuard struct {
	mu    sync.Mutex
	users map[string]*userSlot
}

type userSlot struct {
	sem    *semaphore.Weighted
	cancel context.CancelFunc
	refs   int
}

func newTurnGuard() *turnGuard {
	return &turnGuard{users: map[string]*userSlot{}}
}

// acquire returns a derived context and a release func, or ok=false when
// another operation for userID is in flight.
func (g *turnGuard) acquire(ctx context.Context, userID string) (context.Context, func(), bool) {
	g.mu.Lock()
	slot, found := g.users[userID]
	if !found {
		slot = &userSlot{sem: semaphore.NewWeighted(1)}
		g.users[userID] = slot
	}
	slot.refs++
	g.mu.Unlock()

	if !slot.sem.TryAcquire(1) {
		g.drop(userID, slot)
		return nil, nil, false
	}

	cctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	slot.cancel = cancel
	g.mu.Unlock()

	release := func() {
		cancel()
		g.mu.Lock()
		slot.cancel = nil
		g.mu.Unlock()
		slot.sem.Release(1)
		g.drop(userID, slot)
	}
	return cctx, release, true
}

func (g *turnGuard) drop(userID string, slot *userSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && g.users[userID] == slot {
		delete(g.users, userID)
	}
}

// interrupt cancels the in-flight operation of userID, if any.
func (g *turnGuard) interrupt(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slot, ok := g.users[userID]; ok && slot.cancel != nil {
		slot.cancel()
		return true
	}
	return false
}

// lock waits for userID's slot. Unlike acquire, the holder cannot be
// interrupted.
func (g *turnGuard) lock(ctx context.Context, userID string) (func(), error) {
	g.mu.Lock()
	slot, found := g.users[userID]
	if !found {
		slot = &userSlot{sem: semaphore.NewWeighted(1)}
		g.users[userID] = slot
	}
	slot.refs++
	g.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.drop(userID, slot)
		return nil, err
	}
	return func() {
		slot.sem.Release(1)
		g.drop(userID, slot)
	}, nil
}
