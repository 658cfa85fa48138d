package memory

import (
	"context"
	"sync"
)

// keyLocks is a set of mutexes keyed by string whose Lock honors context
// cancellation. A held key maps to a channel closed on unlock.
type keyLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[string]chan struct{})}
}

func (k *keyLocks) lock(ctx context.Context, key string) error {
	for {
		k.mu.Lock()
		ch, busy := k.held[key]
		if !busy {
			k.held[key] = make(chan struct{})
			k.mu.Unlock()
			return nil
		}
		k.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (k *keyLocks) unlock(key string) {
	k.mu.Lock()
	ch, ok := k.held[key]
	delete(k.held, key)
	k.mu.Unlock()
	if ok {
		close(ch)
	}
}
