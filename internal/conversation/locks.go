package conversation

import (
	"context"
	"sync"
)

// lockTable hands out one mutex per chat id. Entries are dropped when the
// last holder or waiter releases them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*chatLock)}
}

// acquire blocks until the chat's lock is held or ctx is done. The returned
// func releases it and must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, chatID string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[chatID]
	if !ok {
		l = &chatLock{sem: make(chan struct{}, 1)}
		t.locks[chatID] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			t.unref(chatID, l)
		}, nil
	case <-ctx.Done():
		t.unref(chatID, l)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(chatID string, l *chatLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, chatID)
	}
}

// size reports how many chats currently have a holder or waiter.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
