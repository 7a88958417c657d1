package gate

import (
	"context"
	"sync"
)

// Locker serializes work per key. Lock blocks until the key is held or ctx
// is done; the returned unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker hands each key's token through a one-slot channel. Blocked
// receivers on a channel are woken in arrival order, so waiters on one key
// are served FIFO. Idle keys are dropped once no holder or waiter refers to
// them.
type LocalLocker struct {
	mu       sync.Mutex
	sections map[string]*section
}

type section struct {
	token chan struct{}
	refs  int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sections: make(map[string]*section)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := l.acquire(key)

	select {
	case <-s.token:
		var once sync.Once
		return func() {
			once.Do(func() {
				s.token <- struct{}{}
				l.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) acquire(key string) *section {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sections[key]
	if !ok {
		s = &section{token: make(chan struct{}, 1)}
		s.token <- struct{}{}
		l.sections[key] = s
	}
	s.refs++

	return s
}

func (l *LocalLocker) release(key string, s *section) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.sections, key)
	}
}

// size is the number of keys currently tracked.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sections)
}
