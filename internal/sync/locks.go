package sync

import (
	"context"
	"sync"
)

// Locks serializes work on the same user. Different users never wait on
// each other.
type Locks struct {
	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{users: make(map[string]*userLock)}
}

// Lock blocks until user is free or ctx is done. The returned function
// releases the lock.
func (l *Locks) Lock(ctx context.Context, user string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.users[user]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.users[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(user, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.sem
			l.release(user, ul)
		})
	}, nil
}

func (l *Locks) release(user string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.users, user)
	}
}

// held returns how many callers hold or wait for user.
func (l *Locks) held(user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ul, ok := l.users[user]; ok {
		return ul.refs
	}
	return 0
}
