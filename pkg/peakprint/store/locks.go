package store

import "sync"

// songLocks serialises writers per song ID. Entries are dropped once no
// goroutine holds or waits on them.
type songLocks struct {
	mu    sync.Mutex
	locks map[string]*songLock
}

type songLock struct {
	mu   sync.Mutex
	refs int
}

func newSongLocks() *songLocks {
	return &songLocks{locks: make(map[string]*songLock)}
}

// Lock blocks until id is free and returns the matching unlock.
func (s *songLocks) Lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &songLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
