package playback

import "sync"

// userLock serializes playback grants per user so the device count
// read and the session write behave as one operation. Entries are tiny
// and keyed by user id; they are kept for the life of the process.
type userLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLock() *userLock {
	return &userLock{locks: make(map[string]*sync.Mutex)}
}

func (u *userLock) lock(userID string) *sync.Mutex {
	u.mu.Lock()
	m, ok := u.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		u.locks[userID] = m
	}
	u.mu.Unlock()

	m.Lock()
	return m
}
