package storage

import (
	"os"
	"sync"
	"syscall"
)

// keyLock serializes writers of one cache file. The mutex covers goroutines
// of this process; flock on a sibling ".lock" file covers other processes
// sharing the cache directory.
type keyLock struct {
	mu   sync.Mutex
	path string
}

// acquire blocks until both locks are held and returns the release func.
func (l *keyLock) acquire() (func(), error) {
	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return nil, err
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		l.mu.Unlock()
	}, nil
}

// locked runs fn while holding the lock for filePath.
func (s *Storage) locked(key, filePath string, fn func() error) error {
	s.mu.Lock()
	l, ok := s.locks[filePath]
	if !ok {
		l = &keyLock{path: filePath + ".lock"}
		s.locks[filePath] = l
	}
	s.mu.Unlock()

	release, err := l.acquire()
	if err != nil {
		return &CacheError{Key: key, Op: "lock", Err: err}
	}
	defer release()
	return fn()
}
