package auth

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLock serializes read-modify-write cycles per session id without
// keeping one mutex per session alive.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%lockStripes]
}

// lock acquires the mutex for key and returns its unlock func.
func (l *stripedLock) lock(key string) func() {
	mu := l.forKey(key)
	mu.Lock()
	return mu.Unlock
}
