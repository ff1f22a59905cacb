package service

import (
	"sync"
)

// keyedMutex serializes operations per key (artifact or request ID).
// Mutexes are retained for the life of the process; the key space is bounded
// by the number of live artifacts and requests.
type keyedMutex struct {
	locks sync.Map
}

// Lock acquires the mutex for key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
