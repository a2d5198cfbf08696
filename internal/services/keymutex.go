package services

import (
	"hash/fnv"
	"sync"
)

// keyMutex serializes work per string key via lock striping, so pause,
// stop and scheduler-driven advance on the same enrollment cannot race
// while distinct enrollments proceed in parallel.
type keyMutex struct {
	stripes []sync.Mutex
}

func newKeyMutex(n int) *keyMutex {
	if n <= 0 {
		n = 64
	}
	return &keyMutex{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (k *keyMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.stripes[int(h.Sum32())%len(k.stripes)]
	m.Lock()
	return m.Unlock
}
