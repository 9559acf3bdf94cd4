package utils

import (
	"fmt"
	"sync"
)

// MutexMap hands out one mutex per key, creating it on first use and
// dropping it once nobody holds or waits for it.
type MutexMap struct {
	edit    sync.Mutex
	waiters map[string]int
	mutexes map[string]*sync.Mutex
	maxSize int
}

func NewMutexMap(maxSize int) *MutexMap {
	return &MutexMap{
		waiters: make(map[string]int),
		mutexes: make(map[string]*sync.Mutex),
		maxSize: maxSize,
	}
}

// Lock blocks until key is held by the caller and returns the function that
// releases it.
func (m *MutexMap) Lock(key string) (func(), error) {
	m.edit.Lock()
	mu, ok := m.mutexes[key]
	if !ok {
		if len(m.mutexes) >= m.maxSize {
			m.edit.Unlock()
			return nil, fmt.Errorf("cannot lock %q: %d keys already in use", key, m.maxSize)
		}
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, mu) })
	}, nil
}

func (m *MutexMap) release(key string, mu *sync.Mutex) {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu.Unlock()
	m.waiters[key]--
	if m.waiters[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiters, key)
	}
}

// Len is the number of keys currently held or waited on.
func (m *MutexMap) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
