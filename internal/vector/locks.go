package vector

import "sync"

// ClassLocks is a keyed read-write lock registry scoped by project and class
// name. Readers of one class proceed concurrently, a writer excludes that
// class only, and distinct classes never contend. Incremental index updates
// use this so per-file vector edits run in parallel.
type ClassLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewClassLocks creates an empty registry.
func NewClassLocks() *ClassLocks {
	return &ClassLocks{locks: make(map[string]*sync.RWMutex)}
}

func (c *ClassLocks) lock(projectKey, className string) *sync.RWMutex {
	key := projectKey + "\x00" + className
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.locks[key]; ok {
		return existing
	}
	created := &sync.RWMutex{}
	c.locks[key] = created
	return created
}

// ReadClass runs fn under the class's read lock.
func (c *ClassLocks) ReadClass(projectKey, className string, fn func() error) error {
	l := c.lock(projectKey, className)
	l.RLock()
	defer l.RUnlock()
	return fn()
}

// WriteClass runs fn under the class's write lock.
func (c *ClassLocks) WriteClass(projectKey, className string, fn func() error) error {
	l := c.lock(projectKey, className)
	l.Lock()
	defer l.Unlock()
	return fn()
}
