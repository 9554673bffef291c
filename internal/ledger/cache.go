package ledger

import "sync"

// Cache hands out the ledger for the most recently requested project root.
// Asking for a different root replaces the cached ledger, so state never
// leaks between projects.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	current *Ledger
}

// NewCache creates a cache whose ledgers use opts.
func NewCache(opts Options) *Cache {
	return &Cache{opts: opts}
}

// For returns the ledger for the project containing path.
func (c *Cache) For(path string) (*Ledger, error) {
	root, err := ResolveRoot(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Root() == root {
		return c.current, nil
	}

	l, err := New(root, c.opts)
	if err != nil {
		return nil, err
	}
	c.current = l
	return l, nil
}

// Current returns the cached ledger, or nil.
func (c *Cache) Current() *Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Reset drops the cached ledger.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}
