package ejs

import "sync"

// Cache holds compiled templates keyed by filename, plus raw sources read by
// RenderFile. It is safe for concurrent use. Two goroutines compiling the same
// uncached file may both do the work; the last Set wins.
type Cache struct {
	mu        sync.RWMutex
	templates map[string]*Template
	sources   map[string]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		templates: map[string]*Template{},
		sources:   map[string]string{},
	}
}

func (c *Cache) Get(filename string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[filename]
	return t, ok
}

func (c *Cache) Set(filename string, t *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[filename] = t
}

func (c *Cache) source(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sources[key]
	return s, ok
}

func (c *Cache) setSource(key, src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[key] = src
}

// Len reports the number of compiled templates held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

// Clear drops every compiled template and cached source.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = map[string]*Template{}
	c.sources = map[string]string{}
}
