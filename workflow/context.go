package workflow

import (
	"sync"

	"github.com/hyunkyoun/moira/job"
)

// Context is the append-only ledger of values available to a job's steps.
type Context struct {
	mu      sync.RWMutex
	entries []job.ContextEntry
	latest  map[string]int
}

// NewContext returns a ledger holding entries, typically the seed built
// by the plan adapter or a record's persisted context.
func NewContext(entries []job.ContextEntry) *Context {
	c := &Context{latest: make(map[string]int, len(entries))}
	for _, e := range entries {
		c.push(e.Step, e.Name, e.Value)
	}
	return c
}

// Get returns the newest value written under name.
func (c *Context) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.latest[name]
	if !ok {
		return nil, false
	}
	return c.entries[i].Value, true
}

// Has reports whether name has been written.
func (c *Context) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Append records the listed names from values as written by stepName, in
// the order given. Names missing from values are skipped.
func (c *Context) Append(stepName string, values map[string]any, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		if v, ok := values[name]; ok {
			c.push(stepName, name, v)
		}
	}
}

// Entries returns a copy of the ledger.
func (c *Context) Entries() []job.ContextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]job.ContextEntry(nil), c.entries...)
}

// Snapshot returns the newest value of every name.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.latest))
	for name, i := range c.latest {
		out[name] = c.entries[i].Value
	}
	return out
}

// Len returns the number of entries.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Context) push(stepName, name string, value any) {
	c.entries = append(c.entries, job.ContextEntry{
		Seq:   len(c.entries),
		Name:  name,
		Value: value,
		Step:  stepName,
	})
	c.latest[name] = len(c.entries) - 1
}
