package state

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ClientRegistry is the set of client IDs that have linked themselves to the
// service. Entries are never removed during a run. The value kept per ID is
// the time it was first seen.
type ClientRegistry struct {
	clients *xsync.MapOf[string, time.Time]
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: xsync.NewMapOf[string, time.Time](),
	}
}

// Add registers id. It reports whether id was new.
func (c *ClientRegistry) Add(id string, at time.Time) bool {
	_, loaded := c.clients.LoadOrStore(id, at)
	return !loaded
}

// Has reports whether id is registered.
func (c *ClientRegistry) Has(id string) bool {
	_, ok := c.clients.Load(id)
	return ok
}

// FirstSeen returns when id was first registered.
func (c *ClientRegistry) FirstSeen(id string) (time.Time, bool) {
	return c.clients.Load(id)
}

// Len returns the number of registered clients.
func (c *ClientRegistry) Len() int {
	return c.clients.Size()
}

// List returns every registered ID in ascending order.
func (c *ClientRegistry) List() []string {
	ids := make([]string, 0, c.clients.Size())
	c.clients.Range(func(id string, _ time.Time) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}
