package cache

import "time"

// Name identifies one of the entity caches held by a Facade.
type Name string

const (
	Audits  Name = "audits"
	Agents  Name = "agents"
	Admins  Name = "admins"
	APIKeys Name = "apiKeys"
)

// DefaultSettings returns the documented sizes for every entity cache.
func DefaultSettings() map[Name]Settings {
	return map[Name]Settings{
		Audits:  {InitialCapacity: 200, MaximumSize: 1000, ExpireAfterAccess: time.Hour},
		Agents:  {InitialCapacity: 15, MaximumSize: 50, ExpireAfterAccess: 5 * time.Hour},
		Admins:  {InitialCapacity: 15, MaximumSize: 50, ExpireAfterAccess: 5 * time.Hour},
		APIKeys: {InitialCapacity: 100, MaximumSize: 500, ExpireAfterAccess: time.Hour},
	}
}

// Factory builds the cache behind one name. It is the seam for swapping the
// eviction policy.
type Factory func(Settings) Cache[string, any]

// ExpiringLRUFactory is the default Factory.
func ExpiringLRUFactory(s Settings) Cache[string, any] {
	return NewExpiringLRU[string, any](s)
}

// Facade groups the per-entity caches. Each name is independent: evicting
// from one never touches another.
type Facade struct {
	caches map[Name]Cache[string, any]
}

// NewFacade builds one cache per entry of settings. Names missing from
// settings fall back to DefaultSettings.
func NewFacade(settings map[Name]Settings, factory Factory) *Facade {
	if factory == nil {
		factory = ExpiringLRUFactory
	}
	merged := DefaultSettings()
	for name, s := range settings {
		merged[name] = s
	}
	f := &Facade{caches: make(map[Name]Cache[string, any], len(merged))}
	for name, s := range merged {
		f.caches[name] = factory(s)
	}
	return f
}

// Get misses on absence, eviction, expiry or an unknown name.
func (f *Facade) Get(name Name, key string) (any, bool) {
	c, ok := f.caches[name]
	if !ok {
		return nil, false
	}
	return c.Get(key)
}

// Put inserts value only if key is not already cached.
func (f *Facade) Put(name Name, key string, value any) bool {
	c, ok := f.caches[name]
	if !ok {
		return false
	}
	return c.PutIfAbsent(key, value)
}

func (f *Facade) Evict(name Name, key string) {
	if c, ok := f.caches[name]; ok {
		c.Evict(key)
	}
}

func (f *Facade) EvictAll(name Name) {
	if c, ok := f.caches[name]; ok {
		c.EvictAll()
	}
}

// Len returns the number of entries held under name.
func (f *Facade) Len(name Name) int {
	if c, ok := f.caches[name]; ok {
		return c.Len()
	}
	return 0
}
