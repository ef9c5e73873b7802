package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiringLRU_PutIfAbsentDoesNotOverwrite(t *testing.T) {
	c := NewExpiringLRU[string, string](Settings{MaximumSize: 10, ExpireAfterAccess: time.Minute})

	assert.True(t, c.PutIfAbsent("agent-1", "first"))
	assert.False(t, c.PutIfAbsent("agent-1", "second"))

	value, ok := c.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, "first", value)
}

func TestExpiringLRU_GetAfterExpiryMisses(t *testing.T) {
	c := NewExpiringLRU[string, int](Settings{MaximumSize: 10, ExpireAfterAccess: 50 * time.Millisecond})
	c.PutIfAbsent("k", 1)

	time.Sleep(150 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)

	// An expired entry no longer blocks a new insert.
	assert.True(t, c.PutIfAbsent("k", 2))
	value, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, value)
}

func TestExpiringLRU_AccessRefreshesExpiry(t *testing.T) {
	c := NewExpiringLRU[string, int](Settings{MaximumSize: 10, ExpireAfterAccess: 300 * time.Millisecond})
	c.PutIfAbsent("k", 1)

	for i := 0; i < 4; i++ {
		time.Sleep(150 * time.Millisecond)
		_, ok := c.Get("k")
		require.Truef(t, ok, "entry expired on access %d", i)
	}
}

func TestExpiringLRU_BoundedSize(t *testing.T) {
	c := NewExpiringLRU[int, int](Settings{MaximumSize: 2, ExpireAfterAccess: time.Minute})
	c.PutIfAbsent(1, 1)
	c.PutIfAbsent(2, 2)
	c.PutIfAbsent(3, 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestExpiringLRU_Evict(t *testing.T) {
	c := NewExpiringLRU[string, int](Settings{MaximumSize: 10, ExpireAfterAccess: time.Minute})
	c.PutIfAbsent("a", 1)
	c.PutIfAbsent("b", 2)

	c.Evict("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.EvictAll()
	assert.Equal(t, 0, c.Len())
}

func TestExpiringLRU_ConcurrentPutIfAbsent(t *testing.T) {
	c := NewExpiringLRU[string, int](Settings{MaximumSize: 10, ExpireAfterAccess: time.Minute})

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if c.PutIfAbsent("shared", v) {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, stored)
}

func TestFacade_NamesAreIndependent(t *testing.T) {
	f := NewFacade(nil, nil)

	f.Put(Agents, "id-1", "agent")
	f.Put(Audits, "id-1", "audit")

	f.EvictAll(Agents)

	_, ok := f.Get(Agents, "id-1")
	assert.False(t, ok)
	value, ok := f.Get(Audits, "id-1")
	require.True(t, ok)
	assert.Equal(t, "audit", value)
}

func TestFacade_PutDoesNotClobber(t *testing.T) {
	f := NewFacade(nil, nil)

	assert.True(t, f.Put(Admins, "root", 1))
	assert.False(t, f.Put(Admins, "root", 2))
	value, _ := f.Get(Admins, "root")
	assert.Equal(t, 1, value)

	f.Evict(Admins, "root")
	assert.Equal(t, 0, f.Len(Admins))
}

func TestFacade_UnknownNameMisses(t *testing.T) {
	f := NewFacade(nil, nil)

	assert.False(t, f.Put(Name("nope"), "k", 1))
	_, ok := f.Get(Name("nope"), "k")
	assert.False(t, ok)
}

func TestFacade_CustomPolicy(t *testing.T) {
	var built []Settings
	factory := func(s Settings) Cache[string, any] {
		built = append(built, s)
		return NewExpiringLRU[string, any](s)
	}

	NewFacade(map[Name]Settings{Audits: {MaximumSize: 7, ExpireAfterAccess: time.Second}}, factory)

	require.Len(t, built, 4)
	assert.Contains(t, built, Settings{MaximumSize: 7, ExpireAfterAccess: time.Second})
	assert.Contains(t, built, DefaultSettings()[Agents])
}
