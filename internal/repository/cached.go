package repository

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/Schera-ole/vmwatch/internal/cache"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

// CachedStorage fronts a Repository with the entity caches. Lookups by key
// read through the cache; writes go to the repository first and then evict
// the affected key so the next read reloads it.
type CachedStorage struct {
	Repository

	caches *cache.Facade
	loads  singleflight.Group
}

// NewCachedStorage decorates repo with caches.
func NewCachedStorage(repo Repository, caches *cache.Facade) *CachedStorage {
	return &CachedStorage{Repository: repo, caches: caches}
}

// readThrough returns the cached value for key or loads it once, however many
// callers miss concurrently.
func readThrough[T any](cs *CachedStorage, name cache.Name, key string, load func() (T, error)) (T, error) {
	if cached, ok := cs.caches.Get(name, key); ok {
		if value, ok := cached.(T); ok {
			return value, nil
		}
	}
	v, err, _ := cs.loads.Do(string(name)+"/"+key, func() (any, error) {
		value, err := load()
		if err != nil {
			return nil, err
		}
		cs.caches.Put(name, key, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (cs *CachedStorage) FindAdminByUsername(ctx context.Context, username string) (models.Admin, error) {
	return readThrough(cs, cache.Admins, username, func() (models.Admin, error) {
		return cs.Repository.FindAdminByUsername(ctx, username)
	})
}

func (cs *CachedStorage) CreateAdmin(ctx context.Context, admin models.Admin) error {
	if err := cs.Repository.CreateAdmin(ctx, admin); err != nil {
		return err
	}
	cs.caches.Evict(cache.Admins, admin.Username)
	return nil
}

func (cs *CachedStorage) FindAgentByID(ctx context.Context, id string) (models.Agent, error) {
	return readThrough(cs, cache.Agents, id, func() (models.Agent, error) {
		return cs.Repository.FindAgentByID(ctx, id)
	})
}

func (cs *CachedStorage) CreateAgent(ctx context.Context, agent models.Agent) error {
	if err := cs.Repository.CreateAgent(ctx, agent); err != nil {
		return err
	}
	cs.caches.Evict(cache.Agents, agent.ID)
	return nil
}

func (cs *CachedStorage) FindAuditByID(ctx context.Context, id string) (models.Audit, error) {
	return readThrough(cs, cache.Audits, id, func() (models.Audit, error) {
		return cs.Repository.FindAuditByID(ctx, id)
	})
}

// CreateAudit writes through: audits are immutable, so the new record is
// cached right away.
func (cs *CachedStorage) CreateAudit(ctx context.Context, audit models.Audit) error {
	if err := cs.Repository.CreateAudit(ctx, audit); err != nil {
		return err
	}
	cs.caches.Put(cache.Audits, audit.ID, audit)
	return nil
}
