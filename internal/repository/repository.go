// Package repository provides the persistence layer for agents, admins,
// API keys, audits and alerts.
//
// Two implementations are available: MemStorage for single-process use and
// DBStorage backed by PostgreSQL. CachedStorage decorates either with the
// entity caches.
package repository

import (
	"context"

	models "github.com/Schera-ole/vmwatch/internal/model"
)

// Repository is a key-indexed entity store. Implementations must be safe for
// concurrent use. Lookups of a missing entity return errors.ErrNotFound.
type Repository interface {
	CreateAdmin(ctx context.Context, admin models.Admin) error
	FindAdminByUsername(ctx context.Context, username string) (models.Admin, error)
	ListAdmins(ctx context.Context) ([]models.Admin, error)

	CreateAgent(ctx context.Context, agent models.Agent) error
	FindAgentByID(ctx context.Context, id string) (models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)

	CreateAPIKey(ctx context.Context, key models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)

	CreateAudit(ctx context.Context, audit models.Audit) error
	FindAuditByID(ctx context.Context, id string) (models.Audit, error)
	ListAudits(ctx context.Context) ([]models.Audit, error)

	CreateAlert(ctx context.Context, alert models.Alert) error
	ListAlerts(ctx context.Context) ([]models.Alert, error)

	Ping(ctx context.Context) error
	Close() error
}
