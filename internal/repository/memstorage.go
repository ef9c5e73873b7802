package repository

import (
	"context"
	"sort"
	"sync"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

// MemStorage implements the Repository interface using in-memory storage.
type MemStorage struct {
	// mu provides thread-safe access to the storage maps
	mu sync.RWMutex

	// admins stores administrators by username
	admins map[string]models.Admin

	// agents stores agents by id
	agents map[string]models.Agent

	// apiKeys stores hashed keys by key id
	apiKeys map[string]models.APIKey

	// audits stores audits by id
	audits map[string]models.Audit

	// alerts keeps alerts in creation order
	alerts []models.Alert
}

// NewMemStorage creates a new in-memory storage instance.
func NewMemStorage() *MemStorage {

	return &MemStorage{
		admins:  make(map[string]models.Admin),
		agents:  make(map[string]models.Agent),
		apiKeys: make(map[string]models.APIKey),
		audits:  make(map[string]models.Audit),
	}
}

// CreateAdmin stores an admin. Usernames are unique.
func (ms *MemStorage) CreateAdmin(ctx context.Context, admin models.Admin) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.admins[admin.Username]; exists {
		return internalerrors.ErrAlreadyExists
	}
	ms.admins[admin.Username] = admin
	return nil
}

func (ms *MemStorage) FindAdminByUsername(ctx context.Context, username string) (models.Admin, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	admin, exists := ms.admins[username]
	if !exists {
		return models.Admin{}, internalerrors.ErrNotFound
	}
	return admin, nil
}

// ListAdmins returns all admins ordered by username.
func (ms *MemStorage) ListAdmins(ctx context.Context) ([]models.Admin, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.Admin, 0, len(ms.admins))
	for _, admin := range ms.admins {
		result = append(result, admin)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (ms *MemStorage) CreateAgent(ctx context.Context, agent models.Agent) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.agents[agent.ID]; exists {
		return internalerrors.ErrAlreadyExists
	}
	agent.AllowedUsers = append([]string(nil), agent.AllowedUsers...)
	ms.agents[agent.ID] = agent
	return nil
}

func (ms *MemStorage) FindAgentByID(ctx context.Context, id string) (models.Agent, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	agent, exists := ms.agents[id]
	if !exists {
		return models.Agent{}, internalerrors.ErrNotFound
	}
	return agent, nil
}

// ListAgents returns all agents ordered by creation time.
func (ms *MemStorage) ListAgents(ctx context.Context) ([]models.Agent, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.Agent, 0, len(ms.agents))
	for _, agent := range ms.agents {
		result = append(result, agent)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (ms *MemStorage) CreateAPIKey(ctx context.Context, key models.APIKey) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.apiKeys[key.ID]; exists {
		return internalerrors.ErrAlreadyExists
	}
	ms.apiKeys[key.ID] = key
	return nil
}

func (ms *MemStorage) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.APIKey, 0, len(ms.apiKeys))
	for _, key := range ms.apiKeys {
		result = append(result, key)
	}
	return result, nil
}

func (ms *MemStorage) CreateAudit(ctx context.Context, audit models.Audit) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.audits[audit.ID]; exists {
		return internalerrors.ErrAlreadyExists
	}
	ms.audits[audit.ID] = audit
	return nil
}

func (ms *MemStorage) FindAuditByID(ctx context.Context, id string) (models.Audit, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	audit, exists := ms.audits[id]
	if !exists {
		return models.Audit{}, internalerrors.ErrNotFound
	}
	return audit, nil
}

// ListAudits returns all audits ordered by timestamp.
func (ms *MemStorage) ListAudits(ctx context.Context) ([]models.Audit, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.Audit, 0, len(ms.audits))
	for _, audit := range ms.audits {
		result = append(result, audit)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

func (ms *MemStorage) CreateAlert(ctx context.Context, alert models.Alert) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.alerts = append(ms.alerts, alert)
	return nil
}

func (ms *MemStorage) ListAlerts(ctx context.Context) ([]models.Alert, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]models.Alert(nil), ms.alerts...), nil
}

// Ping checks the health of the memory storage.
//
// For MemStorage, this always returns nil since there are no external dependencies.
func (ms *MemStorage) Ping(ctx context.Context) error {
	return nil
}

// Close releases any resources held by the memory storage.
func (ms *MemStorage) Close() error {

	return nil
}
