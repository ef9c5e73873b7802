package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

func TestNewMemStorage(t *testing.T) {
	storage := NewMemStorage()
	assert.NotNil(t, storage)
	assert.NotNil(t, storage.admins)
	assert.NotNil(t, storage.agents)
	assert.NotNil(t, storage.apiKeys)
	assert.NotNil(t, storage.audits)
}

func TestMemStorage_Admins(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	err := storage.CreateAdmin(ctx, models.Admin{ID: "1", Username: "root", PasswordHash: "h", Role: models.RoleSuper})
	require.NoError(t, err)
	err = storage.CreateAdmin(ctx, models.Admin{ID: "2", Username: "alice", PasswordHash: "h", Role: models.RoleAdmin})
	require.NoError(t, err)

	// Usernames are unique
	err = storage.CreateAdmin(ctx, models.Admin{ID: "3", Username: "root"})
	assert.ErrorIs(t, err, internalerrors.ErrAlreadyExists)

	admin, err := storage.FindAdminByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuper, admin.Role)

	_, err = storage.FindAdminByUsername(ctx, "bob")
	assert.ErrorIs(t, err, internalerrors.ErrNotFound)

	admins, err := storage.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, "alice", admins[0].Username)
	assert.Equal(t, "root", admins[1].Username)
}

func TestMemStorage_Agents(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()
	now := time.Now()

	users := []string{"root"}
	err := storage.CreateAgent(ctx, models.Agent{ID: "b", Name: "web", AllowedUsers: users, CreatedAt: now})
	require.NoError(t, err)
	err = storage.CreateAgent(ctx, models.Agent{ID: "a", Name: "db", CreatedAt: now.Add(-time.Minute)})
	require.NoError(t, err)

	// The stored allow-list does not alias the caller's slice
	users[0] = "mallory"
	agent, err := storage.FindAgentByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, agent.AllowedUsers)

	_, err = storage.FindAgentByID(ctx, "missing")
	assert.ErrorIs(t, err, internalerrors.ErrNotFound)

	agents, err := storage.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a", agents[0].ID)
}

func TestMemStorage_AuditsAndAlerts(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, storage.CreateAudit(ctx, models.Audit{ID: "2", Category: models.CategoryVMCPU, Timestamp: now}))
	require.NoError(t, storage.CreateAudit(ctx, models.Audit{ID: "1", Category: models.CategoryVMMemory, Timestamp: now.Add(-time.Second)}))
	assert.ErrorIs(t, storage.CreateAudit(ctx, models.Audit{ID: "1"}), internalerrors.ErrAlreadyExists)

	audit, err := storage.FindAuditByID(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryVMCPU, audit.Category)

	audits, err := storage.ListAudits(ctx)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "1", audits[0].ID)

	require.NoError(t, storage.CreateAlert(ctx, models.Alert{ID: "x", VMID: "vm", Importance: models.ImportanceLow}))
	alerts, err := storage.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ImportanceLow, alerts[0].Importance)
}

func TestMemStorage_APIKeys(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	require.NoError(t, storage.CreateAPIKey(ctx, models.APIKey{ID: "k1", Hash: "h1", AgentID: "a"}))
	require.NoError(t, storage.CreateAPIKey(ctx, models.APIKey{ID: "k2", Hash: "h2", AgentID: "b"}))

	keys, err := storage.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMemStorage_ConcurrentWrites(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = storage.CreateAlert(ctx, models.Alert{VMID: "vm"})
			_, _ = storage.ListAlerts(ctx)
		}(i)
	}
	wg.Wait()

	alerts, err := storage.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 100)
}

func TestMemStorage_PingAndClose(t *testing.T) {
	storage := NewMemStorage()
	assert.NoError(t, storage.Ping(context.Background()))
	assert.NoError(t, storage.Close())
}
