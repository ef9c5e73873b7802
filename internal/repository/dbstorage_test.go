package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

func newMockStorage(t *testing.T) (*DBStorage, sqlmock.Sqlmock) {
	t.Helper()
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)

	orig := sqlOpenFunc
	sqlOpenFunc = func(driverName, dsn string) (*sql.DB, error) { return dbMock, nil }
	t.Cleanup(func() { sqlOpenFunc = orig })

	storage, err := NewDBStorage("postgres://unused")
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage, mock
}

func TestDBStorage_CreateAdmin(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admins (id, username, password_hash, role) VALUES ($1, $2, $3, $4)")).
		WithArgs("1", "root", "hash", "SUPER").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := storage.CreateAdmin(context.Background(), models.Admin{ID: "1", Username: "root", PasswordHash: "hash", Role: models.RoleSuper})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStorage_CreateAdminDuplicate(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec("INSERT INTO admins").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	err := storage.CreateAdmin(context.Background(), models.Admin{ID: "1", Username: "root"})
	assert.ErrorIs(t, err, internalerrors.ErrAlreadyExists)
}

func TestDBStorage_FindAdminByUsername(t *testing.T) {
	storage, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "role"}).
		AddRow("1", "root", "hash", "SUPER")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, password_hash, role FROM admins WHERE username = $1")).
		WithArgs("root").
		WillReturnRows(rows)

	admin, err := storage.FindAdminByUsername(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, models.Admin{ID: "1", Username: "root", PasswordHash: "hash", Role: models.RoleSuper}, admin)
}

func TestDBStorage_FindAdminNotFound(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectQuery("SELECT id, username, password_hash, role FROM admins").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := storage.FindAdminByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, internalerrors.ErrNotFound)
}

func TestDBStorage_AgentRoundTrip(t *testing.T) {
	storage, mock := newMockStorage(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agents (id, name, url, allowed_users, created_at) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs("a1", "web", "http://web:8081", `["root","deploy"]`, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := storage.CreateAgent(context.Background(), models.Agent{
		ID: "a1", Name: "web", URL: "http://web:8081", AllowedUsers: []string{"root", "deploy"}, CreatedAt: created,
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "name", "url", "allowed_users", "created_at"}).
		AddRow("a1", "web", "http://web:8081", `["root","deploy"]`, created)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, url, allowed_users, created_at FROM agents WHERE id = $1")).
		WithArgs("a1").
		WillReturnRows(rows)

	agent, err := storage.FindAgentByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "deploy"}, agent.AllowedUsers)
	assert.Equal(t, created, agent.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStorage_CreateAgentWithoutAllowList(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec("INSERT INTO agents").
		WithArgs("a1", "web", "http://web", "[]", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := storage.CreateAgent(context.Background(), models.Agent{ID: "a1", Name: "web", URL: "http://web"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStorage_CreateAuditStoresNullVMID(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec("INSERT INTO audits").
		WithArgs("au1", nil, "vm_cpu", "ciphertext", sqlmock.AnyArg(), 0, "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := storage.CreateAudit(context.Background(), models.Audit{
		ID: "au1", Category: models.CategoryVMCPU, Data: "ciphertext", Timestamp: time.Now().UTC(), AgentID: "a1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStorage_ListAudits(t *testing.T) {
	storage, mock := newMockStorage(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "vm_id", "category", "data", "timestamp", "timestamp_offset", "agent_id"}).
		AddRow("au1", "vm-1", "vm_memory", "c1", ts, 0, "a1").
		AddRow("au2", nil, "something_else", "c2", ts, 0, "a1")
	mock.ExpectQuery("SELECT id, vm_id, category, data").WillReturnRows(rows)

	audits, err := storage.ListAudits(context.Background())
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "vm-1", audits[0].VMID)
	assert.Equal(t, models.CategoryVMMemory, audits[0].Category)
	assert.Equal(t, "", audits[1].VMID)
	assert.Equal(t, models.CategoryUnknown, audits[1].Category)
}

func TestDBStorage_AuditKeepsZoneOffset(t *testing.T) {
	storage, mock := newMockStorage(t)
	zone := time.FixedZone("", 3*60*60)
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, zone)

	mock.ExpectExec("INSERT INTO audits").
		WithArgs("au1", "vm-1", "vm_cpu", "c1", ts, 3*60*60, "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, storage.CreateAudit(context.Background(), models.Audit{
		ID: "au1", VMID: "vm-1", Category: models.CategoryVMCPU, Data: "c1", Timestamp: ts, AgentID: "a1",
	}))

	rows := sqlmock.NewRows([]string{"id", "vm_id", "category", "data", "timestamp", "timestamp_offset", "agent_id"}).
		AddRow("au1", "vm-1", "vm_cpu", "c1", ts.UTC(), 3*60*60, "a1")
	mock.ExpectQuery("SELECT id, vm_id, category, data").WithArgs("au1").WillReturnRows(rows)

	audit, err := storage.FindAuditByID(context.Background(), "au1")
	require.NoError(t, err)
	assert.True(t, ts.Equal(audit.Timestamp))
	assert.Equal(t, "2024-05-01T12:30:00+03:00", audit.Timestamp.Format(time.RFC3339))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStorage_ListAlerts(t *testing.T) {
	storage, mock := newMockStorage(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "vm_id", "agent_id", "importance", "timestamp", "message"}).
		AddRow("al1", "vm-1", "a1", "CRITICAL", ts, "cpu at 95%")
	mock.ExpectQuery("SELECT id, vm_id, agent_id, importance").WillReturnRows(rows)

	alerts, err := storage.ListAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ImportanceCritical, alerts[0].Importance)
	assert.Equal(t, "cpu at 95%", alerts[0].Message)
}

func TestDBStorage_ListAPIKeys(t *testing.T) {
	storage, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"id", "key_hash", "agent_id", "created_at"}).
		AddRow("k1", "$2a$hash", "a1", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, key_hash, agent_id, created_at FROM api_keys")).WillReturnRows(rows)

	keys, err := storage.ListAPIKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "a1", keys[0].AgentID)
}

func TestDBStorage_QueryFailure(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectQuery("SELECT id, name, url").WillReturnError(errors.New("connection reset"))

	_, err := storage.ListAgents(context.Background())
	assert.ErrorIs(t, err, internalerrors.ErrQueryExecution)
}
