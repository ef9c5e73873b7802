package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

// sqlOpenFunc is replaced in tests.
var sqlOpenFunc = sql.Open

// DBStorage implements the Repository interface on PostgreSQL.
type DBStorage struct {
	db *sql.DB
}

func NewDBStorage(dsn string) (*DBStorage, error) {
	dbConnect, err := sqlOpenFunc("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrDatabaseConnection, err)
	}
	return &DBStorage{db: dbConnect}, nil
}

func (storage *DBStorage) Close() error {
	return storage.db.Close()
}

func (storage *DBStorage) Ping(ctx context.Context) error {
	err := storage.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrDatabaseConnection, err)
	}
	return nil
}

// mapError translates driver errors to the repository sentinels.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return internalerrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return internalerrors.ErrAlreadyExists
	}
	return fmt.Errorf("%w: %s: %v", internalerrors.ErrQueryExecution, op, err)
}

func (storage *DBStorage) CreateAdmin(ctx context.Context, admin models.Admin) error {
	query := "INSERT INTO admins (id, username, password_hash, role) VALUES ($1, $2, $3, $4)"
	_, err := storage.db.ExecContext(ctx, query, admin.ID, admin.Username, admin.PasswordHash, string(admin.Role))
	if err != nil {
		return mapError("error saving admin", err)
	}
	return nil
}

func (storage *DBStorage) FindAdminByUsername(ctx context.Context, username string) (models.Admin, error) {
	var admin models.Admin
	var role string
	query := "SELECT id, username, password_hash, role FROM admins WHERE username = $1"
	err := storage.db.QueryRowContext(ctx, query, username).Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &role)
	if err != nil {
		return models.Admin{}, mapError("error retrieving admin", err)
	}
	admin.Role = models.Role(role)
	return admin, nil
}

func (storage *DBStorage) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	query := "SELECT id, username, password_hash, role FROM admins ORDER BY username"
	rows, err := storage.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("error retrieving admins", err)
	}
	defer rows.Close()

	var admins []models.Admin
	for rows.Next() {
		var admin models.Admin
		var role string
		if err := rows.Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &role); err != nil {
			return nil, mapError("error scanning admin", err)
		}
		admin.Role = models.Role(role)
		admins = append(admins, admin)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError("error iterating over admins", err)
	}
	return admins, nil
}

func (storage *DBStorage) CreateAgent(ctx context.Context, agent models.Agent) error {
	users, err := json.Marshal(allowedUsers(agent.AllowedUsers))
	if err != nil {
		return fmt.Errorf("error encoding allowed users: %w", err)
	}
	query := "INSERT INTO agents (id, name, url, allowed_users, created_at) VALUES ($1, $2, $3, $4, $5)"
	_, err = storage.db.ExecContext(ctx, query, agent.ID, agent.Name, agent.URL, string(users), agent.CreatedAt)
	if err != nil {
		return mapError("error saving agent", err)
	}
	return nil
}

func allowedUsers(users []string) []string {
	if users == nil {
		return []string{}
	}
	return users
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (models.Agent, error) {
	var agent models.Agent
	var users string
	if err := row.Scan(&agent.ID, &agent.Name, &agent.URL, &users, &agent.CreatedAt); err != nil {
		return models.Agent{}, err
	}
	if err := json.Unmarshal([]byte(users), &agent.AllowedUsers); err != nil {
		return models.Agent{}, fmt.Errorf("error decoding allowed users: %w", err)
	}
	return agent, nil
}

func (storage *DBStorage) FindAgentByID(ctx context.Context, id string) (models.Agent, error) {
	query := "SELECT id, name, url, allowed_users, created_at FROM agents WHERE id = $1"
	agent, err := scanAgent(storage.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Agent{}, mapError("error retrieving agent", err)
	}
	return agent, nil
}

func (storage *DBStorage) ListAgents(ctx context.Context) ([]models.Agent, error) {
	query := "SELECT id, name, url, allowed_users, created_at FROM agents ORDER BY created_at, id"
	rows, err := storage.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("error retrieving agents", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, mapError("error scanning agent", err)
		}
		agents = append(agents, agent)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError("error iterating over agents", err)
	}
	return agents, nil
}

func (storage *DBStorage) CreateAPIKey(ctx context.Context, key models.APIKey) error {
	query := "INSERT INTO api_keys (id, key_hash, agent_id, created_at) VALUES ($1, $2, $3, $4)"
	_, err := storage.db.ExecContext(ctx, query, key.ID, key.Hash, key.AgentID, key.CreatedAt)
	if err != nil {
		return mapError("error saving api key", err)
	}
	return nil
}

func (storage *DBStorage) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	query := "SELECT id, key_hash, agent_id, created_at FROM api_keys"
	rows, err := storage.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("error retrieving api keys", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var key models.APIKey
		if err := rows.Scan(&key.ID, &key.Hash, &key.AgentID, &key.CreatedAt); err != nil {
			return nil, mapError("error scanning api key", err)
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError("error iterating over api keys", err)
	}
	return keys, nil
}

func (storage *DBStorage) CreateAudit(ctx context.Context, audit models.Audit) error {
	query := `INSERT INTO audits (id, vm_id, category, data, "timestamp", timestamp_offset, agent_id) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	vmID := sql.NullString{String: audit.VMID, Valid: audit.VMID != ""}
	_, offset := audit.Timestamp.Zone()
	_, err := storage.db.ExecContext(ctx, query, audit.ID, vmID, audit.Category.String(), audit.Data, audit.Timestamp, offset, audit.AgentID)
	if err != nil {
		return mapError("error saving audit", err)
	}
	return nil
}

func scanAudit(row rowScanner) (models.Audit, error) {
	var audit models.Audit
	var vmID sql.NullString
	var category string
	var offset int
	if err := row.Scan(&audit.ID, &vmID, &category, &audit.Data, &audit.Timestamp, &offset, &audit.AgentID); err != nil {
		return models.Audit{}, err
	}
	// TIMESTAMPTZ keeps the instant only; the agent's offset lives beside it.
	audit.Timestamp = audit.Timestamp.In(time.FixedZone("", offset))
	audit.VMID = vmID.String
	audit.Category, _ = models.ParseCategory(category)
	return audit, nil
}

func (storage *DBStorage) FindAuditByID(ctx context.Context, id string) (models.Audit, error) {
	query := `SELECT id, vm_id, category, data, "timestamp", timestamp_offset, agent_id FROM audits WHERE id = $1`
	audit, err := scanAudit(storage.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Audit{}, mapError("error retrieving audit", err)
	}
	return audit, nil
}

func (storage *DBStorage) ListAudits(ctx context.Context) ([]models.Audit, error) {
	query := `SELECT id, vm_id, category, data, "timestamp", timestamp_offset, agent_id FROM audits ORDER BY "timestamp"`
	rows, err := storage.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("error retrieving audits", err)
	}
	defer rows.Close()

	var audits []models.Audit
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, mapError("error scanning audit", err)
		}
		audits = append(audits, audit)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError("error iterating over audits", err)
	}
	return audits, nil
}

func (storage *DBStorage) CreateAlert(ctx context.Context, alert models.Alert) error {
	query := `INSERT INTO alerts (id, vm_id, agent_id, importance, "timestamp", message) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := storage.db.ExecContext(ctx, query, alert.ID, alert.VMID, alert.AgentID, alert.Importance.String(), alert.Timestamp, alert.Message)
	if err != nil {
		return mapError("error saving alert", err)
	}
	return nil
}

func (storage *DBStorage) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	query := `SELECT id, vm_id, agent_id, importance, "timestamp", message FROM alerts ORDER BY "timestamp", id`
	rows, err := storage.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("error retrieving alerts", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var alert models.Alert
		var importance string
		if err := rows.Scan(&alert.ID, &alert.VMID, &alert.AgentID, &importance, &alert.Timestamp, &alert.Message); err != nil {
			return nil, mapError("error scanning alert", err)
		}
		alert.Importance, err = models.ParseImportance(importance)
		if err != nil {
			return nil, fmt.Errorf("error decoding alert importance: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError("error iterating over alerts", err)
	}
	return alerts, nil
}
