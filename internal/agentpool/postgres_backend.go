package agentpool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// PostgresConfig holds connection settings for PostgresBackend, grounded
// on the original source's onevalet Database wrapper (asyncpg pool
// options) and the teacher's CockroachConfig shape.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible local-development defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "orchestrator",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresBackend is a durable Backend atop a Postgres table of JSONB
// agent-session rows, grounded on the original source's
// PostgresPoolBackend (onevalet/orchestrator/postgres_pool.py): sessions
// persist as JSONB keyed by (tenant_id, agent_id). Pool itself still owns
// all TTL and waiting-timeout eviction via entry.TTLDeadline; this backend
// is persistence only, the same split the Python source draws between
// PoolBackend and AgentPoolManager, and the same split the teacher's
// CockroachStore draws between storage and its callers.
type PostgresBackend struct {
	db *sql.DB

	stmtSave          *sql.Stmt
	stmtGet           *sql.Stmt
	stmtList          *sql.Stmt
	stmtDelete        *sql.Stmt
	stmtClearTenant   *sql.Stmt
	stmtActiveTenants *sql.Stmt
}

const createAgentSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	tenant_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, agent_id)
)`

const createAgentSessionsTenantIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_agent_sessions_tenant ON agent_sessions(tenant_id)`

// NewPostgresBackend opens a connection pool per config, ensures the
// agent_sessions table and its tenant index exist, and prepares every
// statement the Backend interface needs.
func NewPostgresBackend(config *PostgresConfig) (*PostgresBackend, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newPostgresBackendWithDSN(dsn, config)
}

// NewPostgresBackendFromDSN is the same as NewPostgresBackend but takes a
// raw connection string, for callers that already assemble one (e.g. from
// a single DATABASE_URL environment variable).
func NewPostgresBackendFromDSN(dsn string, config *PostgresConfig) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresBackendWithDSN(dsn, config)
}

func newPostgresBackendWithDSN(dsn string, config *PostgresConfig) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(createAgentSessionsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create agent_sessions table: %w", err)
	}
	if _, err := db.Exec(createAgentSessionsTenantIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create agent_sessions tenant index: %w", err)
	}

	b := &PostgresBackend{db: db}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) prepareStatements() error {
	var err error

	b.stmtSave, err = b.db.Prepare(`
		INSERT INTO agent_sessions (tenant_id, agent_id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, agent_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}

	b.stmtGet, err = b.db.Prepare(`SELECT data FROM agent_sessions WHERE agent_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}

	b.stmtList, err = b.db.Prepare(`SELECT data FROM agent_sessions WHERE tenant_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare list: %w", err)
	}

	b.stmtDelete, err = b.db.Prepare(`DELETE FROM agent_sessions WHERE agent_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}

	b.stmtClearTenant, err = b.db.Prepare(`DELETE FROM agent_sessions WHERE tenant_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare clear tenant: %w", err)
	}

	b.stmtActiveTenants, err = b.db.Prepare(`SELECT DISTINCT tenant_id FROM agent_sessions`)
	if err != nil {
		return fmt.Errorf("prepare active tenants: %w", err)
	}

	return nil
}

func (b *PostgresBackend) Save(ctx context.Context, entry *models.AgentPoolEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal agent pool entry: %w", err)
	}
	if _, err := b.stmtSave.ExecContext(ctx, entry.TenantID, entry.AgentID, data); err != nil {
		return fmt.Errorf("save agent pool entry: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, agentID string) (*models.AgentPoolEntry, bool, error) {
	var raw []byte
	err := b.stmtGet.QueryRowContext(ctx, agentID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get agent pool entry: %w", err)
	}
	entry, err := decodeAgentPoolEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (b *PostgresBackend) List(ctx context.Context, tenantID string) ([]*models.AgentPoolEntry, error) {
	rows, err := b.stmtList.QueryContext(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list agent pool entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentPoolEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan agent pool entry: %w", err)
		}
		entry, err := decodeAgentPoolEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Delete(ctx context.Context, agentID string) error {
	if _, err := b.stmtDelete.ExecContext(ctx, agentID); err != nil {
		return fmt.Errorf("delete agent pool entry: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ClearTenant(ctx context.Context, tenantID string) error {
	if _, err := b.stmtClearTenant.ExecContext(ctx, tenantID); err != nil {
		return fmt.Errorf("clear tenant agent pool entries: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := b.stmtActiveTenants.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (b *PostgresBackend) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		b.stmtSave, b.stmtGet, b.stmtList, b.stmtDelete, b.stmtClearTenant, b.stmtActiveTenants,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing postgres backend: %v", errs)
	}
	return nil
}

func decodeAgentPoolEntry(raw []byte) (*models.AgentPoolEntry, error) {
	var entry models.AgentPoolEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal agent pool entry: %w", err)
	}
	return &entry, nil
}
