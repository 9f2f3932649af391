package agentpool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nexusagents/orchestrator/pkg/models"
)

func setupMockPostgresBackend(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresBackend) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create mock db: %v", err)
	}

	b := &PostgresBackend{db: db}
	stmts := map[string]**sql.Stmt{
		"INSERT INTO agent_sessions": &b.stmtSave,
		"SELECT data FROM agent_sessions WHERE agent_id": &b.stmtGet,
		"SELECT data FROM agent_sessions WHERE tenant_id": &b.stmtList,
		"DELETE FROM agent_sessions WHERE agent_id":       &b.stmtDelete,
		"DELETE FROM agent_sessions WHERE tenant_id":      &b.stmtClearTenant,
		"SELECT DISTINCT tenant_id":                       &b.stmtActiveTenants,
	}
	for query, field := range stmts {
		mock.ExpectPrepare(query)
		stmt, err := db.Prepare(query)
		if err != nil {
			t.Fatalf("prepare %q: %v", query, err)
		}
		*field = stmt
	}
	return db, mock, b
}

func TestPostgresBackendSaveUpsertsByTenantAndAgent(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	entry := &models.AgentPoolEntry{AgentID: "agent-1", TenantID: "tenant-1", AgentType: "booker"}

	mock.ExpectExec("INSERT INTO agent_sessions").
		WithArgs("tenant-1", "agent-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := b.Save(context.Background(), entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresBackendSaveWrapsDatabaseError(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO agent_sessions").WillReturnError(errors.New("connection refused"))

	err := b.Save(context.Background(), &models.AgentPoolEntry{AgentID: "agent-1", TenantID: "tenant-1"})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestPostgresBackendGetRoundTripsEntry(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	entry := models.AgentPoolEntry{
		AgentID: "agent-1", TenantID: "tenant-1", AgentType: "booker",
		Status: models.StatusWaitingForInput, SchemaVersion: 3,
		CollectedFields: map[string]any{"city": "Tokyo"},
		CreatedAt:       now, LastActivity: now, TTLDeadline: now.Add(time.Hour),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rows := sqlmock.NewRows([]string{"data"}).AddRow(data)
	mock.ExpectQuery("SELECT data FROM agent_sessions WHERE agent_id").
		WithArgs("agent-1").
		WillReturnRows(rows)

	got, ok, err := b.Get(context.Background(), "agent-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.AgentID != entry.AgentID || got.SchemaVersion != entry.SchemaVersion || got.CollectedFields["city"] != "Tokyo" {
		t.Fatalf("expected round-tripped entry, got %+v", got)
	}
}

func TestPostgresBackendGetMissingReturnsFalseNotError(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	mock.ExpectQuery("SELECT data FROM agent_sessions WHERE agent_id").
		WithArgs("agent-404").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := b.Get(context.Background(), "agent-404")
	if err != nil {
		t.Fatalf("expected no error for a missing row, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing row")
	}
}

func TestPostgresBackendListFiltersByTenant(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	e1, _ := json.Marshal(models.AgentPoolEntry{AgentID: "agent-1", TenantID: "tenant-1"})
	e2, _ := json.Marshal(models.AgentPoolEntry{AgentID: "agent-2", TenantID: "tenant-1"})
	rows := sqlmock.NewRows([]string{"data"}).AddRow(e1).AddRow(e2)
	mock.ExpectQuery("SELECT data FROM agent_sessions WHERE tenant_id").
		WithArgs("tenant-1").
		WillReturnRows(rows)

	got, err := b.List(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestPostgresBackendDeleteAndClearTenant(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM agent_sessions WHERE agent_id").
		WithArgs("agent-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM agent_sessions WHERE tenant_id").
		WithArgs("tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := b.Delete(context.Background(), "agent-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.ClearTenant(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("clear tenant: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresBackendActiveTenantsDeduplicates(t *testing.T) {
	db, mock, b := setupMockPostgresBackend(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tenant_id"}).AddRow("tenant-1").AddRow("tenant-2")
	mock.ExpectQuery("SELECT DISTINCT tenant_id").WillReturnRows(rows)

	tenants, err := b.ActiveTenants(context.Background())
	if err != nil {
		t.Fatalf("active tenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected 2 tenants, got %+v", tenants)
	}
}
