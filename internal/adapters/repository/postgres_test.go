package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("enforcerd_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("failed to open db: %s", err)
	}

	schemaPath := filepath.Join(".", "schema.sql")
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("failed to read schema: %s", err)
	}

	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %s", err)
	}

	return db, func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}
}

func TestPostgresDatabase_ZoneAndKeyLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers test in -short mode")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPostgresDatabase(db)
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}

	policy := &domain.Policy{Name: "default", Keys: map[domain.KeyRole]domain.KeyRoleConfig{}}
	if err := tx.UpsertPolicy(ctx, policy); err != nil {
		t.Fatalf("UpsertPolicy failed: %v", err)
	}

	zone := domain.NewZone("", "example.", "default")
	if err := tx.CreateZone(ctx, zone); err != nil {
		t.Fatalf("CreateZone failed: %v", err)
	}
	if zone.ID == "" {
		t.Fatal("expected a generated zone id")
	}

	key := &domain.Key{ZoneID: zone.ID, Locator: "loc-1", Role: domain.RoleKSK, Algorithm: 8, Bits: 2048, Repository: "SoftHSM", Inception: 1000, Introducing: true, KeyTag: 12345}
	if err := tx.CreateKey(ctx, key); err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	state := domain.KeyState{KeyID: key.ID, Record: domain.RecordDNSKEY, State: domain.RUMOURED, LastChange: 1000, TTL: 3600}
	if err := tx.UpdateKeyState(ctx, state); err != nil {
		t.Fatalf("UpdateKeyState failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	tx, err = repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	defer tx.Rollback()

	fetched, err := tx.GetZoneByName(ctx, "example.")
	if err != nil {
		t.Fatalf("GetZoneByName failed: %v", err)
	}
	if fetched.ID != zone.ID {
		t.Fatalf("expected zone id %s, got %s", zone.ID, fetched.ID)
	}

	keys, err := tx.ListKeys(ctx, zone.ID)
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyTag != 12345 {
		t.Fatalf("unexpected keys: %+v", keys)
	}

	states, err := tx.GetKeyStates(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetKeyStates failed: %v", err)
	}
	if states[domain.RecordDNSKEY].State != domain.RUMOURED {
		t.Fatalf("expected DNSKEY state RUMOURED, got %s", states[domain.RecordDNSKEY].State)
	}

	if err := tx.EnqueueTask(ctx, ports.Task{ID: "enforce:example.", Target: "example.", Kind: "enforce", DueAt: 0}); err != nil {
		t.Fatalf("EnqueueTask failed: %v", err)
	}
	due, err := tx.ListDueTasks(ctx, 100)
	if err != nil {
		t.Fatalf("ListDueTasks failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected one due task, got %d", len(due))
	}
}
