package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TestSchema is an isolated schema created for one test
type TestSchema struct {
	Name string
}

// SchemaManager creates and drops per-test schemas
type SchemaManager struct {
	db      *sqlx.DB
	schemas []TestSchema
	mu      sync.Mutex
}

// NewSchemaManager creates a new schema manager for tests
func NewSchemaManager(db *sqlx.DB) *SchemaManager {
	return &SchemaManager{db: db}
}

// CreateSchema creates an empty schema with a unique name derived from label.
func (sm *SchemaManager) CreateSchema(ctx context.Context, label string) (*TestSchema, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	slug := strings.ToLower(strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(label))
	name := fmt.Sprintf("test_%s_%s", slug, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
	if len(name) > 63 {
		name = name[len(name)-63:]
	}

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %q", name)); err != nil {
		return nil, fmt.Errorf("failed to create test schema: %w", err)
	}

	s := TestSchema{Name: name}
	sm.schemas = append(sm.schemas, s)
	return &s, nil
}

// CreateSchemaWithMigrations creates a schema and applies the migrations inside it
func (sm *SchemaManager) CreateSchemaWithMigrations(ctx context.Context, label string, migrations []string) (*TestSchema, error) {
	s, err := sm.CreateSchema(ctx, label)
	if err != nil {
		return nil, err
	}

	// A dedicated connection keeps search_path from leaking into the pool.
	conn, err := sm.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %q", s.Name)); err != nil {
		return nil, fmt.Errorf("failed to set search_path: %w", err)
	}
	for _, migration := range migrations {
		if _, err := conn.ExecContext(ctx, migration); err != nil {
			return nil, fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, "SET search_path TO public"); err != nil {
		return nil, fmt.Errorf("failed to reset search_path: %w", err)
	}

	return s, nil
}

// DropSchema removes a schema completely
func (sm *SchemaManager) DropSchema(ctx context.Context, s *TestSchema) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", s.Name)); err != nil {
		return fmt.Errorf("failed to drop test schema: %w", err)
	}

	for i, tracked := range sm.schemas {
		if tracked.Name == s.Name {
			sm.schemas = append(sm.schemas[:i], sm.schemas[i+1:]...)
			break
		}
	}
	return nil
}

// Cleanup drops all schemas created by this manager
func (sm *SchemaManager) Cleanup(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var lastErr error
	for _, s := range sm.schemas {
		if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", s.Name)); err != nil {
			lastErr = err
		}
	}
	sm.schemas = nil
	return lastErr
}
