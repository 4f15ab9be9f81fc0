package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	Schemas   *SchemaManager
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain to set up shared test infrastructure.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    if testing.Short() { os.Exit(m.Run()) }
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    ...
//	}
//
//	func TestSomething(t *testing.T) {
//	    db := suite.SetupSchema(t, ctx, "allocation", repository.Schema())
//	    // ... run tests against db
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		Schemas:   NewSchemaManager(db),
		Logger:    logger.New("test", "test"),
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// SetupSchema creates a migrated schema for one test and returns a
// database handle whose connections are pinned to it. The schema is
// dropped when the test ends.
func (s *IntegrationSuite) SetupSchema(t *testing.T, ctx context.Context, label string, migrations []string) *database.DB {
	t.Helper()

	schema, err := s.Schemas.CreateSchemaWithMigrations(ctx, label, migrations)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	dsn, err := s.Container.SchemaDSN(schema.Name)
	if err != nil {
		t.Fatalf("failed to build schema DSN: %v", err)
	}

	db, err := database.NewWithDSN(dsn, 2*time.Second, s.Logger)
	if err != nil {
		t.Fatalf("failed to connect to schema: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		if err := s.Schemas.DropSchema(context.Background(), schema); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema.Name, err)
		}
	})

	return db
}

// Cleanup cleans up all test resources
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	// The container is shared; TerminateContainer stops it.
	return s.Schemas.Cleanup(ctx)
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		_ = globalContainer.Terminate(ctx)
	}
}

// UnitTestSuite provides a base for unit tests with mocked dependencies
type UnitTestSuite struct {
	MockDB *MockDB
	t      *testing.T
}

// NewUnitTestSuite creates a new unit test suite
func NewUnitTestSuite(t *testing.T) *UnitTestSuite {
	return &UnitTestSuite{
		MockDB: NewMockDB(t),
		t:      t,
	}
}

// Cleanup verifies expectations and cleans up
func (s *UnitTestSuite) Cleanup() {
	s.MockDB.ExpectationsWereMet(s.t)
	_ = s.MockDB.Close()
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// IsCI returns true if running in CI environment
func IsCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}
