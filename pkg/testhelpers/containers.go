package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/database"
)

// PostgresImage is the stock PostgreSQL image the integration tests run against.
const PostgresImage = "postgres:16-alpine"

// appRole is a non-superuser login so row level security is enforced in tests.
const (
	appRole     = "connect_app"
	appPassword = "app_password"
)

// TestDB holds a shared test database container and a superuser pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "ekaya_connect_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The official image restarts once after init, so the message appears twice.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/ekaya_connect_test?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}

// ConnectDB holds the application connection with migrations applied.
// It connects as a non-superuser role, so RLS policies apply exactly as in production.
type ConnectDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedConnectDB     *ConnectDB
	sharedConnectDBOnce sync.Once
	sharedConnectDBErr  error
)

// GetConnectDB returns a shared database for integration tests.
// The database has migrations applied and is reused across all tests.
func GetConnectDB(t *testing.T) *ConnectDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	// Ensure test container is running first
	testDB := GetTestDB(t)

	sharedConnectDBOnce.Do(func() {
		sharedConnectDB, sharedConnectDBErr = setupConnectDB(testDB)
	})

	if sharedConnectDBErr != nil {
		t.Fatalf("Failed to setup connect database: %v", sharedConnectDBErr)
	}

	return sharedConnectDB
}

func setupConnectDB(testDB *TestDB) (*ConnectDB, error) {
	ctx := context.Background()

	admin, err := database.NewConnection(ctx, &database.Config{URL: testDB.ConnStr, MaxConnections: 2}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect as superuser: %w", err)
	}
	defer admin.Close()

	sqlDB := admin.SQLDB()
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, MigrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	grants := []string{
		fmt.Sprintf(`DO $$ BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
				CREATE ROLE %s LOGIN PASSWORD '%s';
			END IF;
		END $$`, appRole, appRole, appPassword),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", appRole),
		fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s", appRole),
	}
	for _, stmt := range grants {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare application role: %w", err)
		}
	}

	host, err := testDB.Container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := testDB.Container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/ekaya_connect_test?sslmode=disable",
		appRole, appPassword, host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to application database: %w", err)
	}

	return &ConnectDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// CreateOrganisation inserts an organisation with a fresh UUID and returns its id.
func (e *ConnectDB) CreateOrganisation(t *testing.T, name string) (int64, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	scope, err := e.DB.WithoutTenant(ctx)
	if err != nil {
		t.Fatalf("failed to create scope for organisation setup: %v", err)
	}
	defer scope.Close()

	orgUUID := uuid.New()
	var id int64
	err = scope.Conn.QueryRow(ctx,
		`INSERT INTO connect_organisations (uuid, name) VALUES ($1, $2) RETURNING id`,
		orgUUID, name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create organisation: %v", err)
	}

	t.Cleanup(func() {
		cleanupScope, err := e.DB.WithoutTenant(context.Background())
		if err != nil {
			return
		}
		defer cleanupScope.Close()
		_, _ = cleanupScope.Conn.Exec(context.Background(), `DELETE FROM connect_organisations WHERE id = $1`, id)
	})

	return id, orgUUID
}

// TenantContext returns a context carrying a scope for organisationID.
func (e *ConnectDB) TenantContext(t *testing.T, organisationID int64) context.Context {
	t.Helper()

	scope, err := e.DB.WithTenant(context.Background(), organisationID)
	if err != nil {
		t.Fatalf("failed to create tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetTenantScope(context.Background(), scope)
}

// ServiceContext returns a context carrying a scope without tenant.
func (e *ConnectDB) ServiceContext(t *testing.T) context.Context {
	t.Helper()

	scope, err := e.DB.WithoutTenant(context.Background())
	if err != nil {
		t.Fatalf("failed to create scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetTenantScope(context.Background(), scope)
}
