// Package helpers provisions the shared infrastructure the integration
// tests run against: a single postgres container holding a migrated
// template database, from which each test clones its own database.
package helpers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ceres-media/ceres/internal/database"
)

const (
	SQLDialect          = "postgres"
	SQLConnectionString = "host=%s user=%s password=%s dbname=%s port=%s sslmode=disable"
	User                = "postgres"
	Password            = "postgres"
	MasterDBName        = "ceres_master"
)

var (
	ctx     = context.Background()
	manager = newDatabaseManager(MasterDBName)
)

// databaseManager templates a single 'master' database inside one shared
// postgres container so every test can use an isolated database without
// spawning a container each. On first use it will:
//   - spawn the container,
//   - migrate the master database (via an ephemeral manager connection),
//   - mark the master database as a template, and,
//   - serve requests to clone new databases from that template.
type databaseManager struct {
	*sync.Mutex
	masterDatabaseName string
	pgContainer        testcontainers.Container
	host               string
	port               string
	connection         *sql.DB
}

func newDatabaseManager(databaseName string) *databaseManager {
	return &databaseManager{
		Mutex:              &sync.Mutex{},
		masterDatabaseName: databaseName,
	}
}

// ProvisionDatabase clones the migrated master database under a name
// derived from the test and returns an open connection to the clone. The
// connection is closed automatically when the test finishes.
func ProvisionDatabase(t *testing.T) *sqlx.DB {
	databaseName := sanitizeDatabaseName(t.Name())
	manager.provisionDB(t, databaseName)

	dsn := fmt.Sprintf(SQLConnectionString, manager.host, User, Password, databaseName, manager.port)
	db, err := sqlx.Open(SQLDialect, dsn)
	if err != nil {
		t.Fatalf("failed to open connection to provisioned database '%s': %s", databaseName, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// TeardownDatabases stops the shared postgres container; intended for use
// from TestMain once the package's tests have run.
func TeardownDatabases() {
	manager.disconnect()
}

var invalidDatabaseNameChars = regexp.MustCompile(`[^a-z0-9_]+`)

func sanitizeDatabaseName(testName string) string {
	return invalidDatabaseNameChars.ReplaceAllString(strings.ToLower(testName), "_")
}

func (manager *databaseManager) provisionDB(t *testing.T, databaseName string) {
	manager.Lock()
	defer manager.Unlock()

	if databaseName == manager.masterDatabaseName {
		t.Fatalf("cannot provision database '%s': this is the master database", databaseName)
		return
	}

	if manager.connection == nil {
		t.Log("Database provisioning request received but manager not started yet. Initializing database management...")
		manager.connect(t)
		manager.migrateAndMarkMasterDB(t)
		t.Log("Database management initialised!")
	}

	_, err := manager.connection.Exec(fmt.Sprintf(`CREATE DATABASE "%s" TEMPLATE "%s"`, databaseName, manager.masterDatabaseName))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			t.Logf("Database '%s' already provisioned. Reusing database", databaseName)
			return
		}

		t.Fatalf("failed to provision database '%s' from template '%s': (%T) %s", databaseName, manager.masterDatabaseName, err, err)
	}
}

func (manager *databaseManager) connect(t *testing.T) {
	if manager.connection != nil {
		t.Log("WARNING: ignoring request to connect database manager, connection already open")
		return
	}

	if manager.pgContainer == nil {
		manager.spawnPostgres(t)
	} else if !manager.pgContainer.IsRunning() {
		t.Fatalf("failed to connect database manager, container exists but not running")
	}

	dsn := fmt.Sprintf(SQLConnectionString, manager.host, User, Password, manager.masterDatabaseName, manager.port)
	db, err := sql.Open(SQLDialect, dsn)
	if err != nil {
		t.Fatalf("failed to open postgres connection: %s", err)
	}

	for attempt := 1; ; attempt++ {
		if err := db.Ping(); err != nil {
			if attempt == 5 {
				t.Fatalf("all database connection attempts FAILED: %s", err)
			}

			t.Logf("DB connection attempt (%v/5) failed... Retrying in 3s", attempt)
			time.Sleep(3 * time.Second)
			continue
		}

		break
	}

	t.Log("Database connection established!")
	manager.connection = db
}

// migrateAndMarkMasterDB runs the embedded catalog migrations against the
// master database through a short-lived database manager, then marks it as
// a template. The migration connection must be closed before templating as
// postgres refuses to clone a database with open sessions.
func (manager *databaseManager) migrateAndMarkMasterDB(t *testing.T) {
	if manager.connection == nil {
		t.Fatalf("cannot mark master database as template: db connection not established")
		return
	}

	t.Log("Migrating master database...")
	migrator := database.New()
	if err := migrator.Connect(database.DatabaseConfig{
		Host:     manager.host,
		Port:     manager.port,
		User:     User,
		Password: Password,
		Name:     manager.masterDatabaseName,
	}); err != nil {
		t.Fatalf("failed to migrate master database: %s", err)
	}
	_ = migrator.GetSqlxDb().Close()

	t.Log("Master DB migrated, marking as template...")
	if _, err := manager.connection.Exec(fmt.Sprintf(`ALTER DATABASE "%s" WITH is_template TRUE`, manager.masterDatabaseName)); err != nil {
		t.Fatalf("failed to mark master database (%s) as template: %s", manager.masterDatabaseName, err)
	}
}

func (manager *databaseManager) spawnPostgres(t *testing.T) {
	if manager.pgContainer != nil && manager.pgContainer.IsRunning() {
		t.Log("WARNING: ignoring request to spawn PG container, container already running")
		return
	}

	postgresC, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(MasterDBName),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
		return
	}

	host, err := postgresC.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve container host: %s", err)
	}
	port, err := postgresC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve container port: %s", err)
	}

	manager.pgContainer = postgresC
	manager.host = host
	manager.port = port.Port()
}

func (manager *databaseManager) disconnect() {
	manager.Lock()
	defer manager.Unlock()

	if manager.connection != nil {
		_ = manager.connection.Close()
		manager.connection = nil
	}

	if manager.pgContainer != nil && manager.pgContainer.IsRunning() {
		timeout := 5 * time.Second
		if err := manager.pgContainer.Stop(ctx, &timeout); err != nil {
			fmt.Printf("WARNING: failed to stop Postgres container: %s\n", err)
		}
		manager.pgContainer = nil
	}
}
