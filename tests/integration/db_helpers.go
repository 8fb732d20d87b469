//go:build integration

package integration

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/surveysync/internal/db"
)

const (
	postgisImage = "postgis/postgis:15-3.4-alpine"
	mysqlImage   = "mysql:8.0"
)

// TestDBInstance holds a running database container and the connector to it.
type TestDBInstance struct {
	Container testcontainers.Container
	Conn      *db.Connector
	Dialect   string
	Host      string
	Port      nat.Port
	Username  string
	Password  string
	DBName    string
}

func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Failed to convert port %s to int: %v", port.Port(), err)
	}
	return p
}

// startPostGISContainer starts PostgreSQL with the PostGIS extension enabled
// in the test database.
func startPostGISContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	instance := &TestDBInstance{Dialect: "postgres", Username: "surveyuser", Password: "surveypass", DBName: "surveydb"}
	req := testcontainers.ContainerRequest{
		Image:        postgisImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       instance.DBName,
			"POSTGRES_USER":     instance.Username,
			"POSTGRES_PASSWORD": instance.Password,
		},
		// The init scripts restart the server once.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(120 * time.Second),
	}
	startContainer(ctx, t, instance, req, "5432/tcp")
	return instance
}

func startMySQLContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	instance := &TestDBInstance{Dialect: "mysql", Username: "surveyuser", Password: "surveypass", DBName: "surveydb"}
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      instance.DBName,
			"MYSQL_USER":          instance.Username,
			"MYSQL_PASSWORD":      instance.Password,
			"MYSQL_ROOT_PASSWORD": "r00t-Survey-Pass",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").
			WithStartupTimeout(120 * time.Second),
	}
	startContainer(ctx, t, instance, req, "3306/tcp")
	return instance
}

func startContainer(ctx context.Context, t *testing.T, instance *TestDBInstance, req testcontainers.ContainerRequest, port nat.Port) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %s", instance.Dialect, err)
	}
	instance.Container = container

	instance.Host, err = container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get %s container host: %s", instance.Dialect, err)
	}
	instance.Port, err = container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for %s: %s", instance.Dialect, err)
	}

	dsn, err := db.BuildDSN(instance.Dialect, instance.Host, mustPortInt(t, instance.Port), instance.DBName, "disable", instance.Username, instance.Password)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to build DSN: %s", err)
	}

	// MySQL accepts TCP connections before the user is ready.
	var connErr error
	for i := 0; i < 10; i++ {
		instance.Conn, connErr = db.New(instance.Dialect, dsn, gormlogger.Discard, zaptest.NewLogger(t))
		if connErr == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			connErr = instance.Conn.Ping(pingCtx)
			cancel()
			if connErr == nil {
				break
			}
			_ = instance.Conn.Close()
		}
		t.Logf("%s connection attempt %d failed: %v. Retrying in 2s...", instance.Dialect, i+1, connErr)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			_ = container.Terminate(ctx)
			t.Fatalf("Context cancelled while retrying %s connection: %v", instance.Dialect, ctx.Err())
		}
	}
	if connErr != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to test %s instance after retries: %s", instance.Dialect, connErr)
	}
	t.Logf("%s container started. Host: %s, Port: %s", instance.Dialect, instance.Host, instance.Port.Port())
}

func stopContainer(ctx context.Context, t *testing.T, instance *TestDBInstance) {
	t.Helper()
	if instance == nil {
		return
	}
	if instance.Conn != nil {
		if err := instance.Conn.Close(); err != nil {
			t.Logf("Warning: error closing %s connection: %v", instance.Dialect, err)
		}
	}
	if instance.Container != nil {
		if err := instance.Container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate %s container: %s", instance.Dialect, err)
		}
	}
}
