package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

func startPostgres(t *testing.T) (dsn string) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}

	testcontainers.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()

	var (
		c   testcontainers.Container
		err error
	)
	func() {
		// The provider panics when no docker socket can be found.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker unavailable: %v", r)
			}
		}()
		c, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:16-alpine",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "stockwatch",
					"POSTGRES_PASSWORD": "stockwatch",
					"POSTGRES_DB":       "stockwatch",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60 * time.Second),
			},
		})
	}()
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://stockwatch:stockwatch@%s:%s/stockwatch?sslmode=disable", host, port.Port())
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgres(t)
	runStoreSuite(t, func(t *testing.T) inventory.Store {
		ctx := context.Background()
		st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn, MaxConns: 2}, logx.Nop())
		require.NoError(t, err)
		// subtests share one database
		for _, table := range []string{"products", "channels"} {
			_, err := st.(*pgStore).pool.Exec(ctx, "DELETE FROM "+table)
			require.NoError(t, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}
